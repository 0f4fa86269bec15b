package basemap

import (
	"fond_de_plan/core-go/internal/layer"
)

// Assemble folds the normalized datasets into a composition. Entry order
// is exactly the catalogue order — it never depends on the order fetches
// completed in, and empty datasets keep their slot so the finished
// basemap always has one entry per configured source.
func Assemble(specs []layer.SourceSpec, datasets []layer.Dataset, communeName string) layer.Composition {
	comp := layer.Composition{
		GroupName: layer.SanitizeGroupName(communeName),
		Entries:   make([]layer.Entry, 0, len(specs)),
	}
	for i, spec := range specs {
		var ds layer.Dataset
		if i < len(datasets) {
			ds = datasets[i]
		}
		comp.Entries = append(comp.Entries, layer.Entry{
			Spec:    spec,
			Name:    spec.DisplayName,
			Dataset: ds,
		})
	}
	return comp
}
