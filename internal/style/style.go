// Package style maps each dataset's semantic role to its rendering rule.
// The default table reproduces the neutral basemap palette: pale fills,
// thin grey outlines, white roads, small dark establishment markers.
package style

import (
	"fond_de_plan/core-go/internal/layer"
)

// Table is the role → rule mapping. It is a pure lookup; applying it
// never mutates the table.
type Table map[layer.Role]layer.StyleRule

// DefaultTable returns the built-in basemap palette.
func DefaultTable() Table {
	return Table{
		layer.RoleCommuneBoundary: {
			FillColor:   "transparent",
			StrokeColor: "#000000",
			StrokeWidth: 0.5,
		},
		layer.RoleParcels: {
			FillColor:   "transparent",
			StrokeColor: "#666666",
			StrokeWidth: 0.2,
		},
		layer.RoleWaterSurface: {
			FillColor: "#aad3df",
		},
		layer.RoleRivers: {
			StrokeColor: "#6baed6",
			StrokeWidth: 0.8,
		},
		layer.RoleVegetation: {
			FillColor: "#c8e6c4",
		},
		layer.RoleRailways: {
			StrokeColor: "#666666",
			StrokeWidth: 0.7,
			DashPattern: "5;3",
		},
		layer.RoleRoads: {
			StrokeColor: "#ffffff",
			StrokeWidth: 0.5,
			WidthByAttr: &layer.WidthClassification{
				// BD TOPO road sections carry a "nature" class.
				Attribute: "nature",
				Widths: map[string]float64{
					"Type autoroutier":    1.2,
					"Route à 2 chaussées": 1.0,
					"Route à 1 chaussée":  0.5,
					"Chemin":              0.3,
					"Sentier":             0.3,
				},
			},
		},
		layer.RoleBuildings: {
			FillColor: "#c0c0c0",
		},
		layer.RoleEstablishments: {
			FillColor: "#333333",
			PointSize: 1.5,
		},
	}
}

// Apply attaches a rule to every entry of the composition according to
// its source's role. Attribute-driven classification is kept only when at
// least one record actually carries the classifying attribute; otherwise
// the entry falls back to the uniform rule, which is defined behavior,
// not an error. Roles without a rule get the zero rule.
func (t Table) Apply(comp *layer.Composition) {
	for i := range comp.Entries {
		rule := t[comp.Entries[i].Spec.Role]
		if rule.WidthByAttr != nil && !datasetHasAttr(comp.Entries[i].Dataset, rule.WidthByAttr.Attribute) {
			uniform := rule
			uniform.WidthByAttr = nil
			rule = uniform
		}
		attached := rule
		comp.Entries[i].Style = &attached
	}
}

// StrokeWidthFor resolves the effective stroke width for one record under
// a rule, honoring the classification when the record carries the
// attribute and a class matches.
func StrokeWidthFor(rule layer.StyleRule, rec layer.Record) float64 {
	if rule.WidthByAttr == nil {
		return rule.StrokeWidth
	}
	v, ok := rec.Attr(rule.WidthByAttr.Attribute)
	if !ok {
		return rule.StrokeWidth
	}
	if w, ok := rule.WidthByAttr.Widths[v]; ok {
		return w
	}
	return rule.StrokeWidth
}

func datasetHasAttr(ds layer.Dataset, name string) bool {
	for _, rec := range ds.Records {
		if _, ok := rec.Attr(name); ok {
			return true
		}
	}
	return false
}
