// Package geometry normalizes fetched datasets into the working CRS and
// clips them to the exact commune boundary.
package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/crs"
	"fond_de_plan/core-go/internal/layer"
)

// Boundary is the selected commune polygon in the working CRS plus its
// derived bounding box. It is computed once per run and shared read-only
// by every downstream stage.
type Boundary struct {
	Polygon geom.Geometry
	BBox    crs.Bounds
}

// NewBoundary reprojects the source polygon into the working CRS and
// derives its bounding box.
func NewBoundary(polygon geom.Geometry, from crs.SRID) (Boundary, error) {
	projected, err := Reproject(polygon, from, crs.Working)
	if err != nil {
		return Boundary{}, fmt.Errorf("reproject boundary: %w", err)
	}
	if projected.IsEmpty() {
		return Boundary{}, fmt.Errorf("boundary polygon is empty")
	}
	return Boundary{Polygon: projected, BBox: BoundsOf(projected)}, nil
}

// Reproject converts every coordinate of g from one CRS to another. The
// geometry is returned unchanged when the systems match.
func Reproject(g geom.Geometry, from, to crs.SRID) (geom.Geometry, error) {
	if from == to {
		return g, nil
	}
	xform, err := crs.Transform(from, to)
	if err != nil {
		return geom.Geometry{}, err
	}
	return g.TransformXY(func(xy geom.XY) geom.XY {
		x, y := xform(xy.X, xy.Y)
		return geom.XY{X: x, Y: y}
	}), nil
}

// BoundsOf computes the axis-aligned bounding box over every coordinate
// of g. An empty geometry yields zero bounds.
func BoundsOf(g geom.Geometry) crs.Bounds {
	var b crs.Bounds
	seq := g.DumpCoordinates()
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		b.Extend(xy.X, xy.Y)
	}
	return b
}

// Normalizer reprojects and clips datasets against one working boundary.
type Normalizer struct {
	log      zerolog.Logger
	boundary Boundary
}

// NewNormalizer builds a normalizer for the given boundary.
func NewNormalizer(log zerolog.Logger, boundary Boundary) *Normalizer {
	return &Normalizer{log: log, boundary: boundary}
}

// Boundary returns the working boundary the normalizer clips against.
func (n *Normalizer) Boundary() Boundary { return n.boundary }

// Normalize reprojects every record of ds from the source CRS to the
// working CRS and clips it to the boundary polygon. Records fully outside
// the boundary are dropped; records straddling it are truncated to the
// intersection. A record whose geometry cannot be processed is dropped
// with a warning rather than failing the dataset.
func (n *Normalizer) Normalize(ds layer.Dataset, from crs.SRID) layer.Dataset {
	if ds.Empty() {
		// No-op fast path: empty in, empty out.
		return layer.Dataset{}
	}

	out := layer.Dataset{Records: make([]layer.Record, 0, len(ds.Records))}
	for _, rec := range ds.Records {
		g, err := Reproject(rec.Geometry, from, crs.Working)
		if err != nil {
			n.log.Warn().Err(err).Msg("record dropped: reprojection failed")
			continue
		}
		clipped, err := geom.Intersection(g, n.boundary.Polygon)
		if err != nil {
			n.log.Warn().Err(err).Msg("record dropped: clip failed")
			continue
		}
		if clipped.IsEmpty() {
			continue
		}
		out.Records = append(out.Records, layer.Record{Geometry: clipped, Attrs: rec.Attrs})
	}
	return out
}
