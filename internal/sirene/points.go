package sirene

import (
	"strconv"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/crs"
	"fond_de_plan/core-go/internal/layer"
)

// SourceSRID is the CRS of the extract's coordinate columns.
const SourceSRID = crs.WGS84

// BuildPoints turns filtered registry rows into a point dataset. Rows
// with missing or unparseable coordinates are skipped with a warning and
// do not stop processing of the remaining rows.
func BuildPoints(rows []Row, log zerolog.Logger) layer.Dataset {
	ds := layer.Dataset{Records: make([]layer.Record, 0, len(rows))}
	for _, row := range rows {
		lon, lonErr := strconv.ParseFloat(row.Longitude, 64)
		lat, latErr := strconv.ParseFloat(row.Latitude, 64)
		if row.Longitude == "" || row.Latitude == "" || lonErr != nil || latErr != nil {
			log.Warn().
				Str("longitude", row.Longitude).
				Str("latitude", row.Latitude).
				Msg("establishment without usable coordinates skipped")
			continue
		}

		pt := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lon, Y: lat}})
		ds.Records = append(ds.Records, layer.Record{
			Geometry: pt.AsGeometry(),
			Attrs:    row.Attrs,
		})
	}
	return ds
}
