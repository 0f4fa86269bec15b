// Package wfs is the feature-service client for the IGN Géoplateforme
// WFS endpoint. Every request carries a mandatory bounding-box filter so
// response size stays bounded regardless of commune size.
package wfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/crs"
	"fond_de_plan/core-go/internal/layer"
)

// DefaultBaseURL is the public Géoplateforme WFS endpoint.
const DefaultBaseURL = "https://data.geopf.fr/wfs/ows"

// Config tunes the WFS client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Count caps the number of features per request; 0 means no cap.
	Count int
}

// Client issues WFS 2.0.0 GetFeature requests with GeoJSON output.
type Client struct {
	baseURL string
	count   int
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient builds a WFS client with defaults applied.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	count := cfg.Count
	if count < 0 {
		count = 0
	}
	return &Client{
		baseURL: base,
		count:   count,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

type wfsFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type wfsResponse struct {
	Features []wfsFeature `json:"features"`
}

// GetFeatures fetches one feature type restricted to bbox, both expressed
// in the working CRS. An empty result is a valid dataset, not an error.
func (c *Client) GetFeatures(ctx context.Context, typeName string, bbox crs.Bounds) (layer.Dataset, error) {
	if strings.TrimSpace(typeName) == "" {
		return layer.Dataset{}, fmt.Errorf("wfs type name is empty")
	}
	if !bbox.Valid() {
		// The bbox filter is mandatory; never fetch a source unfiltered.
		return layer.Dataset{}, fmt.Errorf("refusing unbounded request for %s", typeName)
	}

	srs := crs.Working.String()
	q := url.Values{}
	q.Set("SERVICE", "WFS")
	q.Set("VERSION", "2.0.0")
	q.Set("REQUEST", "GetFeature")
	q.Set("TYPENAME", typeName)
	q.Set("SRSNAME", srs)
	q.Set("BBOX", fmt.Sprintf("%f,%f,%f,%f,%s", bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY, srs))
	q.Set("OUTPUTFORMAT", "application/json")
	if c.count > 0 {
		q.Set("COUNT", strconv.Itoa(c.count))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return layer.Dataset{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return layer.Dataset{}, fmt.Errorf("wfs request for %s: %w", typeName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return layer.Dataset{}, fmt.Errorf("wfs returned status %d for %s", resp.StatusCode, typeName)
	}

	var body wfsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return layer.Dataset{}, fmt.Errorf("wfs response for %s: %w", typeName, err)
	}

	ds := layer.Dataset{Records: make([]layer.Record, 0, len(body.Features))}
	for _, f := range body.Features {
		g, err := geom.UnmarshalGeoJSON(f.Geometry)
		if err != nil {
			c.log.Warn().Err(err).Str("typename", typeName).Msg("feature with unreadable geometry skipped")
			continue
		}
		ds.Records = append(ds.Records, layer.Record{
			Geometry: g,
			Attrs:    stringifyProperties(f.Properties),
		})
	}
	return ds, nil
}

// stringifyProperties converts the loosely-typed GeoJSON properties into
// the typed attribute map; nothing loosely typed crosses this boundary.
func stringifyProperties(props map[string]any) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
