// Package geoapi resolves a free-text commune name into boundary
// candidates using the French national address/geography API
// (geo.api.gouv.fr). Search is partial-match; the contour polygon comes
// back as GeoJSON in EPSG:4326.
package geoapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/crs"
)

// DefaultBaseURL is the public commune search endpoint.
const DefaultBaseURL = "https://geo.api.gouv.fr"

// SourceSRID is the CRS the API returns contours in.
const SourceSRID = crs.WGS84

// ErrNotFound is returned when the search matches no commune at all.
// Boundary resolution is the one fatal stage of the pipeline, so callers
// halt on it rather than degrade.
var ErrNotFound = errors.New("no commune matches the search")

// Candidate is one boundary candidate: a commune name, its INSEE code,
// the derived department code and the contour polygon in EPSG:4326.
// Immutable once produced.
type Candidate struct {
	Name       string
	INSEECode  string
	Department string
	Contour    geom.Geometry
}

// Config tunes the search client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client queries the commune search endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient builds a search client with defaults applied.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: base,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

type communeFeature struct {
	Properties struct {
		Nom  string `json:"nom"`
		Code string `json:"code"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

type communeResponse struct {
	Features []communeFeature `json:"features"`
}

// SearchCommunes runs a partial-match name search and returns the
// candidates in API order. Zero matches yields ErrNotFound.
func (c *Client) SearchCommunes(ctx context.Context, name string) ([]Candidate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("commune name is empty")
	}

	q := url.Values{}
	q.Set("nom", name)
	q.Set("fields", "nom,code,contour")
	q.Set("format", "geojson")
	q.Set("geometry", "contour")

	reqURL := c.baseURL + "/communes?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commune search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("commune search returned status %d", resp.StatusCode)
	}

	var body communeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("commune search response: %w", err)
	}

	if len(body.Features) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	out := make([]Candidate, 0, len(body.Features))
	for _, f := range body.Features {
		if f.Properties.Code == "" {
			c.log.Warn().Str("name", f.Properties.Nom).Msg("candidate without INSEE code skipped")
			continue
		}
		contour, err := geom.UnmarshalGeoJSON(f.Geometry)
		if err != nil {
			c.log.Warn().Err(err).Str("insee", f.Properties.Code).Msg("candidate with unreadable contour skipped")
			continue
		}
		out = append(out, Candidate{
			Name:       f.Properties.Nom,
			INSEECode:  f.Properties.Code,
			Department: DepartmentCode(f.Properties.Code),
			Contour:    contour,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return out, nil
}

// DepartmentCode derives the department code from an INSEE commune
// identifier. Corsican codes (2A/2B) are preserved verbatim and overseas
// departments use three digits; everything else is the two-digit prefix.
func DepartmentCode(insee string) string {
	switch {
	case strings.HasPrefix(insee, "2A"):
		return "2A"
	case strings.HasPrefix(insee, "2B"):
		return "2B"
	case strings.HasPrefix(insee, "97") && len(insee) >= 3:
		return insee[:3]
	case len(insee) >= 2:
		return insee[:2]
	default:
		return insee
	}
}
