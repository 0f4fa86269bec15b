// Package sirene retrieves establishment registry extracts. Géo-SIRENE
// publishes one gzipped CSV per department; the client downloads it to a
// scoped temporary file, filters rows on the commune identifier while
// decompressing, and removes the temporary artifact on every exit path.
package sirene

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public per-department extract location.
const DefaultBaseURL = "https://files.data.gouv.fr/geo-sirene/last/dep"

// Column names of interest in the extract. Headers are matched after
// lowercasing, which also covers older mixed-case dumps.
const (
	colCommune   = "codecommuneetablissement"
	colLongitude = "longitude"
	colLatitude  = "latitude"
)

// Row is one establishment row filtered to the requested commune. The
// coordinate fields stay textual here; the joiner decides whether they
// parse into a point.
type Row struct {
	Longitude string
	Latitude  string
	Attrs     map[string]string
}

// Config tunes the bulk-extract client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	TempDir string // defaults to the system temp directory
}

// Client downloads and filters department extracts.
type Client struct {
	baseURL string
	tempDir string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient builds a bulk-extract client with defaults applied. The
// download timeout defaults to two minutes; department files can be large.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: base,
		tempDir: cfg.TempDir,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

// FetchEstablishments downloads the department extract and returns the
// rows whose commune identifier equals insee. The temporary download is
// deleted before returning, on success and on failure alike.
func (c *Client) FetchEstablishments(ctx context.Context, department, insee string) ([]Row, error) {
	if strings.TrimSpace(department) == "" || strings.TrimSpace(insee) == "" {
		return nil, fmt.Errorf("department and insee are required")
	}

	url := fmt.Sprintf("%s/geo_siret_%s.csv.gz", c.baseURL, department)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sirene download for department %s: %w", department, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sirene returned status %d for department %s", resp.StatusCode, department)
	}

	tmp, err := os.CreateTemp(c.tempDir, "geo_siret_*.csv.gz")
	if err != nil {
		return nil, fmt.Errorf("sirene temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// The extract is a throwaway artifact; release it on every path.
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", tmpPath).Msg("failed to remove sirene temp file")
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("sirene download for department %s: %w", department, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("sirene temp file: %w", err)
	}

	rows, err := c.filterExtract(tmpPath, insee)
	if err != nil {
		return nil, fmt.Errorf("sirene extract for department %s: %w", department, err)
	}
	return rows, nil
}

func (c *Client) filterExtract(path, insee string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	communeIdx := -1
	for i, h := range header {
		if h == colCommune {
			communeIdx = i
			break
		}
	}
	if communeIdx < 0 {
		return nil, fmt.Errorf("extract has no %s column", colCommune)
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A single broken line does not invalidate the extract.
			c.log.Warn().Err(err).Msg("unreadable sirene row skipped")
			continue
		}
		if communeIdx >= len(record) || record[communeIdx] != insee {
			continue
		}

		row := Row{Attrs: make(map[string]string)}
		for i, v := range record {
			if i >= len(header) || v == "" {
				continue
			}
			switch header[i] {
			case colLongitude:
				row.Longitude = v
			case colLatitude:
				row.Latitude = v
			default:
				row.Attrs[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
