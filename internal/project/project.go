// Package project persists a finished composition to disk as a project
// directory: one GeoJSON file per layer plus a manifest that records the
// layer order and styles.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/layer"
)

// ManifestName is the fixed name of the project manifest inside the
// project directory.
const ManifestName = "project.json"

// workingCRS is written into the manifest; every persisted coordinate is
// in this system.
const workingCRS = "EPSG:2154"

// Manifest describes a saved project. Layer order in the manifest is
// display order, bottom to top, exactly as assembled.
type Manifest struct {
	Group       string          `json:"group"`
	CRS         string          `json:"crs"`
	GeneratedAt time.Time       `json:"generated_at"`
	Layers      []ManifestLayer `json:"layers"`
}

// ManifestLayer is one layer's entry in the manifest.
type ManifestLayer struct {
	SourceID string           `json:"source_id"`
	Name     string           `json:"name"`
	File     string           `json:"file"`
	Features int              `json:"features"`
	Style    *layer.StyleRule `json:"style,omitempty"`
}

// Writer saves compositions under a root directory. It satisfies the
// pipeline's save collaborator.
type Writer struct {
	log  zerolog.Logger
	root string
	now  func() time.Time
}

// NewWriter builds a writer rooted at dir. The directory is created on
// first save.
func NewWriter(log zerolog.Logger, dir string) *Writer {
	return &Writer{log: log, root: dir, now: time.Now}
}

// Save writes the composition as a project directory named after
// defaultName and returns its path. An existing project of the same name
// is replaced.
func (w *Writer) Save(_ context.Context, comp layer.Composition, defaultName string) (string, error) {
	if defaultName == "" {
		return "", fmt.Errorf("project name is empty")
	}

	dir := filepath.Join(w.root, defaultName)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear project dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}

	manifest := Manifest{
		Group:       comp.GroupName,
		CRS:         workingCRS,
		GeneratedAt: w.now().UTC(),
		Layers:      make([]ManifestLayer, 0, len(comp.Entries)),
	}

	for i, entry := range comp.Entries {
		file := fmt.Sprintf("%02d_%s.geojson", i, fileLabel(entry.Name))
		if err := writeLayer(filepath.Join(dir, file), entry); err != nil {
			return "", fmt.Errorf("layer %s: %w", entry.Spec.ID, err)
		}
		manifest.Layers = append(manifest.Layers, ManifestLayer{
			SourceID: entry.Spec.ID,
			Name:     entry.Name,
			File:     file,
			Features: entry.Dataset.Len(),
			Style:    entry.Style,
		})
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), raw, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	w.log.Info().Str("dir", dir).Int("layers", len(manifest.Layers)).Msg("project saved")
	return dir, nil
}

type geoJSONFeature struct {
	Type       string            `json:"type"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties map[string]string `json:"properties"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

func writeLayer(path string, entry layer.Entry) error {
	fc := geoJSONCollection{
		Type:     "FeatureCollection",
		Features: make([]geoJSONFeature, 0, entry.Dataset.Len()),
	}
	for _, rec := range entry.Dataset.Records {
		g, err := json.Marshal(rec.Geometry)
		if err != nil {
			return fmt.Errorf("encode geometry: %w", err)
		}
		fc.Features = append(fc.Features, geoJSONFeature{
			Type:       "Feature",
			Geometry:   g,
			Properties: rec.Attrs,
		})
	}
	raw, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// fileLabel lowercases a display name and strips everything a filesystem
// might object to.
func fileLabel(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '\'':
			b.WriteByte('_')
		}
	}
	label := strings.Trim(b.String(), "_")
	for strings.Contains(label, "__") {
		label = strings.ReplaceAll(label, "__", "_")
	}
	if label == "" {
		return "layer"
	}
	return label
}
