package basemap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fond_de_plan/core-go/internal/layer"
)

// DefaultSources is the built-in source catalogue. List order is display
// order, bottom to top: the administrative boundary sits at the bottom of
// the stack and the establishment points on top.
func DefaultSources() []layer.SourceSpec {
	return []layer.SourceSpec{
		{
			ID:          "commune-boundary",
			Role:        layer.RoleCommuneBoundary,
			Kind:        layer.KindFeatureService,
			TypeName:    "ADMINEXPRESS-COG-CARTO.LATEST:commune",
			DisplayName: "Commune (limite)",
		},
		{
			ID:          "parcels",
			Role:        layer.RoleParcels,
			Kind:        layer.KindFeatureService,
			TypeName:    "CADASTRALPARCELS.PARCELLAIRE_EXPRESS:parcelle",
			DisplayName: "Parcelles cadastrales",
		},
		{
			ID:          "water-surface",
			Role:        layer.RoleWaterSurface,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:surface_hydrographique",
			DisplayName: "Hydrographie - surface",
		},
		{
			ID:          "rivers",
			Role:        layer.RoleRivers,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:cours_d_eau",
			DisplayName: "Hydrographie - cours d'eau",
		},
		{
			ID:          "vegetation",
			Role:        layer.RoleVegetation,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:zone_de_vegetation",
			DisplayName: "Végétation",
		},
		{
			ID:          "railways",
			Role:        layer.RoleRailways,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:voie_ferree",
			DisplayName: "Voie ferrée",
		},
		{
			ID:          "roads",
			Role:        layer.RoleRoads,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:troncon_de_route",
			DisplayName: "Voirie",
		},
		{
			ID:          "buildings",
			Role:        layer.RoleBuildings,
			Kind:        layer.KindFeatureService,
			TypeName:    "BDTOPO_V3:batiment",
			DisplayName: "Bâti",
		},
		{
			ID:          "establishments",
			Role:        layer.RoleEstablishments,
			Kind:        layer.KindBulkExtract,
			DisplayName: "Établissements SIRENE",
		},
	}
}

// Catalog is the YAML-overridable part of the pipeline configuration.
type Catalog struct {
	Sources []layer.SourceSpec             `yaml:"sources"`
	Styles  map[layer.Role]layer.StyleRule `yaml:"styles,omitempty"`
}

// LoadCatalog reads a source catalogue from a YAML file and validates it.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	if err := ValidateSources(cat.Sources); err != nil {
		return Catalog{}, fmt.Errorf("catalogue %s: %w", path, err)
	}
	return cat, nil
}

// ValidateSources rejects catalogues the pipeline cannot run.
func ValidateSources(specs []layer.SourceSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no sources configured")
	}
	seen := make(map[string]struct{}, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return fmt.Errorf("source %d has no id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = struct{}{}

		switch s.Kind {
		case layer.KindFeatureService:
			if s.TypeName == "" {
				return fmt.Errorf("source %q: feature-service sources need a typename", s.ID)
			}
		case layer.KindBulkExtract:
			if s.TypeName != "" {
				return fmt.Errorf("source %q: bulk-extract sources take no typename", s.ID)
			}
		default:
			return fmt.Errorf("source %q: unknown kind %q", s.ID, s.Kind)
		}
	}
	return nil
}
