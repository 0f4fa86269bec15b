package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fond_de_plan/core-go/internal/basemap"
	"fond_de_plan/core-go/internal/geoapi"
	"fond_de_plan/core-go/internal/httpapi"
	"fond_de_plan/core-go/internal/layer"
	"fond_de_plan/core-go/internal/sirene"
	"fond_de_plan/core-go/internal/style"
	"fond_de_plan/core-go/internal/wfs"
)

var (
	// Global flags
	logLevel    string
	geoURL      string
	wfsURL      string
	sireneURL   string
	catalogPath string
	workers     int
)

var rootCmd = &cobra.Command{
	Use:   "basemap",
	Short: "Assemble commune basemaps from French open geodata",
	Long: `basemap resolves a commune by name, fetches its reference layers
(cadastre, hydrography, vegetation, transport, buildings) from the
Géoplateforme feature service and the establishment registry from the
Géo-SIRENE extracts, clips everything to the commune boundary in
Lambert-93 and writes a styled, ordered project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (trace..panic)")
	rootCmd.PersistentFlags().StringVar(&geoURL, "geo-url", envOr("GEO_API_URL", ""), "commune search endpoint (default "+geoapi.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&wfsURL, "wfs-url", envOr("WFS_URL", ""), "feature service endpoint (default "+wfs.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&sireneURL, "sirene-url", envOr("SIRENE_URL", ""), "establishment extract location (default "+sirene.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", envOr("SOURCE_CATALOG", ""), "YAML source catalogue overriding the built-in one")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "concurrent source fetches")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() zerolog.Logger {
	return httpapi.NewLogger(logLevel)
}

// clientDeps wires the three external clients. Selector, Saver and
// Progress are left for the command to fill in.
func clientDeps(log zerolog.Logger) basemap.Deps {
	return basemap.Deps{
		Resolver: geoapi.NewClient(geoapi.Config{BaseURL: geoURL}, log),
		Features: wfs.NewClient(wfs.Config{BaseURL: wfsURL}, log),
		Extracts: sirene.NewClient(sirene.Config{BaseURL: sireneURL}, log),
	}
}

// loadSources resolves the source catalogue and style table, applying
// any YAML overrides on top of the built-ins.
func loadSources() ([]layer.SourceSpec, style.Table, error) {
	styles := style.DefaultTable()
	if catalogPath == "" {
		return basemap.DefaultSources(), styles, nil
	}

	cat, err := basemap.LoadCatalog(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	for role, rule := range cat.Styles {
		styles[role] = rule
	}
	return cat.Sources, styles, nil
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
