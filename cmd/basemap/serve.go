package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fond_de_plan/core-go/internal/basemap"
	"fond_de_plan/core-go/internal/db"
	"fond_de_plan/core-go/internal/geoapi"
	"fond_de_plan/core-go/internal/httpapi"
	"fond_de_plan/core-go/internal/metrics"
	"fond_de_plan/core-go/internal/project"
)

var (
	serveAddr string
	serveOut  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the basemap assembly HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", envOr("HTTP_ADDR", ":8081"), "listen address")
	serveCmd.Flags().StringVar(&serveOut, "out", envOr("PROJECT_DIR", "./projects"), "directory to write projects into")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, styles, err := loadSources()
	if err != nil {
		return err
	}

	var pool *db.Pool
	if databaseURL := envOr("DATABASE_URL", ""); databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	m := metrics.New()
	writer := project.NewWriter(logger, serveOut)

	// Each request gets a fresh pipeline; runs are ambiguity-intolerant
	// here, so an AmbiguousError surfaces as a 409 with the candidates
	// unless the request narrows the search with an INSEE code.
	run := func(ctx context.Context, name, insee string) (*basemap.Report, error) {
		deps := clientDeps(logger)
		deps.Saver = writer
		if insee != "" {
			deps.Resolver = &inseeResolver{inner: deps.Resolver, insee: insee}
		}
		p := basemap.New(logger, deps, basemap.Options{
			Sources:      sources,
			Styles:       styles,
			FetchWorkers: workers,
		}, m)
		return p.Run(ctx, name)
	}

	h := httpapi.NewHandler(logger, pool, run, m)
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serveAddr).Msg("basemap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
	return nil
}

// inseeResolver narrows a name search to the candidate carrying the
// requested INSEE code. A mismatch is indistinguishable from an unknown
// commune for the caller.
type inseeResolver struct {
	inner basemap.BoundaryResolver
	insee string
}

func (r *inseeResolver) SearchCommunes(ctx context.Context, name string) ([]geoapi.Candidate, error) {
	candidates, err := r.inner.SearchCommunes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.INSEECode == r.insee {
			return []geoapi.Candidate{c}, nil
		}
	}
	return nil, geoapi.ErrNotFound
}
