package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/basemap"
	"fond_de_plan/core-go/internal/db"
	"fond_de_plan/core-go/internal/geoapi"
	"fond_de_plan/core-go/internal/metrics"
)

// RunFunc executes one basemap assembly. insee is optional and narrows
// an ambiguous name to one commune. The server hands each request its
// own pipeline, so concurrent requests never share run state.
type RunFunc func(ctx context.Context, name, insee string) (*basemap.Report, error)

// RunStore is the slice of the query layer the handler needs.
type RunStore interface {
	InsertBasemapRun(ctx context.Context, arg db.InsertBasemapRunParams) (db.BasemapRun, error)
	GetBasemapRun(ctx context.Context, id string) (db.BasemapRun, error)
	ListBasemapRuns(ctx context.Context, arg db.ListBasemapRunsParams) ([]db.BasemapRun, error)
}

type Handler struct {
	log     zerolog.Logger
	pool    *db.Pool
	runs    RunStore
	run     RunFunc
	metrics *metrics.Metrics
}

func NewHandler(log zerolog.Logger, pool *db.Pool, run RunFunc, m *metrics.Metrics) *Handler {
	h := &Handler{log: log, pool: pool, run: run, metrics: m}
	if pool != nil {
		if q := pool.Queries(); q != nil {
			h.runs = q
		}
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/basemaps", func(r chi.Router) {
				r.Post("/", h.handleCreateBasemap)
				r.Get("/", h.handleListRuns)
				r.Get("/{id}", h.handleGetRun)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// The database is optional; only a configured-but-unreachable one
	// blocks readiness.
	if h.pool == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "history": "disabled"})
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type basemapCreate struct {
	Name  string `json:"name"`
	INSEE string `json:"insee,omitempty"`
}

type communeSummary struct {
	Name       string `json:"name"`
	INSEECode  string `json:"insee_code"`
	Department string `json:"department"`
}

type runSummary struct {
	Commune    communeSummary          `json:"commune"`
	State      string                  `json:"state"`
	SavedTo    string                  `json:"saved_to,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
	Outcomes   []basemap.SourceOutcome `json:"outcomes"`
}

type runRecord struct {
	ID          string           `json:"id"`
	CommuneName string           `json:"commune_name"`
	INSEECode   string           `json:"insee_code"`
	Department  string           `json:"department"`
	State       string           `json:"state"`
	SavedTo     *string          `json:"saved_to,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	Outcomes    []map[string]any `json:"outcomes"`
	CreatedAt   time.Time        `json:"created_at"`
}

func toRunRecord(r db.BasemapRun) runRecord {
	return runRecord{
		ID:          r.ID,
		CommuneName: r.CommuneName,
		INSEECode:   r.INSEECode,
		Department:  r.Department,
		State:       r.State,
		SavedTo:     r.SavedTo,
		DurationMs:  r.DurationMs,
		Outcomes:    r.Outcomes,
		CreatedAt:   r.CreatedAt,
	}
}

func candidateSummaries(cands []geoapi.Candidate) []communeSummary {
	out := make([]communeSummary, 0, len(cands))
	for _, c := range cands {
		out = append(out, communeSummary{Name: c.Name, INSEECode: c.INSEECode, Department: c.Department})
	}
	return out
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

func (h *Handler) handleCreateBasemap(w http.ResponseWriter, r *http.Request) {
	var req basemapCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "name is required", nil)
		return
	}

	report, err := h.run(r.Context(), req.Name, req.INSEE)
	if err != nil {
		var ambiguous *basemap.AmbiguousError
		switch {
		case errors.As(err, &ambiguous):
			h.writeError(w, http.StatusConflict, "ambiguous_name", "several communes match; retry with the insee field set",
				map[string]any{"candidates": candidateSummaries(ambiguous.Candidates)})
		case errors.Is(err, geoapi.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "no commune matches the search", map[string]any{"name": req.Name})
		default:
			h.log.Error().Err(err).Str("name", req.Name).Msg("basemap run failed")
			h.writeError(w, http.StatusBadGateway, "pipeline_failed", "basemap assembly failed", map[string]any{"error": err.Error()})
		}
		return
	}

	h.recordRun(r.Context(), report)

	h.writeJSON(w, http.StatusCreated, runSummary{
		Commune: communeSummary{
			Name:       report.Commune.Name,
			INSEECode:  report.Commune.INSEECode,
			Department: report.Commune.Department,
		},
		State:      string(report.State),
		SavedTo:    report.SavedTo,
		DurationMs: report.Duration.Milliseconds(),
		Outcomes:   report.Outcomes,
	})
}

// recordRun persists the run when history is configured. Persistence
// failures are logged, never surfaced to the client.
func (h *Handler) recordRun(ctx context.Context, report *basemap.Report) {
	if h.runs == nil {
		return
	}

	var savedTo *string
	if report.SavedTo != "" {
		savedTo = &report.SavedTo
	}
	outcomes := make([]map[string]any, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		m := map[string]any{
			"source_id":    o.SourceID,
			"display_name": o.DisplayName,
			"status":       o.Status,
			"features":     o.Features,
		}
		if o.Err != "" {
			m["error"] = o.Err
		}
		outcomes = append(outcomes, m)
	}

	if _, err := h.runs.InsertBasemapRun(ctx, db.InsertBasemapRunParams{
		CommuneName: report.Commune.Name,
		INSEECode:   report.Commune.INSEECode,
		Department:  report.Commune.Department,
		State:       string(report.State),
		SavedTo:     savedTo,
		DurationMs:  report.Duration.Milliseconds(),
		Outcomes:    outcomes,
	}); err != nil {
		h.log.Error().Err(err).Str("insee", report.Commune.INSEECode).Msg("record basemap run failed")
	}
}

func (h *Handler) ensureRuns(w http.ResponseWriter) bool {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "run history not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuns(w) {
		return
	}

	rows, err := h.runs.ListBasemapRuns(r.Context(), db.ListBasemapRunsParams{Limit: 50})
	if err != nil {
		h.log.Error().Err(err).Msg("list basemap runs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list runs", nil)
		return
	}

	resp := make([]runRecord, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, toRunRecord(row))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureRuns(w) {
		return
	}

	row, err := h.runs.GetBasemapRun(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			h.writeError(w, http.StatusNotFound, "not_found", "run not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "run id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get basemap run failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch run", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toRunRecord(row))
}
