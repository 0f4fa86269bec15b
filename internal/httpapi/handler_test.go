package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/basemap"
	"fond_de_plan/core-go/internal/db"
	"fond_de_plan/core-go/internal/geoapi"
)

type fakeRunStore struct {
	insertFn func(ctx context.Context, arg db.InsertBasemapRunParams) (db.BasemapRun, error)
	getFn    func(ctx context.Context, id string) (db.BasemapRun, error)
	listFn   func(ctx context.Context, arg db.ListBasemapRunsParams) ([]db.BasemapRun, error)
}

func (f *fakeRunStore) InsertBasemapRun(ctx context.Context, arg db.InsertBasemapRunParams) (db.BasemapRun, error) {
	if f.insertFn == nil {
		return db.BasemapRun{}, nil
	}
	return f.insertFn(ctx, arg)
}

func (f *fakeRunStore) GetBasemapRun(ctx context.Context, id string) (db.BasemapRun, error) {
	if f.getFn == nil {
		return db.BasemapRun{}, pgx.ErrNoRows
	}
	return f.getFn(ctx, id)
}

func (f *fakeRunStore) ListBasemapRuns(ctx context.Context, arg db.ListBasemapRunsParams) ([]db.BasemapRun, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, arg)
}

func newTestHandler(run RunFunc, runs RunStore) *Handler {
	h := NewHandler(zerolog.Nop(), nil, run, nil)
	h.runs = runs
	return h
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	return rr
}

func successReport() *basemap.Report {
	return &basemap.Report{
		Commune: geoapi.Candidate{Name: "Moulins", INSEECode: "03190", Department: "03"},
		Outcomes: []basemap.SourceOutcome{
			{SourceID: "parcels", DisplayName: "Parcelles cadastrales", Status: basemap.OutcomeOK, Features: 12},
			{SourceID: "rivers", DisplayName: "Hydrographie - cours d'eau", Status: basemap.OutcomeError, Err: "upstream returned 503"},
		},
		SavedTo:  "/data/Moulins_basemap",
		State:    basemap.StatePersisted,
		Duration: 1500 * time.Millisecond,
	}
}

func TestCreateBasemap_success(t *testing.T) {
	var recorded *db.InsertBasemapRunParams
	store := &fakeRunStore{
		insertFn: func(_ context.Context, arg db.InsertBasemapRunParams) (db.BasemapRun, error) {
			recorded = &arg
			return db.BasemapRun{ID: "run-1"}, nil
		},
	}
	h := newTestHandler(func(_ context.Context, name, _ string) (*basemap.Report, error) {
		if name != "Moulins" {
			t.Fatalf("unexpected name %q", name)
		}
		return successReport(), nil
	}, store)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Moulins"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp runSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Commune.INSEECode != "03190" {
		t.Fatalf("unexpected commune %+v", resp.Commune)
	}
	if resp.State != "persisted" {
		t.Fatalf("unexpected state %q", resp.State)
	}
	if resp.SavedTo != "/data/Moulins_basemap" {
		t.Fatalf("unexpected saved_to %q", resp.SavedTo)
	}
	if len(resp.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(resp.Outcomes))
	}

	if recorded == nil {
		t.Fatalf("expected the run to be recorded")
	}
	if recorded.State != "persisted" || recorded.INSEECode != "03190" {
		t.Fatalf("unexpected recorded run %+v", recorded)
	}
	if recorded.DurationMs != 1500 {
		t.Fatalf("unexpected recorded duration %d", recorded.DurationMs)
	}
	if len(recorded.Outcomes) != 2 {
		t.Fatalf("expected the outcomes to be recorded, got %d", len(recorded.Outcomes))
	}
}

func TestCreateBasemap_forwardsINSEE(t *testing.T) {
	var gotName, gotINSEE string
	h := newTestHandler(func(_ context.Context, name, insee string) (*basemap.Report, error) {
		gotName, gotINSEE = name, insee
		return successReport(), nil
	}, nil)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Saint-Denis","insee":"97411"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotName != "Saint-Denis" || gotINSEE != "97411" {
		t.Fatalf("expected name and insee to be forwarded, got %q %q", gotName, gotINSEE)
	}
}

func TestCreateBasemap_recordFailureIsNotFatal(t *testing.T) {
	store := &fakeRunStore{
		insertFn: func(_ context.Context, _ db.InsertBasemapRunParams) (db.BasemapRun, error) {
			return db.BasemapRun{}, errors.New("connection refused")
		},
	}
	h := newTestHandler(func(_ context.Context, _, _ string) (*basemap.Report, error) {
		return successReport(), nil
	}, store)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Moulins"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 despite history failure, got %d", rr.Code)
	}
}

func TestCreateBasemap_ambiguous(t *testing.T) {
	h := newTestHandler(func(_ context.Context, _, _ string) (*basemap.Report, error) {
		return nil, &basemap.AmbiguousError{Candidates: []geoapi.Candidate{
			{Name: "Saint-Denis", INSEECode: "93066", Department: "93"},
			{Name: "Saint-Denis", INSEECode: "97411", Department: "974"},
		}}
	}, nil)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Saint-Denis"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Candidates []communeSummary `json:"candidates"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Code != "ambiguous_name" {
		t.Fatalf("unexpected error code %q", resp.Error.Code)
	}
	if len(resp.Error.Details.Candidates) != 2 {
		t.Fatalf("expected both candidates, got %+v", resp.Error.Details.Candidates)
	}
	if resp.Error.Details.Candidates[1].Department != "974" {
		t.Fatalf("unexpected candidate departments %+v", resp.Error.Details.Candidates)
	}
}

func TestCreateBasemap_unknownCommune(t *testing.T) {
	h := newTestHandler(func(_ context.Context, _, _ string) (*basemap.Report, error) {
		return nil, geoapi.ErrNotFound
	}, nil)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Nulle-Part"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCreateBasemap_pipelineError(t *testing.T) {
	h := newTestHandler(func(_ context.Context, _, _ string) (*basemap.Report, error) {
		return nil, errors.New("geo api unreachable")
	}, nil)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", `{"name":"Moulins"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestCreateBasemap_validation(t *testing.T) {
	h := newTestHandler(func(_ context.Context, _, _ string) (*basemap.Report, error) {
		t.Fatal("pipeline must not run for invalid requests")
		return nil, nil
	}, nil)

	for _, body := range []string{``, `{}`, `{"name":""}`, `{"nom":"Moulins"}`, `{"name":"x"} trailing`} {
		rr := doRequest(t, h, http.MethodPost, "/api/v1/basemaps", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestListRuns(t *testing.T) {
	now := time.Now()
	store := &fakeRunStore{
		listFn: func(_ context.Context, arg db.ListBasemapRunsParams) ([]db.BasemapRun, error) {
			if arg.Limit != 50 {
				t.Fatalf("unexpected limit %d", arg.Limit)
			}
			return []db.BasemapRun{
				{ID: "run-2", CommuneName: "Moulins", INSEECode: "03190", Department: "03", State: "persisted", CreatedAt: now},
				{ID: "run-1", CommuneName: "Saint-Denis", INSEECode: "97411", Department: "974", State: "ready", CreatedAt: now.Add(-time.Hour)},
			}, nil
		},
	}
	h := newTestHandler(nil, store)

	rr := doRequest(t, h, http.MethodGet, "/api/v1/basemaps", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp []runRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != "run-2" {
		t.Fatalf("unexpected runs %+v", resp)
	}
}

func TestListRuns_noDatabase(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := doRequest(t, h, http.MethodGet, "/api/v1/basemaps", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without run history, got %d", rr.Code)
	}
}

func TestGetRun_notFound(t *testing.T) {
	store := &fakeRunStore{
		getFn: func(_ context.Context, _ string) (db.BasemapRun, error) {
			return db.BasemapRun{}, pgx.ErrNoRows
		},
	}
	h := newTestHandler(nil, store)

	rr := doRequest(t, h, http.MethodGet, "/api/v1/basemaps/0b84a361-0000-0000-0000-000000000000", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := doRequest(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyz_withoutDatabase(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := doRequest(t, h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected readiness without a configured database, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "disabled") {
		t.Fatalf("expected the response to flag disabled history, got %s", rr.Body.String())
	}
}
