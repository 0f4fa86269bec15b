// Package basemap orchestrates the assembly of a commune basemap: name
// resolution, concurrent source fetching, normalization, assembly,
// styling and hand-off to the save collaborator.
package basemap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fond_de_plan/core-go/internal/crs"
	"fond_de_plan/core-go/internal/geoapi"
	"fond_de_plan/core-go/internal/geometry"
	"fond_de_plan/core-go/internal/layer"
	"fond_de_plan/core-go/internal/metrics"
	"fond_de_plan/core-go/internal/sirene"
	"fond_de_plan/core-go/internal/style"
)

// BoundaryResolver turns a free-text name into boundary candidates.
type BoundaryResolver interface {
	SearchCommunes(ctx context.Context, name string) ([]geoapi.Candidate, error)
}

// FeatureFetcher retrieves one feature type bounded by a bbox filter.
type FeatureFetcher interface {
	GetFeatures(ctx context.Context, typeName string, bbox crs.Bounds) (layer.Dataset, error)
}

// ExtractFetcher retrieves the establishment rows of one commune from the
// department bulk extract.
type ExtractFetcher interface {
	FetchEstablishments(ctx context.Context, department, insee string) ([]sirene.Row, error)
}

// Selector resolves an ambiguous search to a single candidate. It
// returns ErrSelectionCancelled when the user declines to choose.
type Selector interface {
	SelectCandidate(ctx context.Context, candidates []geoapi.Candidate) (geoapi.Candidate, error)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(ctx context.Context, candidates []geoapi.Candidate) (geoapi.Candidate, error)

func (f SelectorFunc) SelectCandidate(ctx context.Context, candidates []geoapi.Candidate) (geoapi.Candidate, error) {
	return f(ctx, candidates)
}

// Saver persists the finished composition. It returns the confirmed
// location, or ErrSaveDeclined when the user turns the proposal down.
type Saver interface {
	Save(ctx context.Context, comp layer.Composition, defaultName string) (string, error)
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, comp layer.Composition, defaultName string) (string, error)

func (f SaverFunc) Save(ctx context.Context, comp layer.Composition, defaultName string) (string, error) {
	return f(ctx, comp, defaultName)
}

// ProgressFunc receives one human-readable status line per stage
// transition and per per-source outcome.
type ProgressFunc func(msg string)

// State is the pipeline's position in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateResolving   State = "resolving"
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateAssembling  State = "assembling"
	StateStyling     State = "styling"
	StateReady       State = "ready"
	StatePersisted   State = "persisted"
	StateDeclined    State = "declined"
	StateFailed      State = "failed"
)

// Per-source fetch outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// SourceOutcome records how one configured source fared.
type SourceOutcome struct {
	SourceID    string `json:"source_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Features    int    `json:"features"`
	Err         string `json:"error,omitempty"`
}

// Report is the result of one pipeline run.
type Report struct {
	Commune     geoapi.Candidate
	Composition layer.Composition
	Outcomes    []SourceOutcome
	SavedTo     string
	State       State
	Duration    time.Duration
}

// Deps are the pipeline's capability dependencies: the three external
// clients plus the interactive collaborators. Selector, Saver and
// Progress may be nil; a nil Selector makes an ambiguous search fail
// with AmbiguousError and a nil Saver leaves the run in the Ready state.
type Deps struct {
	Resolver BoundaryResolver
	Features FeatureFetcher
	Extracts ExtractFetcher
	Selector Selector
	Saver    Saver
	Progress ProgressFunc
}

// Options tune one pipeline.
type Options struct {
	Sources      []layer.SourceSpec
	Styles       style.Table
	FetchWorkers int
}

// Pipeline sequences the basemap stages and applies the failure policy:
// boundary resolution is fatal, everything per-source degrades to an
// empty layer.
type Pipeline struct {
	log     zerolog.Logger
	deps    Deps
	sources []layer.SourceSpec
	styles  style.Table
	workers int
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
}

// New builds a pipeline with defaults applied.
func New(log zerolog.Logger, deps Deps, opts Options, m *metrics.Metrics) *Pipeline {
	sources := opts.Sources
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	styles := opts.Styles
	if styles == nil {
		styles = style.DefaultTable()
	}
	workers := opts.FetchWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(sources) {
		workers = len(sources)
	}
	if deps.Progress == nil {
		deps.Progress = func(string) {}
	}
	return &Pipeline{
		log:     log,
		deps:    deps,
		sources: sources,
		styles:  styles,
		workers: workers,
		metrics: m,
		state:   StateIdle,
	}
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.deps.Progress(fmt.Sprintf("stage: %s", s))
}

// Run executes the full pipeline for one free-text commune name.
func (p *Pipeline) Run(ctx context.Context, name string) (*Report, error) {
	start := time.Now()
	report, err := p.run(ctx, name)
	duration := time.Since(start)

	final := p.State()
	p.metrics.IncPipelineRun(string(final))
	p.metrics.ObservePipelineRunDuration(duration)
	if report != nil {
		report.State = final
		report.Duration = duration
	}
	return report, err
}

func (p *Pipeline) run(ctx context.Context, name string) (*Report, error) {
	// Resolving — the only stage whose failure is fatal by design.
	p.setState(StateResolving)
	p.deps.Progress(fmt.Sprintf("searching commune %q", name))

	cand, err := p.resolve(ctx, name)
	if err != nil {
		if errors.Is(err, ErrSelectionCancelled) || isAmbiguous(err) {
			// Clean halt, no side effects.
			p.setState(StateIdle)
			return nil, err
		}
		p.setState(StateFailed)
		return nil, err
	}
	p.deps.Progress(fmt.Sprintf("commune: %s | INSEE: %s | department: %s", cand.Name, cand.INSEECode, cand.Department))

	boundary, err := geometry.NewBoundary(cand.Contour, geoapi.SourceSRID)
	if err != nil {
		p.setState(StateFailed)
		return nil, fmt.Errorf("working boundary: %w", err)
	}
	p.log.Info().
		Str("insee", cand.INSEECode).
		Float64("min_x", boundary.BBox.MinX).
		Float64("min_y", boundary.BBox.MinY).
		Float64("max_x", boundary.BBox.MaxX).
		Float64("max_y", boundary.BBox.MaxY).
		Msg("working boundary computed")

	// Fetching — per-source failures are absorbed here.
	p.setState(StateFetching)
	raws, srids, outcomes := p.fetchAll(ctx, cand, boundary.BBox)

	// Normalizing — reproject + exact clip, per source.
	p.setState(StateNormalizing)
	normalizer := geometry.NewNormalizer(p.log, boundary)
	normalized := make([]layer.Dataset, len(p.sources))
	for i, spec := range p.sources {
		normalized[i] = normalizer.Normalize(raws[i], srids[i])
		outcomes[i].Features = normalized[i].Len()
		if outcomes[i].Status != OutcomeError {
			if normalized[i].Empty() {
				outcomes[i].Status = OutcomeEmpty
				p.deps.Progress(fmt.Sprintf("%s: no features", spec.DisplayName))
			} else {
				outcomes[i].Status = OutcomeOK
				p.deps.Progress(fmt.Sprintf("%s: %d features", spec.DisplayName, normalized[i].Len()))
			}
		}
		p.metrics.IncSourceFetch(spec.ID, outcomes[i].Status)
	}

	// Assembling — catalogue order, not completion order.
	p.setState(StateAssembling)
	comp := Assemble(p.sources, normalized, cand.Name)

	// Styling.
	p.setState(StateStyling)
	p.styles.Apply(&comp)

	p.setState(StateReady)
	report := &Report{
		Commune:     cand,
		Composition: comp,
		Outcomes:    outcomes,
	}

	if p.deps.Saver == nil {
		return report, nil
	}

	defaultName := layer.SanitizeGroupName(cand.Name) + "_basemap"
	savedTo, err := p.deps.Saver.Save(ctx, comp, defaultName)
	if err != nil {
		if errors.Is(err, ErrSaveDeclined) {
			p.setState(StateDeclined)
			p.deps.Progress("save declined; composition kept in memory only")
			return report, nil
		}
		p.setState(StateFailed)
		return report, fmt.Errorf("save composition: %w", err)
	}
	report.SavedTo = savedTo
	p.setState(StatePersisted)
	p.deps.Progress(fmt.Sprintf("composition saved to %s", savedTo))
	return report, nil
}

func (p *Pipeline) resolve(ctx context.Context, name string) (geoapi.Candidate, error) {
	candidates, err := p.deps.Resolver.SearchCommunes(ctx, name)
	if err != nil {
		return geoapi.Candidate{}, err
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	p.deps.Progress(fmt.Sprintf("%d communes match, selection required", len(candidates)))
	if p.deps.Selector == nil {
		return geoapi.Candidate{}, &AmbiguousError{Candidates: candidates}
	}
	return p.deps.Selector.SelectCandidate(ctx, candidates)
}

// fetchAll runs the per-source fetches on a bounded worker pool. Each
// worker writes into the slot of its own source; slots, not completion
// order, decide the final layer order. Failures never escape: they are
// logged, recorded on the outcome and produce an empty raw dataset.
func (p *Pipeline) fetchAll(ctx context.Context, cand geoapi.Candidate, bbox crs.Bounds) ([]layer.Dataset, []crs.SRID, []SourceOutcome) {
	n := len(p.sources)
	raws := make([]layer.Dataset, n)
	srids := make([]crs.SRID, n)
	outcomes := make([]SourceOutcome, n)

	jobs := make(chan int)
	wg := sync.WaitGroup{}

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			spec := p.sources[i]
			outcomes[i] = SourceOutcome{SourceID: spec.ID, DisplayName: spec.DisplayName}
			p.deps.Progress(fmt.Sprintf("loading %s", spec.DisplayName))

			var (
				ds   layer.Dataset
				srid crs.SRID
				err  error
			)
			switch spec.Kind {
			case layer.KindBulkExtract:
				srid = sirene.SourceSRID
				var rows []sirene.Row
				rows, err = p.deps.Extracts.FetchEstablishments(ctx, cand.Department, cand.INSEECode)
				if err == nil {
					ds = sirene.BuildPoints(rows, p.log)
				}
			default:
				// Feature-service responses are requested in the working CRS.
				srid = crs.Working
				ds, err = p.deps.Features.GetFeatures(ctx, spec.TypeName, bbox)
			}

			if err != nil {
				srcErr := &SourceError{SourceID: spec.ID, Err: err}
				p.log.Warn().Err(srcErr).Str("source", spec.ID).Msg("source unavailable, continuing with empty layer")
				p.deps.Progress(fmt.Sprintf("%s: unavailable, layer will be empty", spec.DisplayName))
				outcomes[i].Status = OutcomeError
				outcomes[i].Err = err.Error()
				ds = layer.Dataset{}
			}

			raws[i] = ds
			srids[i] = srid
		}
	}

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go worker()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return raws, srids, outcomes
}

func isAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
