package basemap

import (
	"errors"
	"fmt"

	"fond_de_plan/core-go/internal/geoapi"
)

// Sentinel conditions of the pipeline. Only boundary resolution failures
// and genuinely unexpected errors are fatal; everything per-source is
// absorbed at the fetch boundary and surfaces as an empty layer plus a
// recorded outcome.
var (
	// ErrSelectionCancelled is returned by a selection collaborator when
	// the user walks away from an ambiguous search. The pipeline halts
	// cleanly with no side effects.
	ErrSelectionCancelled = errors.New("commune selection cancelled")

	// ErrSaveDeclined is returned by a save collaborator when the user
	// declines persistence. The composition stays in memory; the run
	// terminates in the Declined state.
	ErrSaveDeclined = errors.New("save declined")
)

// AmbiguousError reports that a name search matched several communes and
// no collaborator was able to choose. Non-interactive callers surface
// the candidates so their client can retry with an exact identifier.
type AmbiguousError struct {
	Candidates []geoapi.Candidate
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d communes match the search", len(e.Candidates))
}

// SourceError wraps a single source's fetch failure. It never escapes
// the fetch stage; it exists so outcomes and logs carry the source.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
