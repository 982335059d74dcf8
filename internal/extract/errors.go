package extract

import (
	"context"
	"errors"

	"github.com/sells-group/karaoke-scout/internal/resilience"
)

// ErrorKind classifies why a unit produced no entities.
type ErrorKind string

const (
	KindModelTimeout     ErrorKind = "model_timeout"
	KindModelRateLimited ErrorKind = "model_rate_limited"
	KindMalformedOutput  ErrorKind = "malformed_output"
	KindUnitProcessing   ErrorKind = "unit_processing"
	KindCancelled        ErrorKind = "cancelled"
)

// UnitError is a failure isolated to one content unit.
type UnitError struct {
	URL  string
	Kind ErrorKind
	Err  error
}

func (e *UnitError) Error() string {
	if e.Err == nil {
		return "extract " + e.URL + ": " + string(e.Kind)
	}
	return "extract " + e.URL + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *UnitError) Unwrap() error { return e.Err }

// classify maps a unit failure onto an ErrorKind. parent is the pool
// context and unit the per-unit context derived from it.
func classify(parent, unit context.Context, err error) ErrorKind {
	var ue *UnitError
	switch {
	case parent.Err() != nil:
		return KindCancelled
	case errors.Is(unit.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return KindModelTimeout
	case errors.As(err, &ue):
		return ue.Kind
	case resilience.IsRateLimited(err):
		return KindModelRateLimited
	default:
		return KindUnitProcessing
	}
}
