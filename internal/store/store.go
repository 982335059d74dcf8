// Package store persists parsed-schedule staging records and, on approval,
// the committed vendor, DJ, venue and show entities.
package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// ErrNotFound is returned when no schedule has the requested id.
var ErrNotFound = eris.New("store: schedule not found")

// StatusConflictError is returned when a compare-and-set status change
// finds the record in a different state than expected.
type StatusConflictError struct {
	ID       string
	Expected []model.ScheduleStatus
	Actual   model.ScheduleStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("store: schedule %s is %s, expected %v", e.ID, e.Actual, e.Expected)
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Status model.ScheduleStatus `json:"status,omitempty"`
	URL    string               `json:"url,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store is the staging store consumed by the pipeline and review gateway.
// Every status change is a compare-and-set against the expected state.
type Store interface {
	// CreateSchedule inserts a pending record. previousID links a re-run of
	// a terminal record to its predecessor.
	CreateSchedule(ctx context.Context, url, previousID string) (*model.ParsedSchedule, error)
	GetSchedule(ctx context.Context, id string) (*model.ParsedSchedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]model.ParsedSchedule, error)

	// TransitionStatus moves id from one status to another.
	TransitionStatus(ctx context.Context, id string, from, to model.ScheduleStatus) error
	// SaveAnalysis writes the run result and moves parsing to pending_review.
	SaveAnalysis(ctx context.Context, id string, report *model.RunReport, result *model.AggregatedResult) error
	// FailSchedule moves a pending or parsing record to failed.
	FailSchedule(ctx context.Context, id, detail string, report *model.RunReport) error
	// RejectSchedule moves pending_review to rejected.
	RejectSchedule(ctx context.Context, id, reviewer, reason string) error
	// CommitApproval writes the entities of result and moves pending_review
	// to approved in one transaction.
	CommitApproval(ctx context.Context, id, reviewer string, result *model.AggregatedResult) (*model.CommitResult, error)

	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
