// Package review exposes staged schedules to a human reviewer and commits
// approved results.
package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/store"
)

var (
	// ErrAlreadyTerminal is returned when approving or rejecting a record
	// that is already approved, rejected or failed.
	ErrAlreadyTerminal = eris.New("review: schedule already terminal")
	// ErrNotFound is returned for an unknown schedule id.
	ErrNotFound = eris.New("review: schedule not found")
	// ErrInvalidEdits is returned when reviewer edits fail validation.
	ErrInvalidEdits = eris.New("review: invalid edits")
)

// StatusError is returned when a record is not yet reviewable.
type StatusError struct {
	ID     string
	Status model.ScheduleStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("review: schedule %s is %s, not pending_review", e.ID, e.Status)
}

// Outcome summarizes what a reviewer is looking at.
type Outcome string

const (
	OutcomeShowsFound   Outcome = "shows_found"
	OutcomeNoShowsFound Outcome = "no_shows_found"
	OutcomeFailed       Outcome = "failed"
)

// Item is a staged schedule as presented for review.
type Item struct {
	model.ParsedSchedule
	Outcome Outcome `json:"outcome"`
}

// OutcomeOf classifies a schedule for display.
func OutcomeOf(ps *model.ParsedSchedule) Outcome {
	switch {
	case ps.Status == model.StatusFailed:
		return OutcomeFailed
	case ps.AIAnalysis == nil || len(ps.AIAnalysis.Shows) == 0:
		return OutcomeNoShowsFound
	default:
		return OutcomeShowsFound
	}
}

func newItem(ps *model.ParsedSchedule) Item {
	return Item{ParsedSchedule: *ps, Outcome: OutcomeOf(ps)}
}

// Gateway is the only actor that moves a record out of pending_review.
type Gateway struct {
	store store.Store
}

// NewGateway creates a Gateway over s.
func NewGateway(s store.Store) *Gateway {
	return &Gateway{store: s}
}

// ListPending returns every record awaiting review, newest first.
func (g *Gateway) ListPending(ctx context.Context) ([]Item, error) {
	return g.List(ctx, store.ScheduleFilter{Status: model.StatusPendingReview})
}

// List returns records matching filter.
func (g *Gateway) List(ctx context.Context, filter store.ScheduleFilter) ([]Item, error) {
	schedules, err := g.store.ListSchedules(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "review: list schedules")
	}
	items := make([]Item, 0, len(schedules))
	for i := range schedules {
		items = append(items, newItem(&schedules[i]))
	}
	return items, nil
}

// Get returns one record.
func (g *Gateway) Get(ctx context.Context, id string) (*Item, error) {
	ps, err := g.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, mapStoreError(id, err)
	}
	item := newItem(ps)
	return &item, nil
}

// Approve commits the record's analysis, or edits when non-nil, and marks
// the record approved.
func (g *Gateway) Approve(ctx context.Context, id, reviewer string, edits *model.AggregatedResult) (*model.CommitResult, error) {
	ps, err := g.reviewable(ctx, id)
	if err != nil {
		return nil, err
	}

	result := ps.AIAnalysis
	if edits != nil {
		if err := ValidateEdits(edits); err != nil {
			return nil, err
		}
		result = edits
	}
	if result == nil {
		result = &model.AggregatedResult{}
	}

	res, err := g.store.CommitApproval(ctx, id, reviewer, result)
	if err != nil {
		return nil, mapStoreError(id, err)
	}

	zap.L().Info("review: schedule approved",
		zap.String("id", id),
		zap.String("reviewer", reviewer),
		zap.Bool("edited", edits != nil),
		zap.Int("shows", len(res.ShowIDs)),
	)
	return res, nil
}

// Reject discards the record's analysis.
func (g *Gateway) Reject(ctx context.Context, id, reviewer, reason string) error {
	if _, err := g.reviewable(ctx, id); err != nil {
		return err
	}
	if err := g.store.RejectSchedule(ctx, id, reviewer, reason); err != nil {
		return mapStoreError(id, err)
	}

	zap.L().Info("review: schedule rejected",
		zap.String("id", id),
		zap.String("reviewer", reviewer),
		zap.String("reason", reason),
	)
	return nil
}

func (g *Gateway) reviewable(ctx context.Context, id string) (*model.ParsedSchedule, error) {
	ps, err := g.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, mapStoreError(id, err)
	}
	if ps.Status.Terminal() {
		return nil, eris.Wrapf(ErrAlreadyTerminal, "schedule %s is %s", id, ps.Status)
	}
	if ps.Status != model.StatusPendingReview {
		return nil, &StatusError{ID: id, Status: ps.Status}
	}
	return ps, nil
}

// mapStoreError translates store errors, including a lost compare-and-set
// race, into review errors.
func mapStoreError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return eris.Wrapf(ErrNotFound, "schedule %s", id)
	}
	var conflict *store.StatusConflictError
	if errors.As(err, &conflict) {
		if conflict.Actual.Terminal() {
			return eris.Wrapf(ErrAlreadyTerminal, "schedule %s is %s", id, conflict.Actual)
		}
		return &StatusError{ID: id, Status: conflict.Actual}
	}
	return eris.Wrapf(err, "review: schedule %s", id)
}

// ValidateEdits checks a reviewer-supplied result before it is committed.
// Every show needs a venue and every vendor or DJ reference must resolve to
// an entity in the same result.
func ValidateEdits(r *model.AggregatedResult) error {
	vendors := make(map[string]bool, len(r.Vendors))
	for i, v := range r.Vendors {
		if v.Key == "" || v.Name == "" {
			return eris.Wrapf(ErrInvalidEdits, "vendor %d needs a key and a name", i)
		}
		vendors[v.Key] = true
	}
	djs := make(map[string]bool, len(r.DJs))
	for i, dj := range r.DJs {
		if dj.Key == "" || dj.Name == "" {
			return eris.Wrapf(ErrInvalidEdits, "dj %d needs a key and a name", i)
		}
		djs[dj.Key] = true
	}

	keys := make(map[string]bool, len(r.Shows))
	for i, s := range r.Shows {
		if s.Venue == "" {
			return eris.Wrapf(ErrInvalidEdits, "show %d has no venue", i)
		}
		if s.Key == "" {
			return eris.Wrapf(ErrInvalidEdits, "show %d has no key", i)
		}
		if keys[s.Key] {
			return eris.Wrapf(ErrInvalidEdits, "duplicate show key %q", s.Key)
		}
		keys[s.Key] = true
		if s.VendorKey != nil && !vendors[*s.VendorKey] {
			return eris.Wrapf(ErrInvalidEdits, "show %d references unknown vendor %q", i, *s.VendorKey)
		}
		if s.DJKey != nil && !djs[*s.DJKey] {
			return eris.Wrapf(ErrInvalidEdits, "show %d references unknown dj %q", i, *s.DJKey)
		}
		if (s.Lat == nil) != (s.Lng == nil) {
			return eris.Wrapf(ErrInvalidEdits, "show %d has a partial location", i)
		}
	}
	return nil
}
