package model

import "time"

// ScheduleStatus is the lifecycle state of a parsed schedule.
type ScheduleStatus string

const (
	StatusPending       ScheduleStatus = "pending"
	StatusParsing       ScheduleStatus = "parsing"
	StatusPendingReview ScheduleStatus = "pending_review"
	StatusApproved      ScheduleStatus = "approved"
	StatusRejected      ScheduleStatus = "rejected"
	StatusFailed        ScheduleStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ScheduleStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case StatusPending, StatusParsing, StatusPendingReview,
		StatusApproved, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

var transitions = map[ScheduleStatus][]ScheduleStatus{
	StatusPending:       {StatusParsing, StatusFailed},
	StatusParsing:       {StatusPendingReview, StatusFailed},
	StatusPendingReview: {StatusApproved, StatusRejected, StatusParsing},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParsedSchedule is the staging record for one run against one seed URL.
type ParsedSchedule struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Status       ScheduleStatus    `json:"status"`
	RawData      *RunReport        `json:"raw_data,omitempty"`
	AIAnalysis   *AggregatedResult `json:"ai_analysis,omitempty"`
	Error        string            `json:"error,omitempty"`
	RejectReason string            `json:"reject_reason,omitempty"`
	PreviousID   string            `json:"previous_id,omitempty"`
	ReviewedBy   string            `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RunReport captures the diagnostics of a single pipeline run.
type RunReport struct {
	Seed          string            `json:"seed"`
	Mode          string            `json:"mode"`
	Request       RunRequest        `json:"request"`
	UnitsFound    int               `json:"units_found"`
	Truncated     bool              `json:"truncated"`
	UnitsFailed   int               `json:"units_failed"`
	FailureKinds  map[string]int    `json:"failure_kinds,omitempty"`
	Usage         TokenUsage        `json:"usage"`
	VenuesLocated int               `json:"venues_located,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	Cancelled     bool              `json:"cancelled,omitempty"`
	Records       []CandidateRecord `json:"records"`
}
