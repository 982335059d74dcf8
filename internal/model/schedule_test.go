package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   ScheduleStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusParsing, false},
		{StatusPendingReview, false},
		{StatusApproved, true},
		{StatusRejected, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.True(t, tt.status.Valid())
		})
	}
}

func TestScheduleStatusCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to ScheduleStatus
		want     bool
	}{
		{StatusPending, StatusParsing, true},
		{StatusPending, StatusFailed, true},
		{StatusParsing, StatusPendingReview, true},
		{StatusParsing, StatusFailed, true},
		{StatusPendingReview, StatusApproved, true},
		{StatusPendingReview, StatusRejected, true},
		{StatusPendingReview, StatusParsing, true},
		{StatusPending, StatusApproved, false},
		{StatusParsing, StatusApproved, false},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusFailed, StatusParsing, false},
		{StatusPendingReview, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestScheduleStatusValid(t *testing.T) {
	t.Parallel()
	assert.False(t, ScheduleStatus("done").Valid())
	assert.False(t, ScheduleStatus("").Valid())
}

func TestAggregatedResultEmpty(t *testing.T) {
	t.Parallel()

	var nilResult *AggregatedResult
	assert.True(t, nilResult.Empty())
	assert.True(t, (&AggregatedResult{}).Empty())
	assert.False(t, (&AggregatedResult{Shows: []Show{{Venue: "Joe's Bar"}}}).Empty())
}
