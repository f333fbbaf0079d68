package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/schedule"
)

// Recalculator runs one full recalculation cycle for an opportunity.
type Recalculator interface {
	Recalculate(ctx context.Context, opportunityID snowflake.ID) (schedule.State, error)
}

type BatchResult struct {
	OpportunityID snowflake.ID    `json:"opportunity_id"`
	State         *schedule.State `json:"state,omitempty"`
	Error         string          `json:"error,omitempty"`
	Err           error           `json:"-"`
}

func (r BatchResult) OK() bool {
	return r.Err == nil
}

type Service interface {
	Recalculator

	// RecalculateBatch processes ids strictly in order and never aborts early.
	RecalculateBatch(ctx context.Context, ids []snowflake.ID) []BatchResult

	// SetManualNextCallDate records a person-entered next call date. A nil
	// date clears it.
	SetManualNextCallDate(ctx context.Context, opportunityID snowflake.ID, date *time.Time) (opportunitydomain.Opportunity, error)

	// ChangeStage moves the opportunity and re-syncs its reminder task.
	ChangeStage(ctx context.Context, opportunityID snowflake.ID, stage opportunitydomain.Stage) (opportunitydomain.Opportunity, error)
}

// Trigger labels what started a recalculation.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerMeeting   Trigger = "meeting"
	TriggerBackfill  Trigger = "backfill"
	TriggerScheduler Trigger = "scheduler"
)

type triggerKey struct{}

func WithTrigger(ctx context.Context, trigger Trigger) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func TriggerFromContext(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey{}).(Trigger); ok {
		return t
	}
	return TriggerManual
}

var ErrInvalidStage = errors.New("invalid_stage")
