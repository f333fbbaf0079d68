package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/internal/clock"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	"github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	obslogger "github.com/smallbiznis/dealcadence/internal/observability/logger"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	"github.com/smallbiznis/dealcadence/internal/observability/tracing"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"github.com/smallbiznis/dealcadence/internal/taskqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobCBCSync = "cbc_sync"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      opportunitydomain.Repository
	Collector meetingdomain.Collector
	CBCTasks  cbctaskdomain.Service
	Queue     taskqueue.Submitter
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      opportunitydomain.Repository
	collector meetingdomain.Collector
	cbcTasks  cbctaskdomain.Service
	queue     taskqueue.Submitter
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("nextcall.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		collector: p.Collector,
		cbcTasks:  p.CBCTasks,
		queue:     p.Queue,
		metrics:   p.Metrics,
	}
}

// Recalculate rebuilds the schedule projection from the meeting sources,
// stores it in a single update and hands the reminder sync to the queue.
// Manually entered next-call dates are overwritten.
func (s *Service) Recalculate(ctx context.Context, opportunityID snowflake.ID) (state schedule.State, err error) {
	trigger := domain.TriggerFromContext(ctx)
	ctx, span := otel.Tracer("dealcadence/nextcall").Start(ctx, "nextcall.recalculate")
	span.SetAttributes(
		attribute.String("opportunity_id", opportunityID.String()),
		attribute.String("trigger", string(trigger)),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = outcomeFor(err)
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, outcome)
		}
		s.metrics.RecordRecalculation(ctx, string(trigger), outcome)
		span.End()
	}()

	opportunity, err := s.repo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return schedule.State{}, err
	}
	if opportunity == nil {
		return schedule.State{}, opportunitydomain.ErrNotFound
	}

	events, err := s.collector.Collect(ctx, opportunityID)
	if err != nil {
		return schedule.State{}, err
	}

	now := s.clock.Now().UTC()
	state = schedule.Calculate(events, now)

	updated, err := s.repo.UpdateSchedule(ctx, s.db, opportunityID, toScheduleUpdate(state, now))
	if err != nil {
		return schedule.State{}, err
	}
	if !updated {
		return schedule.State{}, opportunitydomain.ErrNotFound
	}

	obslogger.WithContext(ctx, s.log).Info("schedule recalculated",
		zap.String("opportunity_id", opportunityID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("meetings", len(events)),
		zap.Bool("has_cbc", state.CBC != nil),
		zap.Bool("needs_next_call_scheduled", state.NeedsNextCallScheduled),
	)

	s.submitSync(ctx, opportunityID)
	return state, nil
}

func (s *Service) RecalculateBatch(ctx context.Context, ids []snowflake.ID) []domain.BatchResult {
	results := make([]domain.BatchResult, 0, len(ids))
	for _, id := range ids {
		state, err := s.Recalculate(ctx, id)
		result := domain.BatchResult{OpportunityID: id}
		if err != nil {
			result.Err = err
			result.Error = err.Error()
		} else {
			result.State = &state
		}
		results = append(results, result)
	}
	return results
}

func (s *Service) SetManualNextCallDate(ctx context.Context, opportunityID snowflake.ID, date *time.Time) (opportunitydomain.Opportunity, error) {
	opportunity, err := s.repo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return opportunitydomain.Opportunity{}, err
	}
	if opportunity == nil {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}

	var next *time.Time
	if date != nil {
		d := date.UTC()
		next = &d
	}

	now := s.clock.Now().UTC()
	update := opportunitydomain.ManualNextCallUpdate{
		NextCallDate:           next,
		CBC:                    schedule.CBCMidpoint(opportunity.LastCallDate, next),
		NeedsNextCallScheduled: schedule.NeedsNextCallScheduled(opportunity.LastCallDate, next),
		UpdatedAt:              now,
	}
	updated, err := s.repo.UpdateManualNextCall(ctx, s.db, opportunityID, update)
	if err != nil {
		return opportunitydomain.Opportunity{}, err
	}
	if !updated {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}

	obslogger.WithContext(ctx, s.log).Info("next call date set manually",
		zap.String("opportunity_id", opportunityID.String()),
		zap.Bool("cleared", next == nil),
	)

	s.submitSync(ctx, opportunityID)
	return s.reload(ctx, opportunityID)
}

func (s *Service) ChangeStage(ctx context.Context, opportunityID snowflake.ID, stage opportunitydomain.Stage) (opportunitydomain.Opportunity, error) {
	if !stage.Valid() {
		return opportunitydomain.Opportunity{}, domain.ErrInvalidStage
	}
	updated, err := s.repo.UpdateStage(ctx, s.db, opportunityID, stage, s.clock.Now().UTC())
	if err != nil {
		return opportunitydomain.Opportunity{}, err
	}
	if !updated {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}

	obslogger.WithContext(ctx, s.log).Info("opportunity stage changed",
		zap.String("opportunity_id", opportunityID.String()),
		zap.String("stage", string(stage)),
	)

	s.submitSync(ctx, opportunityID)
	return s.reload(ctx, opportunityID)
}

// submitSync never fails the caller; a dropped job is counted by the queue.
func (s *Service) submitSync(ctx context.Context, opportunityID snowflake.ID) {
	if s.cbcTasks == nil || s.queue == nil {
		return
	}
	tasks := s.cbcTasks
	s.queue.Submit(ctx, jobCBCSync, opportunityID.String(), func(jobCtx context.Context) error {
		_, err := tasks.ProcessForOpportunity(jobCtx, opportunityID)
		return err
	})
}

func (s *Service) reload(ctx context.Context, opportunityID snowflake.ID) (opportunitydomain.Opportunity, error) {
	opportunity, err := s.repo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return opportunitydomain.Opportunity{}, err
	}
	if opportunity == nil {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}
	return *opportunity, nil
}

func toScheduleUpdate(state schedule.State, now time.Time) opportunitydomain.ScheduleUpdate {
	return opportunitydomain.ScheduleUpdate{
		LastCallDate:           state.LastCall.Date,
		LastCallDateSource:     string(state.LastCall.Source),
		LastCallDateEventID:    state.LastCall.EventID,
		NextCallDate:           state.NextCall.Date,
		NextCallDateSource:     string(state.NextCall.Source),
		NextCallDateEventID:    state.NextCall.EventID,
		CBC:                    state.CBC,
		NeedsNextCallScheduled: state.NeedsNextCallScheduled,
		CalculatedAt:           now,
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, opportunitydomain.ErrNotFound):
		return "not_found"
	case errors.Is(err, meetingdomain.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
