package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	obslogger "github.com/smallbiznis/dealcadence/internal/observability/logger"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	"github.com/smallbiznis/dealcadence/internal/observability/tracing"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	ScheduleCfg     *config.ScheduleConfigHolder
	Repo            domain.Repository
	OpportunityRepo opportunitydomain.Repository
	TaskAPI         domain.TaskAPI
	Credentials     credentialdomain.Provider
	Metrics         *metrics.ScheduleMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	scheduleCfg     *config.ScheduleConfigHolder
	repo            domain.Repository
	opportunityRepo opportunitydomain.Repository
	taskAPI         domain.TaskAPI
	credentials     credentialdomain.Provider
	metrics         *metrics.ScheduleMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("cbctask.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		scheduleCfg:     p.ScheduleCfg,
		repo:            p.Repo,
		opportunityRepo: p.OpportunityRepo,
		taskAPI:         p.TaskAPI,
		credentials:     p.Credentials,
		metrics:         p.Metrics,
	}
}

func (s *Service) ProcessForOpportunity(ctx context.Context, opportunityID snowflake.ID) (result domain.SyncResult, err error) {
	ctx, span := otel.Tracer("dealcadence/cbctask").Start(ctx, "cbctask.process")
	span.SetAttributes(attribute.String("opportunity_id", opportunityID.String()))
	defer func() {
		span.SetAttributes(attribute.String("action", string(result.Action)))
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "cbc task sync failed")
		}
		span.End()
	}()

	result = domain.SyncResult{OpportunityID: opportunityID}

	opportunity, err := s.opportunityRepo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return s.failed(ctx, result, err), err
	}
	if opportunity == nil {
		return result, opportunitydomain.ErrNotFound
	}

	if _, err := s.credentials.GetValidAccessToken(ctx, opportunity.OwnerUserID, credentialdomain.ProviderGoogleTasks); err != nil {
		if errors.Is(err, credentialdomain.ErrCredentialMissing) {
			result.Action = domain.ActionSkipped
			result.Reason = err.Error()
			return s.finish(ctx, result), nil
		}
		return s.failed(ctx, result, err), err
	}

	existing, err := s.repo.FindByTaskSource(ctx, s.db, domain.TaskSource(opportunity.ID))
	if err != nil {
		return s.failed(ctx, result, err), err
	}

	switch {
	case opportunity.Stage.IsClosed():
		return s.remove(ctx, result, existing, domain.ReasonOpportunityClosed)
	case opportunity.CBC == nil:
		return s.remove(ctx, result, existing, domain.ReasonNoCBC)
	case opportunity.NeedsNextCallScheduled:
		return s.remove(ctx, result, existing, domain.ReasonNeedsNextCall)
	}

	cfg := s.scheduleCfg.Get().CBC
	loc := cfg.Location()
	input := domain.TaskInput{
		Title: taskTitle(cfg.TaskTitle, opportunity.Name),
		Notes: RenderNotes(*opportunity, loc),
		Due:   schedule.DueAt(*opportunity.CBC, cfg.DueHour, loc),
	}

	if existing == nil {
		return s.create(ctx, result, opportunity, cfg.TaskListID, input)
	}

	result.TaskID = existing.ID
	result.ExternalTaskID = existing.ExternalTaskID
	if existing.IsCompleted() {
		result.Action = domain.ActionNoop
		result.Reason = domain.ReasonCompleted
		return s.finish(ctx, result), nil
	}
	if schedule.SameDay(existing.Due, input.Due, loc) {
		result.Action = domain.ActionNoop
		result.Reason = domain.ReasonDueUnchanged
		return s.finish(ctx, result), nil
	}
	return s.update(ctx, result, opportunity, existing, input)
}

func (s *Service) create(ctx context.Context, result domain.SyncResult, opportunity *opportunitydomain.Opportunity, listID string, input domain.TaskInput) (domain.SyncResult, error) {
	external, err := s.taskAPI.CreateTask(ctx, opportunity.OwnerUserID, listID, input)
	if err != nil {
		result.Action = domain.ActionFailed
		result.Error = err.Error()
		return s.finish(ctx, result), nil
	}

	now := s.clock.Now().UTC()
	task := domain.Task{
		ID:             s.genID.Generate(),
		OrgID:          opportunity.OrgID,
		UserID:         opportunity.OwnerUserID,
		OpportunityID:  opportunity.ID,
		ListID:         listID,
		ExternalTaskID: external.ID,
		TaskSource:     domain.TaskSource(opportunity.ID),
		Title:          input.Title,
		Notes:          input.Notes,
		Due:            input.Due.UTC(),
		Position:       external.Position,
		Status:         domain.StatusNeedsAction,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repo.Insert(ctx, s.db, &task)
	if errors.Is(err, domain.ErrTaskExists) {
		winner, findErr := s.repo.FindByTaskSource(ctx, s.db, task.TaskSource)
		if findErr != nil {
			s.deleteExternal(ctx, opportunity.OwnerUserID, listID, external.ID)
			return s.failed(ctx, result, findErr), findErr
		}
		return s.lostRace(ctx, result, opportunity.OwnerUserID, listID, external.ID, winner), nil
	}
	if err != nil {
		s.deleteExternal(ctx, opportunity.OwnerUserID, listID, external.ID)
		return s.failed(ctx, result, err), err
	}

	stored, err := s.repo.FindByTaskSource(ctx, s.db, task.TaskSource)
	if err != nil {
		return s.failed(ctx, result, err), err
	}
	// Dialects that upsert on any unique key (MySQL) report success while
	// folding our insert into the winner's row.
	if stored != nil && stored.ExternalTaskID != external.ID {
		return s.lostRace(ctx, result, opportunity.OwnerUserID, listID, external.ID, stored), nil
	}
	if stored != nil {
		task = *stored
	}

	result.Action = domain.ActionCreated
	result.TaskID = task.ID
	result.ExternalTaskID = task.ExternalTaskID
	return s.finish(ctx, result), nil
}

// lostRace handles a create that lost to a concurrent sync: the external
// task we just made is a duplicate and the stored winner stands.
func (s *Service) lostRace(ctx context.Context, result domain.SyncResult, userID, listID, duplicateID string, winner *domain.Task) domain.SyncResult {
	s.deleteExternal(ctx, userID, listID, duplicateID)
	result.Action = domain.ActionNoop
	result.Reason = domain.ReasonTaskExists
	if winner != nil {
		result.TaskID = winner.ID
		result.ExternalTaskID = winner.ExternalTaskID
	}
	return s.finish(ctx, result)
}

func (s *Service) update(ctx context.Context, result domain.SyncResult, opportunity *opportunitydomain.Opportunity, existing *domain.Task, input domain.TaskInput) (domain.SyncResult, error) {
	external, err := s.taskAPI.UpdateTask(ctx, existing.UserID, existing.ListID, existing.ExternalTaskID, input)
	if errors.Is(err, domain.ErrExternalTaskGone) {
		// Deleted in the task app; replace the stale mirror.
		if err := s.repo.Delete(ctx, s.db, existing.ID); err != nil {
			return s.failed(ctx, result, err), err
		}
		result.TaskID = 0
		result.ExternalTaskID = ""
		return s.create(ctx, result, opportunity, existing.ListID, input)
	}
	if err != nil {
		result.Action = domain.ActionFailed
		result.Error = err.Error()
		return s.finish(ctx, result), nil
	}

	position := external.Position
	if position == "" {
		position = existing.Position
	}
	if err := s.repo.Update(ctx, s.db, existing.ID, domain.TaskUpdate{
		Title:     input.Title,
		Notes:     input.Notes,
		Due:       input.Due.UTC(),
		Position:  position,
		UpdatedAt: s.clock.Now().UTC(),
	}); err != nil {
		return s.failed(ctx, result, err), err
	}

	result.Action = domain.ActionUpdated
	if external.IsCompleted() {
		// Completed in the task app since the last sync; mirror it so later
		// syncs leave the task alone.
		completedAt := s.clock.Now().UTC()
		if external.Completed != nil {
			completedAt = external.Completed.UTC()
		}
		if _, err := s.repo.MarkCompleted(ctx, s.db, existing.ID, completedAt); err != nil {
			return s.failed(ctx, result, err), err
		}
		result.Reason = domain.ReasonCompleted
	}
	return s.finish(ctx, result), nil
}

func (s *Service) remove(ctx context.Context, result domain.SyncResult, existing *domain.Task, reason string) (domain.SyncResult, error) {
	result.Reason = reason
	if existing == nil {
		result.Action = domain.ActionNoop
		return s.finish(ctx, result), nil
	}

	result.TaskID = existing.ID
	result.ExternalTaskID = existing.ExternalTaskID
	s.deleteExternal(ctx, existing.UserID, existing.ListID, existing.ExternalTaskID)
	if err := s.repo.Delete(ctx, s.db, existing.ID); err != nil {
		return s.failed(ctx, result, err), err
	}

	result.Action = domain.ActionDeleted
	return s.finish(ctx, result), nil
}

// deleteExternal is best-effort; the local record is handled by the caller.
func (s *Service) deleteExternal(ctx context.Context, userID, listID, externalTaskID string) {
	if err := s.taskAPI.DeleteTask(ctx, userID, listID, externalTaskID); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("external task delete failed",
			zap.String("user_id", userID),
			zap.String("external_task_id", externalTaskID),
			zap.Error(err),
		)
	}
}

func (s *Service) failed(ctx context.Context, result domain.SyncResult, err error) domain.SyncResult {
	result.Action = domain.ActionFailed
	result.Error = err.Error()
	return s.finish(ctx, result)
}

func (s *Service) finish(ctx context.Context, result domain.SyncResult) domain.SyncResult {
	s.metrics.IncCBCSync(string(result.Action))

	fields := []zap.Field{
		zap.String("opportunity_id", result.OpportunityID.String()),
		zap.String("action", string(result.Action)),
	}
	if result.ExternalTaskID != "" {
		fields = append(fields, zap.String("external_task_id", result.ExternalTaskID))
	}
	if result.Reason != "" {
		fields = append(fields, zap.String("reason", result.Reason))
	}

	log := obslogger.WithContext(ctx, s.log)
	if result.Action == domain.ActionFailed {
		log.Warn("cbc task sync failed", append(fields, zap.String("error", result.Error))...)
		return result
	}
	log.Info("cbc task synced", fields...)
	return result
}

func (s *Service) MarkCompleted(ctx context.Context, taskID snowflake.ID) (domain.Task, error) {
	task, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task == nil {
		return domain.Task{}, domain.ErrNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && task.OrgID != orgID {
		return domain.Task{}, domain.ErrNotFound
	}
	if task.IsCompleted() {
		return *task, nil
	}

	if _, err := s.repo.MarkCompleted(ctx, s.db, taskID, s.clock.Now().UTC()); err != nil {
		return domain.Task{}, err
	}
	updated, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if updated == nil {
		return domain.Task{}, domain.ErrNotFound
	}
	return *updated, nil
}

func (s *Service) FindForOpportunity(ctx context.Context, opportunityID snowflake.ID) (*domain.Task, error) {
	return s.repo.FindByTaskSource(ctx, s.db, domain.TaskSource(opportunityID))
}

func taskTitle(format, name string) string {
	format = strings.TrimSpace(format)
	if format == "" {
		return "Check in: " + name
	}
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, name)
	}
	return format
}
