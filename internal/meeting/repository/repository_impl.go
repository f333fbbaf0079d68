package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/meeting/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertCalendarEvent(ctx context.Context, db *gorm.DB, event *domain.CalendarEvent) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "external_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"opportunity_id", "title", "start_time", "end_time", "attendees", "is_external", "status", "updated_at",
		}),
	}).Create(event).Error
}

func (r *repo) ListCalendarEventsByExternalIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalEventIDs []string) ([]domain.CalendarEvent, error) {
	if len(externalEventIDs) == 0 {
		return nil, nil
	}
	var events []domain.CalendarEvent
	err := db.WithContext(ctx).
		Where("org_id = ? AND external_event_id IN ?", orgID, externalEventIDs).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListExternalCalendarEvents(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]domain.CalendarEvent, error) {
	var events []domain.CalendarEvent
	err := db.WithContext(ctx).
		Where("opportunity_id = ? AND is_external = ? AND status <> ?", opportunityID, true, domain.CalendarEventCancelled).
		Order("start_time asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) UpsertCallRecording(ctx context.Context, db *gorm.DB, recording *domain.CallRecording) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider"}, {Name: "external_call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"opportunity_id", "meeting_date", "status", "updated_at"}),
	}).Create(recording).Error
}

func (r *repo) FindCallRecording(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider, externalCallID string) (*domain.CallRecording, error) {
	var recording domain.CallRecording
	err := db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND external_call_id = ?", orgID, provider, externalCallID).
		First(&recording).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &recording, nil
}

func (r *repo) ListCompletedCallRecordings(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]domain.CallRecording, error) {
	var recordings []domain.CallRecording
	err := db.WithContext(ctx).
		Where("opportunity_id = ? AND status = ?", opportunityID, domain.SessionCompleted).
		Order("meeting_date asc, id asc").
		Find(&recordings).Error
	if err != nil {
		return nil, err
	}
	return recordings, nil
}

func (r *repo) UpsertNotesSession(ctx context.Context, db *gorm.DB, session *domain.NotesSession) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider"}, {Name: "external_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"opportunity_id", "meeting_date", "status", "updated_at"}),
	}).Create(session).Error
}

func (r *repo) FindNotesSession(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider, externalSessionID string) (*domain.NotesSession, error) {
	var session domain.NotesSession
	err := db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND external_session_id = ?", orgID, provider, externalSessionID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) ListCompletedNotesSessions(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]domain.NotesSession, error) {
	var sessions []domain.NotesSession
	err := db.WithContext(ctx).
		Where("opportunity_id = ? AND status = ?", opportunityID, domain.SessionCompleted).
		Order("meeting_date asc, id asc").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
