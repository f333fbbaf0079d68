package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/meeting/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type SourcesParams struct {
	fx.In

	DB   *gorm.DB
	Repo domain.Repository
}

type calendarStore struct {
	db   *gorm.DB
	repo domain.Repository
}

type callRecordingStore struct {
	db   *gorm.DB
	repo domain.Repository
}

type notesStore struct {
	db   *gorm.DB
	repo domain.Repository
}

// NewSources exposes the database-backed meeting stores through the
// collector's source interfaces.
func NewSources(p SourcesParams) (domain.CalendarSource, domain.CallRecordingSource, domain.NotesSource) {
	return &calendarStore{db: p.DB, repo: p.Repo},
		&callRecordingStore{db: p.DB, repo: p.Repo},
		&notesStore{db: p.DB, repo: p.Repo}
}

func (s *calendarStore) ListExternalEvents(ctx context.Context, opportunityID snowflake.ID) ([]domain.SourceRecord, error) {
	events, err := s.repo.ListExternalCalendarEvents(ctx, s.db, opportunityID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SourceRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, domain.SourceRecord{ID: ev.ExternalEventID, Date: ev.StartTime})
	}
	return out, nil
}

func (s *callRecordingStore) ListCompletedSessions(ctx context.Context, opportunityID snowflake.ID) ([]domain.SourceRecord, error) {
	recordings, err := s.repo.ListCompletedCallRecordings(ctx, s.db, opportunityID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SourceRecord, 0, len(recordings))
	for _, rec := range recordings {
		out = append(out, domain.SourceRecord{ID: rec.ExternalCallID, Date: rec.MeetingDate})
	}
	return out, nil
}

func (s *notesStore) ListCompletedSessions(ctx context.Context, opportunityID snowflake.ID) ([]domain.SourceRecord, error) {
	sessions, err := s.repo.ListCompletedNotesSessions(ctx, s.db, opportunityID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SourceRecord, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, domain.SourceRecord{ID: sess.ExternalSessionID, Date: sess.MeetingDate})
	}
	return out, nil
}
