package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	UpsertCalendarEvent(ctx context.Context, db *gorm.DB, event *CalendarEvent) error
	ListCalendarEventsByExternalIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalEventIDs []string) ([]CalendarEvent, error)
	ListExternalCalendarEvents(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]CalendarEvent, error)

	UpsertCallRecording(ctx context.Context, db *gorm.DB, recording *CallRecording) error
	FindCallRecording(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider, externalCallID string) (*CallRecording, error)
	ListCompletedCallRecordings(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]CallRecording, error)

	UpsertNotesSession(ctx context.Context, db *gorm.DB, session *NotesSession) error
	FindNotesSession(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider, externalSessionID string) (*NotesSession, error)
	ListCompletedNotesSessions(ctx context.Context, db *gorm.DB, opportunityID snowflake.ID) ([]NotesSession, error)
}
