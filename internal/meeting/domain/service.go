package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SourceRecord is what a meeting source reports for one meeting.
type SourceRecord struct {
	ID   string
	Date time.Time
}

// CalendarSource lists calendar meetings with at least one attendee outside
// the owning organization. Cancelled events are never returned.
type CalendarSource interface {
	ListExternalEvents(ctx context.Context, opportunityID snowflake.ID) ([]SourceRecord, error)
}

type CallRecordingSource interface {
	ListCompletedSessions(ctx context.Context, opportunityID snowflake.ID) ([]SourceRecord, error)
}

type NotesSource interface {
	ListCompletedSessions(ctx context.Context, opportunityID snowflake.ID) ([]SourceRecord, error)
}

// Collector gathers every meeting for an opportunity across all sources.
type Collector interface {
	Collect(ctx context.Context, opportunityID snowflake.ID) ([]MeetingEvent, error)
}

type RecordCallRecordingRequest struct {
	OpportunityID  string
	Provider       string
	ExternalCallID string
	MeetingDate    time.Time
	Status         string
}

type RecordNotesSessionRequest struct {
	OpportunityID     string
	Provider          string
	ExternalSessionID string
	MeetingDate       time.Time
	Status            string
}

type IngestResult[T any] struct {
	Record       T    `json:"record"`
	Recalculated bool `json:"recalculated"`
}

// Ingestor records meetings reported by integrations and triggers a
// recalculation once a session completes.
type Ingestor interface {
	RecordCallRecording(ctx context.Context, req RecordCallRecordingRequest) (IngestResult[CallRecording], error)
	RecordNotesSession(ctx context.Context, req RecordNotesSessionRequest) (IngestResult[NotesSession], error)
}

var (
	ErrSourceUnavailable = errors.New("source_unavailable")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidProvider   = errors.New("invalid_provider")
	ErrInvalidExternalID = errors.New("invalid_external_id")
	ErrInvalidDate       = errors.New("invalid_meeting_date")
	ErrInvalidStatus     = errors.New("invalid_status")
)

// SourceError names the meeting source that failed.
type SourceError struct {
	Source Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("meeting source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}
