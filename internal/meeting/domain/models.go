package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Source identifies which integration produced a meeting.
type Source string

const (
	SourceCalendar      Source = "calendar"
	SourceCallRecording Source = "call_recording"
	SourceNotes         Source = "notes"
)

// Rank orders sources when two meetings share a timestamp.
func (s Source) Rank() int {
	switch s {
	case SourceCalendar:
		return 0
	case SourceCallRecording:
		return 1
	case SourceNotes:
		return 2
	default:
		return 3
	}
}

// MeetingEvent is the normalized shape the schedule calculator consumes.
// It is rebuilt on every recalculation and never stored.
type MeetingEvent struct {
	Date          time.Time `json:"date"`
	Source        Source    `json:"source"`
	SourceEventID string    `json:"source_event_id"`
}

type CalendarEventStatus string

const (
	CalendarEventConfirmed CalendarEventStatus = "confirmed"
	CalendarEventTentative CalendarEventStatus = "tentative"
	CalendarEventCancelled CalendarEventStatus = "cancelled"
)

type CalendarEvent struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID                `gorm:"not null;uniqueIndex:ux_calendar_events_org_external" json:"organization_id"`
	OpportunityID   snowflake.ID                `gorm:"not null;index" json:"opportunity_id"`
	ExternalEventID string                      `gorm:"not null;uniqueIndex:ux_calendar_events_org_external" json:"external_event_id"`
	Title           string                      `json:"title"`
	StartTime       time.Time                   `gorm:"not null" json:"start_time"`
	EndTime         time.Time                   `json:"end_time"`
	Attendees       datatypes.JSONSlice[string] `json:"attendees"`
	IsExternal      bool                        `gorm:"not null;default:false" json:"is_external"`
	Status          CalendarEventStatus         `gorm:"type:text;not null" json:"status"`
	CreatedAt       time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null" json:"updated_at"`
}

func (CalendarEvent) TableName() string { return "calendar_events" }

// SessionStatus is shared by call recordings and notes sessions.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionProcessing, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

type CallRecording struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID  `gorm:"not null;uniqueIndex:ux_call_recordings_org_external" json:"organization_id"`
	OpportunityID  snowflake.ID  `gorm:"not null;index" json:"opportunity_id"`
	Provider       string        `gorm:"not null;uniqueIndex:ux_call_recordings_org_external" json:"provider"`
	ExternalCallID string        `gorm:"not null;uniqueIndex:ux_call_recordings_org_external" json:"external_call_id"`
	MeetingDate    time.Time     `gorm:"not null" json:"meeting_date"`
	Status         SessionStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

func (CallRecording) TableName() string { return "call_recordings" }

type NotesSession struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID  `gorm:"not null;uniqueIndex:ux_notes_sessions_org_external" json:"organization_id"`
	OpportunityID     snowflake.ID  `gorm:"not null;index" json:"opportunity_id"`
	Provider          string        `gorm:"not null;uniqueIndex:ux_notes_sessions_org_external" json:"provider"`
	ExternalSessionID string        `gorm:"not null;uniqueIndex:ux_notes_sessions_org_external" json:"external_session_id"`
	MeetingDate       time.Time     `gorm:"not null" json:"meeting_date"`
	Status            SessionStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
}

func (NotesSession) TableName() string { return "notes_sessions" }
