package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/meeting/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type CollectorParams struct {
	fx.In

	Log           *zap.Logger
	Calendar      domain.CalendarSource
	CallRecording domain.CallRecordingSource
	Notes         domain.NotesSource
}

type Collector struct {
	log           *zap.Logger
	calendar      domain.CalendarSource
	callRecording domain.CallRecordingSource
	notes         domain.NotesSource
}

func NewCollector(p CollectorParams) domain.Collector {
	return &Collector{
		log:           p.Log.Named("meeting.collector"),
		calendar:      p.Calendar,
		callRecording: p.CallRecording,
		notes:         p.Notes,
	}
}

// Collect returns every meeting for the opportunity, unordered and without
// cross-source deduplication. Any source failure fails the whole call.
func (c *Collector) Collect(ctx context.Context, opportunityID snowflake.ID) ([]domain.MeetingEvent, error) {
	sources := []struct {
		source domain.Source
		list   func(context.Context, snowflake.ID) ([]domain.SourceRecord, error)
	}{
		{domain.SourceCalendar, c.calendar.ListExternalEvents},
		{domain.SourceCallRecording, c.callRecording.ListCompletedSessions},
		{domain.SourceNotes, c.notes.ListCompletedSessions},
	}

	var events []domain.MeetingEvent
	for _, src := range sources {
		records, err := src.list(ctx, opportunityID)
		if err != nil {
			c.log.Warn("meeting source failed",
				zap.String("source", string(src.source)),
				zap.String("opportunity_id", opportunityID.String()),
				zap.Error(err),
			)
			return nil, &domain.SourceError{Source: src.source, Err: err}
		}
		for _, rec := range records {
			events = append(events, domain.MeetingEvent{
				Date:          rec.Date.UTC(),
				Source:        src.source,
				SourceEventID: rec.ID,
			})
		}
	}
	return events, nil
}
