package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const icsProvider = "ics"

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	ScheduleCfg     *config.ScheduleConfigHolder
	Repo            meetingdomain.Repository
	OpportunityRepo opportunitydomain.Repository
	Recalculator    nextcalldomain.Recalculator
	Metrics         *metrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	scheduleCfg     *config.ScheduleConfigHolder
	repo            meetingdomain.Repository
	opportunityRepo opportunitydomain.Repository
	recalculator    nextcalldomain.Recalculator
	metrics         *metrics.Metrics
}

func New(p Params) domain.Importer {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("calendarsync.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		scheduleCfg:     p.ScheduleCfg,
		repo:            p.Repo,
		opportunityRepo: p.OpportunityRepo,
		recalculator:    p.Recalculator,
		metrics:         p.Metrics,
	}
}

func (s *Service) Import(ctx context.Context, req domain.ImportRequest) (domain.ImportResult, error) {
	var result domain.ImportResult

	opportunityID, err := snowflake.ParseString(strings.TrimSpace(req.OpportunityID))
	if err != nil || opportunityID == 0 {
		return result, domain.ErrInvalidID
	}
	if len(bytes.TrimSpace(req.ICS)) == 0 {
		return result, domain.ErrEmptyCalendar
	}

	opportunity, err := s.opportunityRepo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return result, err
	}
	if opportunity == nil {
		return result, opportunitydomain.ErrNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && opportunity.OrgID != orgID {
		return result, opportunitydomain.ErrNotFound
	}

	events, skipped, err := parseCalendar(req.ICS)
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrInvalidCalendar, err)
	}

	now := s.clock.Now().UTC()
	expanded := expandEvents(events, expandWindow{
		Start: now.Add(-defaultLookBehind),
		End:   now.Add(defaultLookAhead),
	})
	result.Skipped = skipped + expanded.Skipped
	result.Truncated = expanded.Truncated
	for _, uid := range expanded.Truncated {
		s.log.Warn("recurring event truncated",
			zap.String("opportunity_id", opportunity.ID.String()),
			zap.String("uid", uid),
		)
	}

	internal := s.internalDomains(opportunity.OrgID)
	var relinked []snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, lookupErr := s.relinkedOpportunities(ctx, tx, opportunity, expanded.Occurrences)
		if lookupErr != nil {
			return lookupErr
		}
		relinked = ids
		for _, occ := range expanded.Occurrences {
			event := meetingdomain.CalendarEvent{
				ID:              s.genID.Generate(),
				OrgID:           opportunity.OrgID,
				OpportunityID:   opportunity.ID,
				ExternalEventID: occ.ExternalEventID,
				Title:           occ.Event.Summary,
				StartTime:       occ.Start.UTC(),
				EndTime:         occ.End.UTC(),
				Attendees:       datatypes.JSONSlice[string](occ.Event.Attendees),
				IsExternal:      hasExternalAttendee(occ.Event, internal),
				Status:          occ.Event.Status,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if event.Attendees == nil {
				event.Attendees = datatypes.JSONSlice[string]{}
			}
			if err := s.repo.UpsertCalendarEvent(ctx, tx, &event); err != nil {
				return err
			}
			result.Imported++
			if event.IsExternal {
				result.External++
			}
			if event.Status == meetingdomain.CalendarEventCancelled {
				result.Cancelled++
			}
		}
		return nil
	})
	if err != nil {
		return domain.ImportResult{}, err
	}

	for i := 0; i < result.Imported; i++ {
		s.metrics.RecordMeetingIngested(ctx, string(meetingdomain.SourceCalendar), icsProvider)
	}
	s.log.Info("calendar imported",
		zap.String("opportunity_id", opportunity.ID.String()),
		zap.Int("imported", result.Imported),
		zap.Int("external", result.External),
		zap.Int("skipped", result.Skipped),
	)

	if result.Imported == 0 {
		return result, nil
	}
	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerMeeting)
	result.Recalculated = true
	for _, id := range append([]snowflake.ID{opportunity.ID}, relinked...) {
		if _, err := s.recalculator.Recalculate(ctx, id); err != nil {
			s.log.Warn("recalculate after calendar import failed",
				zap.String("opportunity_id", id.String()),
				zap.Error(err),
			)
			result.Recalculated = false
		}
	}
	return result, nil
}

// relinkedOpportunities returns the other opportunities that currently own
// one of the incoming events. The upsert moves those events away, so their
// schedules must be recalculated too.
func (s *Service) relinkedOpportunities(ctx context.Context, tx *gorm.DB, opportunity *opportunitydomain.Opportunity, occurrences []occurrence) ([]snowflake.ID, error) {
	externalIDs := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		externalIDs = append(externalIDs, occ.ExternalEventID)
	}
	existing, err := s.repo.ListCalendarEventsByExternalIDs(ctx, tx, opportunity.OrgID, externalIDs)
	if err != nil {
		return nil, err
	}
	seen := map[snowflake.ID]bool{opportunity.ID: true}
	var out []snowflake.ID
	for _, ev := range existing {
		if seen[ev.OpportunityID] {
			continue
		}
		seen[ev.OpportunityID] = true
		out = append(out, ev.OpportunityID)
	}
	return out, nil
}

func (s *Service) internalDomains(orgID snowflake.ID) []string {
	if s.scheduleCfg == nil {
		return nil
	}
	configured := s.scheduleCfg.Get().Calendar.DomainsFor(orgID.String())
	out := make([]string, 0, len(configured))
	for _, d := range configured {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// hasExternalAttendee reports whether any attendee sits outside the internal
// domains. Without configured domains the organizer's domain is internal;
// without either the event cannot be classified and counts as internal.
func hasExternalAttendee(ev parsedEvent, internal []string) bool {
	if len(internal) == 0 {
		if d := emailDomain(ev.Organizer); d != "" {
			internal = []string{d}
		}
	}
	if len(internal) == 0 {
		return false
	}
	for _, attendee := range ev.Attendees {
		d := emailDomain(attendee)
		if d == "" {
			continue
		}
		if !domainMatches(d, internal) {
			return true
		}
	}
	return false
}

func domainMatches(d string, internal []string) bool {
	for _, candidate := range internal {
		if d == candidate || strings.HasSuffix(d, "."+candidate) {
			return true
		}
	}
	return false
}
