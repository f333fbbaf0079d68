package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	meetingrepository "github.com/smallbiznis/dealcadence/internal/meeting/repository"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	opportunityrepository "github.com/smallbiznis/dealcadence/internal/opportunity/repository"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recalculatorStub struct {
	ids      []snowflake.ID
	triggers []nextcalldomain.Trigger
	err      error
}

func (r *recalculatorStub) Recalculate(ctx context.Context, id snowflake.ID) (schedule.State, error) {
	r.ids = append(r.ids, id)
	r.triggers = append(r.triggers, nextcalldomain.TriggerFromContext(ctx))
	return schedule.State{}, r.err
}

type importEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     meetingdomain.Repository
	importer domain.Importer
	recalc   *recalculatorStub
}

func setupImportEnv(t *testing.T, cfg config.ScheduleConfig) importEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&opportunitydomain.Opportunity{}, &meetingdomain.CalendarEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	repo := meetingrepository.Provide()
	recalc := &recalculatorStub{}
	importer := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clock.NewFakeClock(time.Date(2024, 12, 20, 12, 0, 0, 0, time.UTC)),
		ScheduleCfg:     config.NewStaticScheduleConfigHolder(cfg),
		Repo:            repo,
		OpportunityRepo: opportunityrepository.Provide(),
		Recalculator:    recalc,
	})
	return importEnv{db: db, node: node, repo: repo, importer: importer, recalc: recalc}
}

func (e importEnv) seedOpportunity(t *testing.T, orgID snowflake.ID) opportunitydomain.Opportunity {
	t.Helper()
	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	opportunity := opportunitydomain.Opportunity{
		ID:          e.node.Generate(),
		OrgID:       orgID,
		OwnerUserID: "owner-1",
		Name:        "Acme",
		Stage:       opportunitydomain.StageDiscovery,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.db.Create(&opportunity).Error)
	return opportunity
}

func (e importEnv) events(t *testing.T, opportunityID snowflake.ID) []meetingdomain.CalendarEvent {
	t.Helper()
	var events []meetingdomain.CalendarEvent
	require.NoError(t, e.db.Where("opportunity_id = ?", opportunityID).Order("start_time asc").Find(&events).Error)
	return events
}

func calendar(events ...string) []byte {
	body := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//dealcadence//test//EN\n" +
		strings.Join(events, "") +
		"END:VCALENDAR\n"
	return []byte(strings.ReplaceAll(body, "\n", "\r\n"))
}

const externalDemo = `BEGIN:VEVENT
UID:demo-1@acme.com
SUMMARY:Demo with Buyer
DTSTART:20241215T140000Z
DTEND:20241215T150000Z
ORGANIZER;CN=Alice:mailto:alice@acme.com
ATTENDEE;CN=Alice:mailto:alice@acme.com
ATTENDEE;CN=Bob:mailto:Bob@Buyer.io
STATUS:CONFIRMED
END:VEVENT
`

const internalSync = `BEGIN:VEVENT
UID:sync-1@acme.com
SUMMARY:Deal review
DTSTART:20241218T100000Z
DTEND:20241218T103000Z
ORGANIZER:mailto:alice@acme.com
ATTENDEE:mailto:alice@acme.com
ATTENDEE:mailto:carol@eu.acme.com
END:VEVENT
`

func TestImportStoresExternalEventAndRecalculates(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	result, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(externalDemo),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.External)
	assert.True(t, result.Recalculated)
	assert.Equal(t, []snowflake.ID{opp.ID}, env.recalc.ids)
	assert.Equal(t, []nextcalldomain.Trigger{nextcalldomain.TriggerMeeting}, env.recalc.triggers)

	events := env.events(t, opp.ID)
	require.Len(t, events, 1)
	assert.Equal(t, "demo-1@acme.com", events[0].ExternalEventID)
	assert.Equal(t, "Demo with Buyer", events[0].Title)
	assert.Equal(t, opp.OrgID, events[0].OrgID)
	assert.True(t, events[0].StartTime.Equal(time.Date(2024, 12, 15, 14, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].IsExternal)
	assert.Equal(t, meetingdomain.CalendarEventConfirmed, events[0].Status)
	assert.ElementsMatch(t, []string{"alice@acme.com", "bob@buyer.io"}, []string(events[0].Attendees))
}

func TestImportInternalOnlyInviteIsNotAMeeting(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	result, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(internalSync),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Zero(t, result.External)

	events := env.events(t, opp.ID)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsExternal)

	external, err := env.repo.ListExternalCalendarEvents(context.Background(), env.db, opp.ID)
	require.NoError(t, err)
	assert.Empty(t, external)
}

func TestImportUsesConfiguredOrgDomains(t *testing.T) {
	cfg := config.DefaultScheduleConfig()
	cfg.Calendar.OrgDomains = map[string][]string{"7": {"@Acme.com", "acme.io"}}
	env := setupImportEnv(t, cfg)
	opp := env.seedOpportunity(t, 7)

	// Organized from a partner mailbox, every attendee is internal.
	event := `BEGIN:VEVENT
UID:partner-1
DTSTART:20241210T090000Z
DTEND:20241210T100000Z
ORGANIZER:mailto:assistant@agency.com
ATTENDEE:mailto:alice@acme.com
ATTENDEE:mailto:dan@acme.io
END:VEVENT
`
	_, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(event, externalDemo),
	})
	require.NoError(t, err)

	events := env.events(t, opp.ID)
	require.Len(t, events, 2)
	assert.Equal(t, "partner-1", events[0].ExternalEventID)
	assert.False(t, events[0].IsExternal)
	assert.True(t, events[1].IsExternal)
}

func TestImportExpandsRecurrenceWithExdateAndOverride(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	weekly := `BEGIN:VEVENT
UID:weekly-1
SUMMARY:Weekly sync
DTSTART:20241202T150000Z
DTEND:20241202T153000Z
RRULE:FREQ=WEEKLY;COUNT=6
EXDATE:20241216T150000Z
ORGANIZER:mailto:alice@acme.com
ATTENDEE:mailto:bob@buyer.io
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
RECURRENCE-ID:20241223T150000Z
SUMMARY:Weekly sync (moved)
DTSTART:20241224T160000Z
DTEND:20241224T163000Z
ORGANIZER:mailto:alice@acme.com
ATTENDEE:mailto:bob@buyer.io
END:VEVENT
`
	result, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(weekly),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Imported)

	events := env.events(t, opp.ID)
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ExternalEventID)
		assert.True(t, ev.IsExternal)
	}
	at := func(day, hour int) string {
		return occurrenceID("weekly-1", time.Date(2024, 12, day, hour, 0, 0, 0, time.UTC))
	}
	assert.Equal(t, []string{
		at(2, 15),
		at(9, 15),
		at(23, 15),
		at(30, 15),
		occurrenceID("weekly-1", time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)),
	}, ids)

	moved := events[2]
	assert.Equal(t, "Weekly sync (moved)", moved.Title)
	assert.True(t, moved.StartTime.Equal(time.Date(2024, 12, 24, 16, 0, 0, 0, time.UTC)))
}

func TestImportIsIdempotentAndTracksCancellation(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)
	req := domain.ImportRequest{OpportunityID: opp.ID.String(), ICS: calendar(externalDemo)}

	_, err := env.importer.Import(context.Background(), req)
	require.NoError(t, err)
	first := env.events(t, opp.ID)
	require.Len(t, first, 1)

	req.ICS = calendar(strings.Replace(externalDemo, "STATUS:CONFIRMED", "STATUS:CANCELLED", 1))
	result, err := env.importer.Import(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)

	second := env.events(t, opp.ID)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, meetingdomain.CalendarEventCancelled, second[0].Status)

	external, err := env.repo.ListExternalCalendarEvents(context.Background(), env.db, opp.ID)
	require.NoError(t, err)
	assert.Empty(t, external)
}

func TestImportRelinkRecalculatesPreviousOwner(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	first := env.seedOpportunity(t, 7)
	second := env.seedOpportunity(t, 7)

	_, err := env.importer.Import(context.Background(), domain.ImportRequest{OpportunityID: first.ID.String(), ICS: calendar(externalDemo)})
	require.NoError(t, err)

	result, err := env.importer.Import(context.Background(), domain.ImportRequest{OpportunityID: second.ID.String(), ICS: calendar(externalDemo)})
	require.NoError(t, err)
	assert.True(t, result.Recalculated)
	assert.Equal(t, []snowflake.ID{first.ID, second.ID, first.ID}, env.recalc.ids)
	assert.Empty(t, env.events(t, first.ID))
	assert.Len(t, env.events(t, second.ID), 1)

	// A re-import onto the same owner touches only that owner.
	_, err = env.importer.Import(context.Background(), domain.ImportRequest{OpportunityID: second.ID.String(), ICS: calendar(externalDemo)})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{first.ID, second.ID, first.ID, second.ID}, env.recalc.ids)
}

func TestImportSkipsEventsWithoutUID(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	noUID := `BEGIN:VEVENT
SUMMARY:Orphan
DTSTART:20241211T090000Z
END:VEVENT
`
	result, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(noUID, externalDemo),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
}

func TestImportValidation(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	tests := []struct {
		name string
		req  domain.ImportRequest
		want error
	}{
		{"bad id", domain.ImportRequest{OpportunityID: "abc", ICS: calendar(externalDemo)}, domain.ErrInvalidID},
		{"empty body", domain.ImportRequest{OpportunityID: opp.ID.String(), ICS: []byte("  \n")}, domain.ErrEmptyCalendar},
		{"not a calendar", domain.ImportRequest{OpportunityID: opp.ID.String(), ICS: []byte("hello world")}, domain.ErrInvalidCalendar},
		{"unknown opportunity", domain.ImportRequest{OpportunityID: env.node.Generate().String(), ICS: calendar(externalDemo)}, opportunitydomain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.importer.Import(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, env.events(t, opp.ID))
	assert.Empty(t, env.recalc.ids)
}

func TestImportRespectsTenantScope(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	opp := env.seedOpportunity(t, 7)

	ctx := orgcontext.WithOrgID(context.Background(), 8)
	_, err := env.importer.Import(ctx, domain.ImportRequest{OpportunityID: opp.ID.String(), ICS: calendar(externalDemo)})
	assert.ErrorIs(t, err, opportunitydomain.ErrNotFound)
	assert.Empty(t, env.events(t, opp.ID))
}

func TestImportKeepsEventsWhenRecalculationFails(t *testing.T) {
	env := setupImportEnv(t, config.DefaultScheduleConfig())
	env.recalc.err = errors.New("source down")
	opp := env.seedOpportunity(t, 7)

	result, err := env.importer.Import(context.Background(), domain.ImportRequest{
		OpportunityID: opp.ID.String(),
		ICS:           calendar(externalDemo),
	})
	require.NoError(t, err)
	assert.False(t, result.Recalculated)
	assert.Len(t, env.events(t, opp.ID), 1)
}

func TestExpandEventsCapsOccurrences(t *testing.T) {
	start := time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)
	result := expandEvents([]parsedEvent{{
		UID:   "daily",
		Start: start,
		End:   start.Add(time.Hour),
		RRule: "FREQ=DAILY",
	}}, expandWindow{
		Start:       start,
		End:         start.Add(30 * 24 * time.Hour),
		MaxPerEvent: 5,
	})

	require.Len(t, result.Occurrences, 5)
	assert.Equal(t, []string{"daily"}, result.Truncated)
	assert.Equal(t, occurrenceID("daily", start), result.Occurrences[0].ExternalEventID)
	assert.True(t, result.Occurrences[4].End.Equal(start.Add(4*24*time.Hour+time.Hour)))
}

func TestExpandEventsSkipsBrokenRules(t *testing.T) {
	start := time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)
	result := expandEvents([]parsedEvent{
		{UID: "broken", Start: start, End: start, RRule: "FREQ=SOMETIMES"},
		{UID: "single", Start: start, End: start},
	}, expandWindow{Start: start.Add(-time.Hour), End: start.Add(time.Hour)})

	require.Len(t, result.Occurrences, 1)
	assert.Equal(t, "single", result.Occurrences[0].ExternalEventID)
	assert.Equal(t, 1, result.Skipped)
}

func TestHasExternalAttendee(t *testing.T) {
	tests := []struct {
		name     string
		event    parsedEvent
		internal []string
		want     bool
	}{
		{"organizer domain fallback", parsedEvent{Organizer: "a@acme.com", Attendees: []string{"b@acme.com", "c@buyer.io"}}, nil, true},
		{"subdomain is internal", parsedEvent{Organizer: "a@acme.com", Attendees: []string{"b@eu.acme.com"}}, nil, false},
		{"no organizer no config", parsedEvent{Attendees: []string{"c@buyer.io"}}, nil, false},
		{"configured wins over organizer", parsedEvent{Organizer: "a@buyer.io", Attendees: []string{"a@buyer.io"}}, []string{"acme.com"}, true},
		{"no attendees", parsedEvent{Organizer: "a@acme.com"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasExternalAttendee(tt.event, tt.internal))
		})
	}
}
