package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	defaultLookBehind             = 180 * 24 * time.Hour
	defaultLookAhead              = 180 * 24 * time.Hour
	defaultMaxOccurrencesPerEvent = 500
)

type expandWindow struct {
	Start       time.Time
	End         time.Time
	MaxPerEvent int
}

// occurrence is one concrete meeting ready to be stored.
type occurrence struct {
	ExternalEventID string
	Event           parsedEvent
	Start           time.Time
	End             time.Time
}

type expandResult struct {
	Occurrences []occurrence
	Truncated   []string
	Skipped     int
}

// occurrenceID keys a recurring instance by its original start.
func occurrenceID(uid string, start time.Time) string {
	return fmt.Sprintf("%s#%d", uid, start.Unix())
}

// expandEvents turns parsed VEVENTs into occurrences. Non-recurring events
// are kept whatever their date. Recurring events are expanded only inside the
// window. A RECURRENCE-ID override replaces the instance it names.
func expandEvents(events []parsedEvent, w expandWindow) expandResult {
	var result expandResult
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]parsedEvent)
	bases := make([]parsedEvent, 0, len(events))
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	for _, ev := range bases {
		if ev.RRule == "" {
			result.Occurrences = append(result.Occurrences, occurrence{
				ExternalEventID: ev.UID,
				Event:           ev,
				Start:           ev.Start,
				End:             ev.End,
			})
			continue
		}

		rule, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			result.Skipped++
			continue
		}
		rule.DTStart(ev.Start)

		var set rrule.Set
		set.RRule(rule)
		for _, ex := range ev.ExDates {
			set.ExDate(ex.In(ev.Start.Location()))
		}
		for _, ov := range overrides[ev.UID] {
			set.ExDate(ov.RecurrenceID.In(ev.Start.Location()))
		}

		times := set.Between(w.Start.In(ev.Start.Location()), w.End.In(ev.Start.Location()), true)
		if len(times) > w.MaxPerEvent {
			times = times[:w.MaxPerEvent]
			result.Truncated = append(result.Truncated, ev.UID)
		}

		duration := ev.End.Sub(ev.Start)
		for _, start := range times {
			result.Occurrences = append(result.Occurrences, occurrence{
				ExternalEventID: occurrenceID(ev.UID, start),
				Event:           ev,
				Start:           start,
				End:             start.Add(duration),
			})
		}
	}

	for _, list := range overrides {
		for _, ov := range list {
			result.Occurrences = append(result.Occurrences, occurrence{
				ExternalEventID: occurrenceID(ov.UID, *ov.RecurrenceID),
				Event:           ov,
				Start:           ov.Start,
				End:             ov.End,
			})
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ExternalEventID < b.ExternalEventID
	})
	return result
}
