// Package schedule derives last/next call dates and the contact-before-call
// date from a set of meetings. Everything here is pure and parameterised by
// the reference time.
package schedule

import (
	"sort"
	"time"

	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
)

// Attribution is a chosen meeting date with the meeting it came from. A nil
// Date means no meeting qualified.
type Attribution struct {
	Date    *time.Time           `json:"date"`
	Source  meetingdomain.Source `json:"source,omitempty"`
	EventID string               `json:"event_id,omitempty"`
}

// IsZero reports whether no meeting was attributed.
func (a Attribution) IsZero() bool {
	return a.Date == nil
}

// State is the schedule projection stored on an opportunity, minus the
// calculation timestamps.
type State struct {
	LastCall               Attribution `json:"last_call"`
	NextCall               Attribution `json:"next_call"`
	CBC                    *time.Time  `json:"cbc"`
	NeedsNextCallScheduled bool        `json:"needs_next_call_scheduled"`
}

// Calculate composes LastCallDate, NextCallDate and CBCMidpoint.
func Calculate(events []meetingdomain.MeetingEvent, now time.Time) State {
	last := LastCallDate(events, now)
	next := NextCallDate(events, now)
	return State{
		LastCall:               last,
		NextCall:               next,
		CBC:                    CBCMidpoint(last.Date, next.Date),
		NeedsNextCallScheduled: NeedsNextCallScheduled(last.Date, next.Date),
	}
}

// LastCallDate picks the latest meeting at or before now.
func LastCallDate(events []meetingdomain.MeetingEvent, now time.Time) Attribution {
	ordered := sorted(events)
	var pick *meetingdomain.MeetingEvent
	for i := range ordered {
		ev := &ordered[i]
		if ev.Date.After(now) {
			break
		}
		// strictly later only, so the first event at a shared timestamp wins
		if pick == nil || ev.Date.After(pick.Date) {
			pick = ev
		}
	}
	return attribution(pick)
}

// NextCallDate picks the earliest meeting strictly after now.
func NextCallDate(events []meetingdomain.MeetingEvent, now time.Time) Attribution {
	for _, ev := range sorted(events) {
		if ev.Date.After(now) {
			return attribution(&ev)
		}
	}
	return Attribution{}
}

// CBCMidpoint returns last + (next-last)/2, or nil unless next is strictly
// after last.
func CBCMidpoint(last, next *time.Time) *time.Time {
	if last == nil || next == nil || !next.After(*last) {
		return nil
	}
	mid := last.Add(next.Sub(*last) / 2)
	return &mid
}

// NeedsNextCallScheduled is true when a call has happened but none is booked.
func NeedsNextCallScheduled(last, next *time.Time) bool {
	return last != nil && next == nil
}

// sorted returns a copy ordered by (date, source rank, source event id), the
// tie-break used for meetings sharing a timestamp.
func sorted(events []meetingdomain.MeetingEvent) []meetingdomain.MeetingEvent {
	out := make([]meetingdomain.MeetingEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Source.Rank() != b.Source.Rank() {
			return a.Source.Rank() < b.Source.Rank()
		}
		return a.SourceEventID < b.SourceEventID
	})
	return out
}

func attribution(ev *meetingdomain.MeetingEvent) Attribution {
	if ev == nil {
		return Attribution{}
	}
	date := ev.Date
	return Attribution{
		Date:    &date,
		Source:  ev.Source,
		EventID: ev.SourceEventID,
	}
}
