package service

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
)

// parsedEvent is one VEVENT before recurrence expansion.
type parsedEvent struct {
	UID       string
	Summary   string
	Start     time.Time
	End       time.Time
	AllDay    bool
	Status    meetingdomain.CalendarEventStatus
	Organizer string
	Attendees []string

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

const componentPropertyRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

var (
	errMissingUID   = errors.New("missing UID")
	errMissingStart = errors.New("missing DTSTART")
)

// parseCalendar returns every usable VEVENT and the number of events dropped
// for missing UID or DTSTART.
func parseCalendar(body []byte) ([]parsedEvent, int, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	var (
		events  []parsedEvent
		skipped int
	)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, errMissingUID
	}
	out.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errMissingStart
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = isDateValue(dtStart)

	end, err := ve.GetEndAt()
	switch {
	case err == nil && !end.Before(start):
		out.End = end
	case out.AllDay:
		out.End = start.Add(24 * time.Hour)
	default:
		out.End = start
	}

	out.Status = parseStatus(ve.GetProperty(ical.ComponentPropertyStatus))

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = normalizeEmail(p.Value)
	}
	seen := make(map[string]struct{})
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		email := normalizeEmail(p.Value)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out.Attendees = append(out.Attendees, email)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propertyLocation(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(componentPropertyRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, propertyLocation(p, start.Location())); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

func parseStatus(p *ical.IANAProperty) meetingdomain.CalendarEventStatus {
	if p == nil {
		return meetingdomain.CalendarEventConfirmed
	}
	switch strings.ToUpper(strings.TrimSpace(p.Value)) {
	case "CANCELLED":
		return meetingdomain.CalendarEventCancelled
	case "TENTATIVE":
		return meetingdomain.CalendarEventTentative
	default:
		return meetingdomain.CalendarEventConfirmed
	}
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propertyLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(strings.TrimSpace(tz[0])); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// parseICSTime accepts the UTC, floating and date-only forms.
func parseICSTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(value, "Z"):
		return time.Parse("20060102T150405Z", value)
	case strings.Contains(value, "T"):
		return time.ParseInLocation("20060102T150405", value, loc)
	default:
		return time.ParseInLocation("20060102", value, loc)
	}
}

func normalizeEmail(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "mailto:") {
		raw = raw[7:]
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(raw, "@") {
		return ""
	}
	return raw
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
