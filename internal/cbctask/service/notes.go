package service

import (
	"strings"
	"time"

	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
)

const notesDateLayout = "Mon, Jan 2 2006 15:04 MST"

// RenderNotes builds the task body shown in the owner's task app.
func RenderNotes(opportunity opportunitydomain.Opportunity, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString("Opportunity: ")
	b.WriteString(opportunity.Name)
	b.WriteString("\n")
	b.WriteString("Stage: ")
	b.WriteString(string(opportunity.Stage))
	b.WriteString("\n\n")

	writeMeeting(&b, "Last meeting", opportunity.LastCallDate, opportunity.LastCallDateSource, loc)
	writeMeeting(&b, "Next meeting", opportunity.NextCallDate, opportunity.NextCallDateSource, loc)

	b.WriteString("Check in by: ")
	if opportunity.CBC != nil {
		b.WriteString(opportunity.CBC.In(loc).Format("Mon, Jan 2 2006"))
	} else {
		b.WriteString("-")
	}
	b.WriteString("\n")
	return b.String()
}

func writeMeeting(b *strings.Builder, label string, date *time.Time, source string, loc *time.Location) {
	b.WriteString(label)
	b.WriteString(": ")
	if date == nil {
		b.WriteString("none\n")
		return
	}
	b.WriteString(date.In(loc).Format(notesDateLayout))
	if source != "" {
		b.WriteString(" (")
		b.WriteString(strings.ReplaceAll(source, "_", " "))
		b.WriteString(")")
	}
	b.WriteString("\n")
}
