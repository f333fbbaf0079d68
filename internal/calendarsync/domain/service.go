package domain

import (
	"context"
	"errors"
)

// ImportRequest carries a raw iCalendar payload for one opportunity.
type ImportRequest struct {
	OpportunityID string
	ICS           []byte
}

type ImportResult struct {
	Imported     int      `json:"imported"`
	External     int      `json:"external"`
	Cancelled    int      `json:"cancelled"`
	Skipped      int      `json:"skipped"`
	Truncated    []string `json:"truncated,omitempty"`
	Recalculated bool     `json:"recalculated"`
}

// Importer stores calendar events from an ICS feed and recalculates the
// opportunity schedule afterwards.
type Importer interface {
	Import(ctx context.Context, req ImportRequest) (ImportResult, error)
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrEmptyCalendar   = errors.New("empty_calendar")
	ErrInvalidCalendar = errors.New("invalid_calendar")
)
