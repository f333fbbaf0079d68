package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ScheduleUpdate is the full recalculated projection written in one UPDATE.
type ScheduleUpdate struct {
	LastCallDate        *time.Time
	LastCallDateSource  string
	LastCallDateEventID string

	NextCallDate        *time.Time
	NextCallDateSource  string
	NextCallDateEventID string

	CBC                    *time.Time
	NeedsNextCallScheduled bool
	CalculatedAt           time.Time
}

// ManualNextCallUpdate records a next-call date entered by a person.
type ManualNextCallUpdate struct {
	NextCallDate           *time.Time
	CBC                    *time.Time
	NeedsNextCallScheduled bool
	UpdatedAt              time.Time
}

// StaleQuery selects open opportunities whose schedule was never computed,
// was computed before CalculatedBefore, or whose next call is already past.
type StaleQuery struct {
	CalculatedBefore time.Time
	Now              time.Time
	AfterID          snowflake.ID
	Limit            int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, opportunity *Opportunity) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Opportunity, error)
	UpdateSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, update ScheduleUpdate) (bool, error)
	UpdateManualNextCall(ctx context.Context, db *gorm.DB, id snowflake.ID, update ManualNextCallUpdate) (bool, error)
	UpdateStage(ctx context.Context, db *gorm.DB, id snowflake.ID, stage Stage, now time.Time) (bool, error)
	ListStaleIDs(ctx context.Context, db *gorm.DB, query StaleQuery) ([]snowflake.ID, error)
	ListOpenIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}
