package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TaskUpdate struct {
	Title     string
	Notes     string
	Due       time.Time
	Position  string
	UpdatedAt time.Time
}

type Repository interface {
	// Insert upserts on (user_id, external_task_id). A clash on task_source
	// returns ErrTaskExists.
	Insert(ctx context.Context, db *gorm.DB, task *Task) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Task, error)
	FindByTaskSource(ctx context.Context, db *gorm.DB, taskSource string) (*Task, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, update TaskUpdate) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
