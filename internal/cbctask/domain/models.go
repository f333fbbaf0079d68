package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusNeedsAction Status = "needs_action"
	StatusCompleted   Status = "completed"
)

// Task is the local mirror of the reminder created in the owner's task app.
// TaskSource is unique, so an opportunity has at most one live task.
type Task struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index" json:"organization_id"`
	UserID         string       `gorm:"not null;uniqueIndex:ux_cbc_tasks_user_external" json:"user_id"`
	OpportunityID  snowflake.ID `gorm:"not null;index" json:"opportunity_id"`
	ListID         string       `gorm:"not null" json:"list_id"`
	ExternalTaskID string       `gorm:"not null;uniqueIndex:ux_cbc_tasks_user_external" json:"external_task_id"`
	TaskSource     string       `gorm:"not null;uniqueIndex:ux_cbc_tasks_task_source" json:"task_source"`
	Title          string       `gorm:"not null" json:"title"`
	Notes          string       `json:"notes"`
	Due            time.Time    `gorm:"not null" json:"due"`
	Position       string       `json:"position,omitempty"`
	Status         Status       `gorm:"type:text;not null" json:"status"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "cbc_tasks" }

// TaskSource is the deterministic tag linking a task to its opportunity.
func TaskSource(opportunityID snowflake.ID) string {
	return "cbc:" + opportunityID.String()
}

func (t Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}
