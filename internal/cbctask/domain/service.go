package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TaskInput is what the synchronizer writes to the external task app.
type TaskInput struct {
	Title string
	Notes string
	Due   time.Time
}

// ExternalTask is the task app's view of a reminder.
type ExternalTask struct {
	ID        string
	ListID    string
	Title     string
	Notes     string
	Status    string
	Due       *time.Time
	Position  string
	Completed *time.Time
}

// ExternalStatusCompleted is the task app's status for a finished task.
const ExternalStatusCompleted = "completed"

// IsCompleted reports whether the user finished the task in the task app.
func (t ExternalTask) IsCompleted() bool {
	return t.Status == ExternalStatusCompleted || t.Completed != nil
}

// TaskAPI talks to the owner's task app. Implementations resolve the access
// token for userID themselves.
type TaskAPI interface {
	CreateTask(ctx context.Context, userID, listID string, input TaskInput) (ExternalTask, error)
	UpdateTask(ctx context.Context, userID, listID, taskID string, input TaskInput) (ExternalTask, error)
	// DeleteTask succeeds when the task is already gone.
	DeleteTask(ctx context.Context, userID, listID, taskID string) error
}

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionNoop    Action = "noop"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

const (
	ReasonOpportunityClosed = "opportunity_closed"
	ReasonNoCBC             = "no_cbc"
	ReasonNeedsNextCall     = "needs_next_call_scheduled"
	ReasonDueUnchanged      = "due_unchanged"
	ReasonCompleted         = "completed"
	ReasonTaskExists        = "task_exists"
)

type SyncResult struct {
	Action         Action       `json:"action"`
	OpportunityID  snowflake.ID `json:"opportunity_id"`
	TaskID         snowflake.ID `json:"task_id,omitempty"`
	ExternalTaskID string       `json:"external_task_id,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Error          string       `json:"error,omitempty"`
}

type Service interface {
	// ProcessForOpportunity converges the opportunity's reminder task with
	// its current CBC date. External API failures are reported in the
	// result; only storage errors are returned.
	ProcessForOpportunity(ctx context.Context, opportunityID snowflake.ID) (SyncResult, error)
	MarkCompleted(ctx context.Context, taskID snowflake.ID) (Task, error)
	FindForOpportunity(ctx context.Context, opportunityID snowflake.ID) (*Task, error)
}

var (
	ErrTaskExists = errors.New("task_exists")
	ErrNotFound   = errors.New("task_not_found")
	// ErrExternalTaskGone means the task app no longer has the task.
	ErrExternalTaskGone = errors.New("external_task_gone")
)
