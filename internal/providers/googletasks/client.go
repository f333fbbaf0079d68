// Package googletasks implements the reminder task API against the Google
// Tasks REST endpoints.
package googletasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/internal/config"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	"github.com/smallbiznis/dealcadence/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const statusNeedsAction = "needsAction"

// ErrRateLimited covers both the local per-user limiter and HTTP 429.
var ErrRateLimited = errors.New("task_api_rate_limited")

// APIError is a non-success response from the task API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("google tasks %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("google tasks %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

type taskResource struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Status    string `json:"status,omitempty"`
	Due       string `json:"due,omitempty"`
	Position  string `json:"position,omitempty"`
	Completed string `json:"completed,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	Credentials credentialdomain.Provider
	Limiter     *ratelimit.TaskAPILimiter `optional:"true"`
}

type Client struct {
	baseURL     string
	client      *http.Client
	log         *zap.Logger
	credentials credentialdomain.Provider
	limiter     *ratelimit.TaskAPILimiter
}

func New(p Params) *Client {
	timeout := time.Duration(p.Cfg.GoogleTasks.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(p.Cfg.GoogleTasks.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://tasks.googleapis.com/tasks/v1"
	}
	return &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		log:         p.Log.Named("googletasks.client"),
		credentials: p.Credentials,
		limiter:     p.Limiter,
	}
}

func (c *Client) CreateTask(ctx context.Context, userID, listID string, input cbctaskdomain.TaskInput) (cbctaskdomain.ExternalTask, error) {
	body := taskResource{
		Title:  input.Title,
		Notes:  input.Notes,
		Status: statusNeedsAction,
		Due:    formatDue(input.Due),
	}
	var out taskResource
	if err := c.do(ctx, "create", userID, http.MethodPost, tasksPath(listID), body, &out); err != nil {
		return cbctaskdomain.ExternalTask{}, err
	}
	if out.ID == "" {
		return cbctaskdomain.ExternalTask{}, &APIError{Op: "create", StatusCode: http.StatusOK, Message: "response has no task id"}
	}
	return toExternal(listID, out), nil
}

func (c *Client) UpdateTask(ctx context.Context, userID, listID, taskID string, input cbctaskdomain.TaskInput) (cbctaskdomain.ExternalTask, error) {
	body := taskResource{
		Title: input.Title,
		Notes: input.Notes,
		Due:   formatDue(input.Due),
	}
	var out taskResource
	err := c.do(ctx, "update", userID, http.MethodPatch, taskPath(listID, taskID), body, &out)
	if isGone(err) {
		return cbctaskdomain.ExternalTask{}, fmt.Errorf("%w: %w", cbctaskdomain.ErrExternalTaskGone, err)
	}
	if err != nil {
		return cbctaskdomain.ExternalTask{}, err
	}
	if out.ID == "" {
		out.ID = taskID
	}
	return toExternal(listID, out), nil
}

func (c *Client) DeleteTask(ctx context.Context, userID, listID, taskID string) error {
	err := c.do(ctx, "delete", userID, http.MethodDelete, taskPath(listID, taskID), nil, nil)
	if isGone(err) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, op, userID, method, path string, body any, out any) error {
	if err := c.limiter.Allow(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	token, err := c.credentials.GetValidAccessToken(ctx, userID, credentialdomain.ProviderGoogleTasks)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("google tasks %s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.Debug("google tasks call",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, decodeError(op, resp))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(op string, resp *http.Response) error {
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
		apiErr.Message = strings.TrimSpace(payload.Error.Message)
	}
	return apiErr
}

func isGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
}

func tasksPath(listID string) string {
	return "/lists/" + url.PathEscape(listID) + "/tasks"
}

func taskPath(listID, taskID string) string {
	return tasksPath(listID) + "/" + url.PathEscape(taskID)
}

func formatDue(due time.Time) string {
	if due.IsZero() {
		return ""
	}
	return due.UTC().Format(time.RFC3339)
}

func toExternal(listID string, res taskResource) cbctaskdomain.ExternalTask {
	task := cbctaskdomain.ExternalTask{
		ID:       res.ID,
		ListID:   listID,
		Title:    res.Title,
		Notes:    res.Notes,
		Status:   res.Status,
		Position: res.Position,
	}
	if due, err := time.Parse(time.RFC3339, res.Due); err == nil {
		task.Due = &due
	}
	if completed, err := time.Parse(time.RFC3339, res.Completed); err == nil {
		task.Completed = &completed
	}
	return task
}

