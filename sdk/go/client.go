package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// CreateTaskInput is the body of a create request. Priority is required.
type CreateTaskInput struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// UpdateTaskInput changes the non-nil fields of a task.
type UpdateTaskInput struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	Status       *string    `json:"status,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
	AssignedTo   *string    `json:"assigned_to,omitempty"`
}

// FilterInput narrows Filter. Empty fields match everything; Unassigned
// selects tasks without an assignee.
type FilterInput struct {
	Status     string
	Priority   string
	AssignedTo string
	Unassigned bool
}

// Statistics summarizes the tracked tasks.
type Statistics struct {
	TotalTasks     int            `json:"total_tasks"`
	StatusCounts   map[string]int `json:"status_counts"`
	PriorityCounts map[string]int `json:"priority_counts"`
	CompletionRate string         `json:"completion_rate"`
}

// Event represents an audit log entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

// EventsQuery narrows Events.
type EventsQuery struct {
	Type     string
	EntityID string
	Limit    int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type taskList struct {
	Items []Task `json:"items"`
}

type nextTask struct {
	Task *Task `json:"task"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), in, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

// ListTasks returns every task in heap order.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	return c.list(ctx, "tasks")
}

// TasksByPriority returns every task, most urgent first.
func (c *Client) TasksByPriority(ctx context.Context) ([]Task, error) {
	return c.list(ctx, "tasks/priority")
}

// NextTask peeks at the most urgent task. It returns nil when none is tracked.
func (c *Client) NextTask(ctx context.Context) (*Task, error) {
	var resp nextTask
	err := c.do(ctx, http.MethodGet, "tasks/next", nil, &resp)
	return resp.Task, err
}

// PopNext removes and returns the most urgent task, or nil when none is tracked.
func (c *Client) PopNext(ctx context.Context) (*Task, error) {
	var resp nextTask
	err := c.do(ctx, http.MethodPost, "tasks/next/pop", nil, &resp)
	return resp.Task, err
}

// TopK returns the k most urgent tasks.
func (c *Client) TopK(ctx context.Context, k int) ([]Task, error) {
	return c.list(ctx, fmt.Sprintf("tasks/top/%d", k))
}

// Search matches keyword against titles and descriptions, ignoring case.
func (c *Client) Search(ctx context.Context, keyword string) ([]Task, error) {
	return c.list(ctx, "tasks/search?keyword="+url.QueryEscape(keyword))
}

func (c *Client) Filter(ctx context.Context, f FilterInput) ([]Task, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if f.AssignedTo != "" {
		q.Set("assigned_to", f.AssignedTo)
	}
	if f.Unassigned {
		q.Set("unassigned", "true")
	}
	endpoint := "tasks/filter"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return c.list(ctx, endpoint)
}

// Grouped returns tasks keyed by status.
func (c *Client) Grouped(ctx context.Context) (map[string][]Task, error) {
	var resp map[string][]Task
	err := c.do(ctx, http.MethodGet, "tasks/grouped", nil, &resp)
	return resp, err
}

func (c *Client) Overdue(ctx context.Context) ([]Task, error) {
	return c.list(ctx, "tasks/overdue")
}

func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var resp Statistics
	err := c.do(ctx, http.MethodGet, "tasks/statistics", nil, &resp)
	return resp, err
}

// Lookup fetches several tasks by id. Unknown ids are skipped.
func (c *Client) Lookup(ctx context.Context, ids []string) ([]Task, error) {
	return c.list(ctx, "tasks/lookup?ids="+url.QueryEscape(strings.Join(ids, ",")))
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, q EventsQuery) ([]Event, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.EntityID != "" {
		v.Set("entity_id", q.EntityID)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	endpoint := "events"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) list(ctx context.Context, endpoint string) ([]Task, error) {
	var resp taskList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	base := strings.TrimRight(c.BaseURL, "/")
	if basePath == "" {
		return base
	}
	return base + "/" + basePath
}
