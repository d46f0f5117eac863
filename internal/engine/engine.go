package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/index"
	"taskline/internal/query"
	"taskline/internal/repo"
)

// Engine pairs the task repository with the priority index. Every mutation
// touches both, plus the audit log, under one lock; reads copy a snapshot
// under the lock and query it after releasing it.
type Engine struct {
	DB     *sql.DB
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger

	metrics *Metrics

	mu     sync.Mutex
	repo   *repo.Repo
	index  *index.Index
	nextID int
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		DB:     db,
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: slog.Default(),
		repo:   repo.New(),
		index:  index.New(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ValidationError reports a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Priority    domain.Priority
	Status      domain.Status
	DueDate     *time.Time
	AssignedTo  string
	ActorID     string
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if !opts.Priority.Valid() {
		return domain.Task{}, ValidationError{Field: "priority", Reason: "must be one of LOW, MEDIUM, HIGH, CRITICAL"}
	}
	if opts.Status == "" {
		opts.Status = domain.StatusTodo
	}
	if !opts.Status.Valid() {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := &domain.Task{
		ID:          e.formatID(e.nextID + 1),
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      opts.Status,
		CreatedAt:   e.now().UTC(),
		DueDate:     opts.DueDate,
		AssignedTo:  opts.AssignedTo,
	}
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}
	if e.repo.Has(t.ID) {
		return domain.Task{}, fmt.Errorf("%w: %s", index.ErrDuplicateID, t.ID)
	}
	payload := events.EventPayload{"title": t.Title, "priority": t.Priority.String(), "status": string(t.Status)}
	if err := e.record(ctx, events.TaskCreated, t.ID, opts.ActorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := e.index.Insert(t); err != nil {
		return domain.Task{}, err
	}
	e.nextID++
	e.repo.Put(t)
	e.observe(events.TaskCreated)
	e.logger().Debug("task created", "id", t.ID, "priority", t.Priority.String())
	return t.Clone(), nil
}

func (e *Engine) formatID(n int) string {
	return fmt.Sprintf("%s-%0*d", e.Config.Tasks.IDPrefix, e.Config.Tasks.IDWidth, n)
}

func (e *Engine) GetTask(_ context.Context, id string) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.repo.Get(id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, err)
	}
	return t.Clone(), nil
}

// GetMany returns the tasks for the ids that exist, in the order requested.
func (e *Engine) GetMany(_ context.Context, ids []string) []domain.Task {
	sorted := query.SortByID(e.snapshot())
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := query.BinarySearchByID(sorted, strings.TrimSpace(id)); ok {
			out = append(out, t)
		}
	}
	return out
}

// ListTasks returns every task in heap order.
func (e *Engine) ListTasks(_ context.Context) []domain.Task {
	return e.snapshot()
}

// TasksByPriority returns every task, most urgent first.
func (e *Engine) TasksByPriority(_ context.Context) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Sorted()
}

// NextTask returns the most urgent task without removing it.
func (e *Engine) NextTask(_ context.Context) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.index.Peek()
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// PopNext removes the most urgent task from the tracker and returns it.
func (e *Engine) PopNext(ctx context.Context, actorID string) (domain.Task, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	top, ok := e.index.Peek()
	if !ok {
		return domain.Task{}, false, nil
	}
	if err := e.record(ctx, events.TaskPopped, top.ID, actorID, events.EventPayload{"priority": top.Priority.String()}); err != nil {
		return domain.Task{}, false, err
	}
	e.index.ExtractTop()
	if _, err := e.repo.Delete(top.ID); err != nil {
		return domain.Task{}, false, fmt.Errorf("task %s indexed but not stored: %w", top.ID, err)
	}
	e.observe(events.TaskPopped)
	return top.Clone(), true, nil
}

// TaskUpdateOptions carries the fields to change; nil leaves a field as is.
type TaskUpdateOptions struct {
	ID           string
	Title        *string
	Description  *string
	Priority     *domain.Priority
	Status       *domain.Status
	DueDate      *time.Time
	ClearDueDate bool
	AssignedTo   *string
	ActorID      string
}

func (e *Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Priority != nil && !opts.Priority.Valid() {
		return domain.Task{}, ValidationError{Field: "priority", Reason: "must be one of LOW, MEDIUM, HIGH, CRITICAL"}
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *opts.Status)}
	}
	if opts.ClearDueDate && opts.DueDate != nil {
		return domain.Task{}, ValidationError{Field: "due_date", Reason: "cannot set and clear in one update"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.repo.Get(opts.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.ID, err)
	}

	changes := events.EventPayload{}
	if opts.Title != nil && *opts.Title != t.Title {
		changes["title"] = *opts.Title
	}
	if opts.Description != nil && *opts.Description != t.Description {
		changes["description"] = *opts.Description
	}
	if opts.Status != nil && *opts.Status != t.Status {
		changes["status"] = string(*opts.Status)
	}
	if opts.AssignedTo != nil && *opts.AssignedTo != t.AssignedTo {
		changes["assigned_to"] = *opts.AssignedTo
	}
	priorityChanged := opts.Priority != nil && *opts.Priority != t.Priority
	if priorityChanged {
		changes["priority"] = opts.Priority.String()
	}
	var newDue *time.Time
	dueChanged := false
	switch {
	case opts.ClearDueDate && t.DueDate != nil:
		dueChanged = true
		changes["due_date"] = nil
	case opts.DueDate != nil && (t.DueDate == nil || !t.DueDate.Equal(*opts.DueDate)):
		d := opts.DueDate.UTC()
		newDue = &d
		dueChanged = true
		changes["due_date"] = d.Format(time.RFC3339)
	}
	if len(changes) == 0 {
		return t.Clone(), nil
	}
	if err := e.record(ctx, events.TaskUpdated, t.ID, opts.ActorID, changes); err != nil {
		return domain.Task{}, err
	}

	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		t.Status = *opts.Status
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = *opts.AssignedTo
	}
	switch {
	case dueChanged:
		// The due date is part of the rank, so the task leaves the index
		// while both rank fields change and re-enters at its new place.
		e.index.Remove(t.ID)
		t.DueDate = newDue
		if priorityChanged {
			t.Priority = *opts.Priority
		}
		if err := e.index.Insert(t); err != nil {
			return domain.Task{}, err
		}
	case priorityChanged:
		e.index.UpdatePriority(t.ID, *opts.Priority)
	}
	e.observe(events.TaskUpdated)
	e.logger().Debug("task updated", "id", t.ID, "fields", len(changes))
	return t.Clone(), nil
}

func (e *Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.repo.Has(id) {
		return fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	if err := e.record(ctx, events.TaskDeleted, id, actorID, nil); err != nil {
		return err
	}
	if _, err := e.repo.Delete(id); err != nil {
		return err
	}
	e.index.Remove(id)
	e.observe(events.TaskDeleted)
	e.logger().Debug("task deleted", "id", id)
	return nil
}

// Len reports how many tasks are tracked.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Len()
}

// Verify checks that the index is a valid heap holding exactly the stored
// tasks.
func (e *Engine) Verify() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.index.Verify(); err != nil {
		return err
	}
	if e.index.Len() != e.repo.Len() {
		return fmt.Errorf("index holds %d tasks, repository %d", e.index.Len(), e.repo.Len())
	}
	for _, t := range e.repo.Snapshot() {
		if !e.index.Contains(t.ID) {
			return fmt.Errorf("task %s stored but not indexed", t.ID)
		}
	}
	return nil
}

func (e *Engine) snapshot() []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Unordered()
}

// record appends an audit event in its own transaction. Callers hold e.mu
// and apply the in-memory change only when record succeeds.
func (e *Engine) record(ctx context.Context, evtType, entityID, actorID string, payload events.EventPayload) error {
	if e.DB == nil {
		return nil
	}
	if actorID == "" {
		actorID = "anonymous"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, evtType, entityID, actorID, payload); err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return tx.Commit()
}
