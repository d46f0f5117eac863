package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/migrate"
	"taskline/internal/query"
	"taskline/internal/repo"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.MemoryDSN})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Ctx: ctx}
}

func day(d int) *time.Time {
	v := time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func (env testEnv) create(t *testing.T, title string, p domain.Priority, due *time.Time) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:    title,
		Priority: p,
		DueDate:  due,
		ActorID:  "tester",
	})
	require.NoError(t, err)
	return task
}

func TestCreateTaskAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "first", domain.PriorityLow, nil)
	b := env.create(t, "second", domain.PriorityHigh, nil)

	assert.Equal(t, "TASK-0001", a.ID)
	assert.Equal(t, "TASK-0002", b.ID)
	assert.Equal(t, domain.StatusTodo, a.Status)
	assert.Equal(t, testNow, a.CreatedAt)

	next, ok := env.Engine.NextTask(env.Ctx)
	require.True(t, ok)
	assert.Equal(t, b.ID, next.ID)
	require.NoError(t, env.Engine.Verify())
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "no priority"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "priority", verr.Field)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "bad status", Priority: domain.PriorityLow, Status: "DONE"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
	assert.Zero(t, env.Engine.Len())
}

func TestReturnedTasksAreCopies(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "copy", domain.PriorityMedium, day(12))
	task.Priority = domain.PriorityCritical
	*task.DueDate = testNow

	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, got.Priority)
	assert.True(t, got.DueDate.Equal(*day(12)))
}

func TestUpdatePriorityRepositions(t *testing.T) {
	env := newTestEnv(t)
	low := env.create(t, "low", domain.PriorityLow, nil)
	env.create(t, "high", domain.PriorityHigh, nil)
	env.create(t, "medium", domain.PriorityMedium, nil)

	critical := domain.PriorityCritical
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: low.ID, Priority: &critical, ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, updated.Priority)

	next, ok := env.Engine.NextTask(env.Ctx)
	require.True(t, ok)
	assert.Equal(t, low.ID, next.ID)
	require.NoError(t, env.Engine.Verify())

	lowest := domain.PriorityLow
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: low.ID, Priority: &lowest})
	require.NoError(t, err)
	ordered := env.Engine.TasksByPriority(env.Ctx)
	assert.Equal(t, low.ID, ordered[len(ordered)-1].ID)
	require.NoError(t, env.Engine.Verify())
}

func TestUpdateDueDateRepositions(t *testing.T) {
	env := newTestEnv(t)
	early := env.create(t, "early", domain.PriorityHigh, day(11))
	late := env.create(t, "late", domain.PriorityHigh, day(20))

	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: late.ID, DueDate: day(5)})
	require.NoError(t, err)
	next, _ := env.Engine.NextTask(env.Ctx)
	assert.Equal(t, late.ID, next.ID)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: late.ID, ClearDueDate: true})
	require.NoError(t, err)
	next, _ = env.Engine.NextTask(env.Ctx)
	assert.Equal(t, early.ID, next.ID)
	require.NoError(t, env.Engine.Verify())
}

func TestUpdateTaskFieldsAndErrors(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "Fix login bug", domain.PriorityHigh, nil)

	title := "Fix logout bug"
	status := domain.StatusInProgress
	assignee := "Alice"
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &title, Status: &status, AssignedTo: &assignee})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, status, updated.Status)
	assert.Equal(t, assignee, updated.AssignedTo)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "TASK-0404", Title: &title})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, DueDate: day(1), ClearDueDate: true})
	var verr engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.PriorityCritical, nil)
	b := env.create(t, "b", domain.PriorityLow, nil)

	require.NoError(t, env.Engine.DeleteTask(env.Ctx, a.ID, "tester"))
	assert.Equal(t, 1, env.Engine.Len())
	next, ok := env.Engine.NextTask(env.Ctx)
	require.True(t, ok)
	assert.Equal(t, b.ID, next.ID)

	_, err := env.Engine.GetTask(env.Ctx, a.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteTask(env.Ctx, a.ID, "tester"), repo.ErrNotFound)
	require.NoError(t, env.Engine.Verify())
}

func TestPopNextDrainsInRankOrder(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "medium", domain.PriorityMedium, nil)
	env.create(t, "critical", domain.PriorityCritical, nil)
	env.create(t, "high later", domain.PriorityHigh, day(20))
	env.create(t, "high sooner", domain.PriorityHigh, day(11))

	var titles []string
	for {
		task, ok, err := env.Engine.PopNext(env.Ctx, "worker")
		require.NoError(t, err)
		if !ok {
			break
		}
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"critical", "high sooner", "high later", "medium"}, titles)
	assert.Zero(t, env.Engine.Len())

	popped, err := env.Engine.ListEvents(env.Ctx, events.Filter{Type: events.TaskPopped})
	require.NoError(t, err)
	assert.Len(t, popped, 4)
	assert.Equal(t, "worker", popped[0].ActorID)
}

func TestMutationsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "audited", domain.PriorityLow, nil)
	high := domain.PriorityHigh
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: "tester"})
	require.NoError(t, err)
	// No effective change, no event.
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: "tester"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteTask(env.Ctx, task.ID, ""))

	evts, err := env.Engine.ListEvents(env.Ctx, events.Filter{EntityID: task.ID})
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.TaskDeleted, evts[0].Type)
	assert.Equal(t, "anonymous", evts[0].ActorID)
	assert.Equal(t, events.TaskUpdated, evts[1].Type)
	assert.JSONEq(t, `{"priority":"HIGH"}`, evts[1].Payload)
	assert.Equal(t, events.TaskCreated, evts[2].Type)
	assert.Equal(t, testNow.Format(time.RFC3339), evts[2].TS)
}

func TestFailedEventAppendLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "kept", domain.PriorityLow, nil)
	require.NoError(t, env.Engine.DB.Close())

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "lost", Priority: domain.PriorityHigh})
	require.Error(t, err)
	assert.Equal(t, 1, env.Engine.Len())

	critical := domain.PriorityCritical
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &critical})
	require.Error(t, err)
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, got.Priority)

	require.Error(t, env.Engine.DeleteTask(env.Ctx, task.ID, "tester"))
	_, _, err = env.Engine.PopNext(env.Ctx, "tester")
	require.Error(t, err)
	assert.Equal(t, 1, env.Engine.Len())
	require.NoError(t, env.Engine.Verify())
}

func TestConcurrentCreatesKeepIndexConsistent(t *testing.T) {
	env := newTestEnv(t)
	const n = 40
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.Priorities[i%len(domain.Priorities)]
			task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: fmt.Sprintf("task %d", i), Priority: p})
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids <- task.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, env.Engine.Len())
	require.NoError(t, env.Engine.Verify())
}

func TestQueriesOverSnapshot(t *testing.T) {
	env := newTestEnv(t)
	bug := env.create(t, "Fix login bug", domain.PriorityHigh, day(9))
	env.create(t, "Write docs", domain.PriorityLow, day(30))
	crash := env.create(t, "Crash BUG on save", domain.PriorityCritical, nil)

	found := env.Engine.Search(env.Ctx, "bug")
	assert.Len(t, found, 2)

	overdue := env.Engine.Overdue(env.Ctx)
	require.Len(t, overdue, 1)
	assert.Equal(t, bug.ID, overdue[0].ID)

	top := env.Engine.TopK(env.Ctx, 2)
	require.Len(t, top, 2)
	assert.Equal(t, crash.ID, top[0].ID)
	assert.Len(t, env.Engine.TopK(env.Ctx, 10), 3)
	assert.Empty(t, env.Engine.TopK(env.Ctx, 0))
	assert.Empty(t, env.Engine.TopK(env.Ctx, -1))

	high := domain.PriorityHigh
	assert.Len(t, env.Engine.Filter(env.Ctx, query.Criteria{Priority: &high}), 1)

	groups := env.Engine.Grouped(env.Ctx)
	assert.Len(t, groups[domain.StatusTodo], 3)
	assert.Empty(t, groups[domain.StatusCompleted])

	stats := env.Engine.Statistics(env.Ctx)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, "0.00%", stats.CompletionRate)

	many := env.Engine.GetMany(env.Ctx, []string{crash.ID, "TASK-0404", bug.ID})
	require.Len(t, many, 2)
	assert.Equal(t, crash.ID, many[0].ID)
	assert.Equal(t, bug.ID, many[1].ID)
}

func TestInstrumentCountsMutations(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	env.Engine.Instrument(reg)
	env.create(t, "a", domain.PriorityLow, nil)
	env.create(t, "b", domain.PriorityLow, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["taskline_task_mutations_total"])
	assert.Equal(t, 2.0, values["taskline_index_size"])
}

func TestValidationErrorMessage(t *testing.T) {
	err := error(engine.ValidationError{Field: "priority", Reason: "required"})
	var verr engine.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid priority: required", err.Error())
}
