package tasklinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/server"
	tasklinesdk "taskline/sdk/go"
)

func newClient(t *testing.T) *tasklinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.MemoryDSN})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	e := engine.New(conn, config.Default())
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		conn.Close()
	})
	c := tasklinesdk.New(ts.URL)
	c.ActorID = "sdk-test"
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	next, err := c.NextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	due := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	old, err := c.CreateTask(ctx, tasklinesdk.CreateTaskInput{Title: "Ancient bug", Priority: "MEDIUM", DueDate: &due})
	require.NoError(t, err)
	hot, err := c.CreateTask(ctx, tasklinesdk.CreateTaskInput{Title: "Hotfix", Priority: "CRITICAL"})
	require.NoError(t, err)

	next, err = c.NextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, hot.ID, next.ID)

	high := "HIGH"
	updated, err := c.UpdateTask(ctx, hot.ID, tasklinesdk.UpdateTaskInput{Priority: &high})
	require.NoError(t, err)
	assert.Equal(t, "HIGH", updated.Priority)

	overdue, err := c.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, old.ID, overdue[0].ID)

	found, err := c.Search(ctx, "BUG")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	filtered, err := c.Filter(ctx, tasklinesdk.FilterInput{Priority: "HIGH"})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTasks)

	popped, err := c.PopNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, hot.ID, popped.ID)

	require.NoError(t, c.DeleteTask(ctx, old.ID))
	_, err = c.GetTask(ctx, old.ID)
	var apiErr *tasklinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	evts, err := c.Events(ctx, tasklinesdk.EventsQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, evts, 5)
	assert.Equal(t, "task.deleted", evts[0].Type)
	assert.Equal(t, "sdk-test", evts[0].ActorID)
}
