package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
)

var fixtureNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func fixtureTasks() []domain.Task {
	inWeek := fixtureNow.AddDate(0, 0, 7)
	return []domain.Task{
		{ID: "1", Title: "Fix critical bug", Description: "Production issue", Priority: domain.PriorityCritical,
			Status: domain.StatusInProgress, AssignedTo: "john@example.com", CreatedAt: fixtureNow},
		{ID: "2", Title: "Update documentation", Description: "README updates", Priority: domain.PriorityLow,
			Status: domain.StatusTodo, CreatedAt: fixtureNow},
		{ID: "3", Title: "Implement feature", Description: "New feature request", Priority: domain.PriorityHigh,
			Status: domain.StatusTodo, DueDate: &inWeek, CreatedAt: fixtureNow},
		{ID: "4", Title: "Code review", Description: "Review PR #123", Priority: domain.PriorityMedium,
			Status: domain.StatusCompleted, CreatedAt: fixtureNow},
		{ID: "5", Title: "Fix bug in login", Description: "User reported issue", Priority: domain.PriorityHigh,
			Status: domain.StatusTodo, CreatedAt: fixtureNow},
	}
}

func taskIDs(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestFilter(t *testing.T) {
	tasks := fixtureTasks()

	t.Run("no criteria returns everything", func(t *testing.T) {
		assert.Equal(t, tasks, Filter(tasks, Criteria{}))
	})
	t.Run("status and priority", func(t *testing.T) {
		got := Filter(tasks, Criteria{Status: ptr(domain.StatusTodo), Priority: ptr(domain.PriorityHigh)})
		assert.Equal(t, []string{"3", "5"}, taskIDs(got))
		for _, task := range got {
			assert.Equal(t, domain.StatusTodo, task.Status)
			assert.Equal(t, domain.PriorityHigh, task.Priority)
		}
	})
	t.Run("assignee", func(t *testing.T) {
		got := Filter(tasks, Criteria{AssignedTo: ptr("john@example.com")})
		assert.Equal(t, []string{"1"}, taskIDs(got))
	})
	t.Run("no match", func(t *testing.T) {
		got := Filter(tasks, Criteria{Status: ptr(domain.StatusCancelled)})
		assert.Empty(t, got)
	})
}

func TestTopK(t *testing.T) {
	tasks := fixtureTasks()

	top3 := TopK(tasks, 3)
	require.Len(t, top3, 3)
	assert.Equal(t, []string{"1", "3", "5"}, taskIDs(top3))
	for i := 0; i < len(top3)-1; i++ {
		assert.GreaterOrEqual(t, int(top3[i].Priority), int(top3[i+1].Priority))
	}

	assert.Len(t, TopK(tasks, 50), len(tasks))
	assert.Empty(t, TopK(tasks, 0))
	assert.Empty(t, TopK(tasks, -2))
	assert.Empty(t, TopK(nil, 3))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, taskIDs(tasks), "input must not be reordered")
}

func TestTopKIsPrefixOfSorted(t *testing.T) {
	tasks := fixtureTasks()
	all := TopK(tasks, len(tasks))
	for k := 0; k <= len(tasks)+1; k++ {
		got := TopK(tasks, k)
		require.Len(t, got, min(k, len(tasks)))
		assert.Equal(t, all[:len(got)], got)
	}
}

func TestSearchByKeyword(t *testing.T) {
	tasks := fixtureTasks()

	lower := SearchByKeyword(tasks, "bug")
	upper := SearchByKeyword(tasks, "BUG")
	assert.Equal(t, []string{"1", "5"}, taskIDs(lower))
	assert.Equal(t, lower, upper)

	assert.Equal(t, []string{"4"}, taskIDs(SearchByKeyword(tasks, "pr #123")), "description is searched")
	assert.Equal(t, tasks, SearchByKeyword(tasks, ""))
	assert.Equal(t, tasks, SearchByKeyword(tasks, "   "))
	assert.Empty(t, SearchByKeyword(tasks, "nothing matches this"))

	untitled := []domain.Task{{ID: "x"}}
	assert.Empty(t, SearchByKeyword(untitled, "bug"))
}

func TestGroupByStatus(t *testing.T) {
	grouped := GroupByStatus(fixtureTasks())

	require.Len(t, grouped, 4)
	assert.Equal(t, []string{"2", "3", "5"}, taskIDs(grouped[domain.StatusTodo]))
	assert.Equal(t, []string{"1"}, taskIDs(grouped[domain.StatusInProgress]))
	assert.Equal(t, []string{"4"}, taskIDs(grouped[domain.StatusCompleted]))
	assert.NotNil(t, grouped[domain.StatusCancelled])
	assert.Empty(t, grouped[domain.StatusCancelled])

	empty := GroupByStatus(nil)
	assert.Len(t, empty, 4)
}

func TestOverdue(t *testing.T) {
	tasks := fixtureTasks()
	assert.Empty(t, Overdue(tasks, fixtureNow))

	yesterday := fixtureNow.AddDate(0, 0, -1)
	tasks[2].DueDate = &yesterday
	assert.Equal(t, []string{"3"}, taskIDs(Overdue(tasks, fixtureNow)))
}

func TestOverdueSkipsClosedAndSortsByDueDate(t *testing.T) {
	d := func(days int) *time.Time {
		v := fixtureNow.AddDate(0, 0, days)
		return &v
	}
	tasks := []domain.Task{
		{ID: "a", Status: domain.StatusTodo, DueDate: d(-1)},
		{ID: "b", Status: domain.StatusInProgress, DueDate: d(-5)},
		{ID: "c", Status: domain.StatusCompleted, DueDate: d(-9)},
		{ID: "d", Status: domain.StatusCancelled, DueDate: d(-9)},
		{ID: "e", Status: domain.StatusTodo, DueDate: d(2)},
		{ID: "f", Status: domain.StatusTodo},
		{ID: "g", Status: domain.StatusTodo, DueDate: ptr(fixtureNow)},
	}
	assert.Equal(t, []string{"b", "a"}, taskIDs(Overdue(tasks, fixtureNow)))
}

func TestComputeStatistics(t *testing.T) {
	st := ComputeStatistics(fixtureTasks())
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 3, st.StatusCounts[domain.StatusTodo])
	assert.Equal(t, 1, st.StatusCounts[domain.StatusCompleted])
	assert.Equal(t, 0, st.StatusCounts[domain.StatusCancelled])
	assert.Equal(t, 2, st.PriorityCounts[domain.PriorityHigh])
	assert.Equal(t, "20.00%", st.CompletionRate)

	empty := ComputeStatistics(nil)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, "0.00%", empty.CompletionRate)

	third := ComputeStatistics([]domain.Task{
		{ID: "1", Status: domain.StatusCompleted, Priority: domain.PriorityLow},
		{ID: "2", Status: domain.StatusTodo, Priority: domain.PriorityLow},
		{ID: "3", Status: domain.StatusTodo, Priority: domain.PriorityLow},
	})
	assert.Equal(t, "33.33%", third.CompletionRate)
}

func TestBinarySearchByID(t *testing.T) {
	sorted := SortByID([]domain.Task{{ID: "TASK-0003"}, {ID: "TASK-0001"}, {ID: "TASK-0002"}})
	assert.Equal(t, []string{"TASK-0001", "TASK-0002", "TASK-0003"}, taskIDs(sorted))

	got, ok := BinarySearchByID(sorted, "TASK-0002")
	require.True(t, ok)
	assert.Equal(t, "TASK-0002", got.ID)

	_, ok = BinarySearchByID(sorted, "TASK-0009")
	assert.False(t, ok)
	_, ok = BinarySearchByID(nil, "TASK-0001")
	assert.False(t, ok)
}

func TestQueriesDoNotMutateInput(t *testing.T) {
	tasks := fixtureTasks()
	before := fixtureTasks()
	_ = TopK(tasks, 3)
	_ = Overdue(tasks, fixtureNow)
	_ = GroupByStatus(tasks)
	_ = SortByID(tasks)
	assert.Equal(t, before, tasks)
}
