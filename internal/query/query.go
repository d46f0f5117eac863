// Package query answers batch questions over a snapshot of tasks.
//
// Every function is pure: the input slice is never modified and the result
// is a new slice or map. Callers pass a point-in-time copy, so these run
// without holding any lock.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"taskline/internal/domain"
)

// Criteria selects tasks for Filter. A nil field matches everything.
type Criteria struct {
	Status     *domain.Status
	Priority   *domain.Priority
	AssignedTo *string
}

// Filter returns the tasks matching every non-nil criterion, in input order.
func Filter(tasks []domain.Task, c Criteria) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if c.Status != nil && t.Status != *c.Status {
			continue
		}
		if c.Priority != nil && t.Priority != *c.Priority {
			continue
		}
		if c.AssignedTo != nil && t.AssignedTo != *c.AssignedTo {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TopK returns the k most urgent tasks, most urgent first. k is clamped to
// the input size; k <= 0 yields an empty result.
func TopK(tasks []domain.Task, k int) []domain.Task {
	if k <= 0 || len(tasks) == 0 {
		return []domain.Task{}
	}
	sorted := slices.Clone(tasks)
	slices.SortStableFunc(sorted, domain.CompareValues)
	return sorted[:min(k, len(sorted))]
}

// SearchByKeyword matches keyword case-insensitively against title or
// description. A blank keyword returns all tasks.
func SearchByKeyword(tasks []domain.Task, keyword string) []domain.Task {
	if strings.TrimSpace(keyword) == "" {
		return slices.Clone(tasks)
	}
	needle := strings.ToLower(keyword)
	out := make([]domain.Task, 0)
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) ||
			strings.Contains(strings.ToLower(t.Description), needle) {
			out = append(out, t)
		}
	}
	return out
}

// GroupByStatus buckets tasks by status. Every status is present as a key,
// with an empty slice when no task has it.
func GroupByStatus(tasks []domain.Task) map[domain.Status][]domain.Task {
	grouped := make(map[domain.Status][]domain.Task, len(domain.Statuses))
	for _, s := range domain.Statuses {
		grouped[s] = []domain.Task{}
	}
	for _, t := range tasks {
		grouped[t.Status] = append(grouped[t.Status], t)
	}
	return grouped
}

// Overdue returns open tasks whose due date is strictly before now, earliest
// due date first.
func Overdue(tasks []domain.Task, now time.Time) []domain.Task {
	out := make([]domain.Task, 0)
	for _, t := range tasks {
		if t.DueDate == nil || t.Status.Closed() {
			continue
		}
		if t.DueDate.Before(now) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Task) int {
		return a.DueDate.Compare(*b.DueDate)
	})
	return out
}

// Statistics summarizes a task collection.
type Statistics struct {
	Total          int                     `json:"total_tasks"`
	StatusCounts   map[domain.Status]int   `json:"status_counts"`
	PriorityCounts map[domain.Priority]int `json:"priority_counts"`
	CompletionRate string                  `json:"completion_rate"`
}

// ComputeStatistics counts tasks per status and priority and formats the
// share of completed tasks as a percentage with two decimals.
func ComputeStatistics(tasks []domain.Task) Statistics {
	st := Statistics{
		Total:          len(tasks),
		StatusCounts:   make(map[domain.Status]int, len(domain.Statuses)),
		PriorityCounts: make(map[domain.Priority]int, len(domain.Priorities)),
	}
	for _, s := range domain.Statuses {
		st.StatusCounts[s] = 0
	}
	for _, p := range domain.Priorities {
		st.PriorityCounts[p] = 0
	}
	for _, t := range tasks {
		st.StatusCounts[t.Status]++
		st.PriorityCounts[t.Priority]++
	}
	rate := 0.0
	if st.Total > 0 {
		rate = float64(st.StatusCounts[domain.StatusCompleted]) * 100 / float64(st.Total)
	}
	st.CompletionRate = fmt.Sprintf("%.2f%%", rate)
	return st
}

// SortByID returns a copy of tasks ordered by id, ready for BinarySearchByID.
func SortByID(tasks []domain.Task) []domain.Task {
	sorted := slices.Clone(tasks)
	slices.SortFunc(sorted, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return sorted
}

// BinarySearchByID finds id in tasks, which must be sorted by id.
func BinarySearchByID(sorted []domain.Task, id string) (domain.Task, bool) {
	lo, hi := 0, len(sorted)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch c := cmp.Compare(sorted[mid].ID, id); {
		case c == 0:
			return sorted[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return domain.Task{}, false
}
