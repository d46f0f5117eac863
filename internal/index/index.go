// Package index keeps tasks in urgency order.
//
// Index is a binary heap backed by a slice, with a map from task id to slice
// position so any task can be removed or re-prioritized in O(log n), not only
// the root. It is not safe for concurrent use; the engine serializes access.
package index

import (
	"errors"
	"fmt"
	"slices"

	"taskline/internal/domain"
)

// ErrDuplicateID is returned by Insert when the id is already indexed.
var ErrDuplicateID = errors.New("task id already indexed")

type Index struct {
	heap []*domain.Task
	pos  map[string]int
}

func New() *Index {
	return &Index{pos: make(map[string]int)}
}

// Insert adds t and restores heap order. The index keeps the pointer, so the
// caller must change t's priority only through UpdatePriority.
func (x *Index) Insert(t *domain.Task) error {
	if _, ok := x.pos[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	x.heap = append(x.heap, t)
	i := len(x.heap) - 1
	x.pos[t.ID] = i
	x.up(i)
	return nil
}

// ExtractTop removes and returns the most urgent task.
func (x *Index) ExtractTop() (*domain.Task, bool) {
	if len(x.heap) == 0 {
		return nil, false
	}
	top := x.heap[0]
	x.removeAt(0)
	return top, true
}

// Peek returns the most urgent task without removing it.
func (x *Index) Peek() (*domain.Task, bool) {
	if len(x.heap) == 0 {
		return nil, false
	}
	return x.heap[0], true
}

// Remove deletes the task with the given id. It reports false when the id is
// not indexed.
func (x *Index) Remove(id string) bool {
	i, ok := x.pos[id]
	if !ok {
		return false
	}
	x.removeAt(i)
	return true
}

// UpdatePriority changes the priority of an indexed task in place and moves
// it to its new position. Only a change of priority moves the task; setting
// the same priority is a no-op even if due dates around it changed.
func (x *Index) UpdatePriority(id string, p domain.Priority) bool {
	i, ok := x.pos[id]
	if !ok {
		return false
	}
	t := x.heap[i]
	old := t.Priority
	t.Priority = p
	switch {
	case p > old:
		x.up(i)
	case p < old:
		x.down(i)
	}
	return true
}

func (x *Index) Len() int    { return len(x.heap) }
func (x *Index) Empty() bool { return len(x.heap) == 0 }

func (x *Index) Contains(id string) bool {
	_, ok := x.pos[id]
	return ok
}

// Unordered returns copies of every task in heap-array order.
func (x *Index) Unordered() []domain.Task {
	out := make([]domain.Task, len(x.heap))
	for i, t := range x.heap {
		out[i] = t.Clone()
	}
	return out
}

// Sorted returns copies of every task, most urgent first. The heap is left
// untouched.
func (x *Index) Sorted() []domain.Task {
	out := x.Unordered()
	slices.SortStableFunc(out, domain.CompareValues)
	return out
}

// Verify checks the heap order and that the id map and the heap slice
// describe the same set of tasks.
func (x *Index) Verify() error {
	if len(x.pos) != len(x.heap) {
		return fmt.Errorf("position map has %d entries, heap has %d", len(x.pos), len(x.heap))
	}
	for i, t := range x.heap {
		if j, ok := x.pos[t.ID]; !ok || j != i {
			return fmt.Errorf("task %s at %d mapped to %d (present=%v)", t.ID, i, j, ok)
		}
		if i > 0 {
			parent := (i - 1) / 2
			if domain.Outranks(t, x.heap[parent]) {
				return fmt.Errorf("task %s at %d outranks parent %s at %d", t.ID, i, x.heap[parent].ID, parent)
			}
		}
	}
	return nil
}

// removeAt moves the last element into slot i, shrinks the heap and restores
// order around i. Both directions are tried; at most one moves anything.
func (x *Index) removeAt(i int) {
	last := len(x.heap) - 1
	delete(x.pos, x.heap[i].ID)
	if i != last {
		x.heap[i] = x.heap[last]
		x.pos[x.heap[i].ID] = i
	}
	x.heap[last] = nil
	x.heap = x.heap[:last]
	if i < len(x.heap) {
		x.down(i)
		x.up(i)
	}
}

func (x *Index) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !domain.Outranks(x.heap[i], x.heap[parent]) {
			return
		}
		x.swap(i, parent)
		i = parent
	}
}

func (x *Index) down(i int) {
	n := len(x.heap)
	for {
		best := i
		if l := 2*i + 1; l < n && domain.Outranks(x.heap[l], x.heap[best]) {
			best = l
		}
		if r := 2*i + 2; r < n && domain.Outranks(x.heap[r], x.heap[best]) {
			best = r
		}
		if best == i {
			return
		}
		x.swap(i, best)
		i = best
	}
}

func (x *Index) swap(i, j int) {
	x.heap[i], x.heap[j] = x.heap[j], x.heap[i]
	x.pos[x.heap[i].ID] = i
	x.pos[x.heap[j].ID] = j
}
