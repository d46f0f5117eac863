package repo

import (
	"errors"

	"taskline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Repo is the authoritative id -> task map. It owns the task values; the
// engine guards it with the same lock as the priority index.
type Repo struct {
	tasks map[string]*domain.Task
}

func New() *Repo {
	return &Repo{tasks: make(map[string]*domain.Task)}
}

func (r *Repo) Put(t *domain.Task) {
	r.tasks[t.ID] = t
}

// Get returns the stored pointer. Callers outside the engine only ever see
// copies.
func (r *Repo) Get(id string) (*domain.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (r *Repo) Has(id string) bool {
	_, ok := r.tasks[id]
	return ok
}

func (r *Repo) Delete(id string) (*domain.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.tasks, id)
	return t, nil
}

func (r *Repo) Len() int { return len(r.tasks) }

// Snapshot copies every task.
func (r *Repo) Snapshot() []domain.Task {
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out
}
