package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/query"
)

func (e *Engine) Search(_ context.Context, keyword string) []domain.Task {
	return query.SearchByKeyword(e.snapshot(), keyword)
}

func (e *Engine) Filter(_ context.Context, c query.Criteria) []domain.Task {
	return query.Filter(e.snapshot(), c)
}

// TopK returns the k most urgent tasks; k <= 0 yields none.
func (e *Engine) TopK(_ context.Context, k int) []domain.Task {
	return query.TopK(e.snapshot(), k)
}

func (e *Engine) Grouped(_ context.Context) map[domain.Status][]domain.Task {
	return query.GroupByStatus(e.snapshot())
}

func (e *Engine) Overdue(_ context.Context) []domain.Task {
	return query.Overdue(e.snapshot(), e.now())
}

func (e *Engine) Statistics(_ context.Context) query.Statistics {
	return query.ComputeStatistics(e.snapshot())
}

// ListEvents reads the audit log, newest first.
func (e *Engine) ListEvents(ctx context.Context, f events.Filter) ([]domain.Event, error) {
	if e.DB == nil {
		return []domain.Event{}, nil
	}
	return e.Events.List(ctx, f)
}
