package server

import (
	"encoding/json"
	"time"

	"taskline/internal/domain"
	"taskline/internal/query"
)

// Request payloads

type CreateTaskRequest struct {
	Title       string     `json:"title,omitempty" maxLength:"500"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Status      string     `json:"status,omitempty" enum:"TODO,IN_PROGRESS,COMPLETED,CANCELLED"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

type UpdateTaskRequest struct {
	Title        *string    `json:"title,omitempty" maxLength:"500"`
	Description  *string    `json:"description,omitempty"`
	Priority     *string    `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Status       *string    `json:"status,omitempty" enum:"TODO,IN_PROGRESS,COMPLETED,CANCELLED"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"clear_due_date,omitempty" doc:"Remove the due date"`
	AssignedTo   *string    `json:"assigned_to,omitempty"`
}

// Responses

type TaskResponse struct {
	ID          string     `json:"id" example:"TASK-0001"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Status      string     `json:"status" enum:"TODO,IN_PROGRESS,COMPLETED,CANCELLED"`
	CreatedAt   time.Time  `json:"created_at"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

type taskList struct {
	Items []TaskResponse `json:"items"`
}

type NextTaskResponse struct {
	Task *TaskResponse `json:"task"`
}

type StatisticsResponse struct {
	TotalTasks     int            `json:"total_tasks"`
	StatusCounts   map[string]int `json:"status_counts"`
	PriorityCounts map[string]int `json:"priority_counts"`
	CompletionRate string         `json:"completion_rate" example:"20.00%"`
}

type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id,omitempty"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority.String(),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		DueDate:     t.DueDate,
		AssignedTo:  t.AssignedTo,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func groupedResponse(groups map[domain.Status][]domain.Task) map[string][]TaskResponse {
	out := make(map[string][]TaskResponse, len(groups))
	for status, items := range groups {
		out[string(status)] = mapTasks(items)
	}
	return out
}

func statisticsResponse(s query.Statistics) StatisticsResponse {
	resp := StatisticsResponse{
		TotalTasks:     s.Total,
		StatusCounts:   make(map[string]int, len(s.StatusCounts)),
		PriorityCounts: make(map[string]int, len(s.PriorityCounts)),
		CompletionRate: s.CompletionRate,
	}
	for k, v := range s.StatusCounts {
		resp.StatusCounts[string(k)] = v
	}
	for k, v := range s.PriorityCounts {
		resp.PriorityCounts[k.String()] = v
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:       e.ID,
		TS:       e.TS,
		Type:     e.Type,
		EntityID: e.EntityID,
		ActorID:  e.ActorID,
		Payload:  decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
