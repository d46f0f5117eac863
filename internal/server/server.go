package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/index"
	"taskline/internal/query"
	"taskline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Logger   *slog.Logger
	// Registry receives the engine and HTTP collectors. A fresh registry is
	// used when nil.
	Registry *prometheus.Registry
	// RateLimitRPS caps requests per second across all clients; zero
	// disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task TASK-0042: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	cfg.Engine.Instrument(reg)
	metrics := newHTTPMetrics(reg)

	router := chi.NewRouter()
	router.Use(requestID)
	router.Use(accessLog(logger, metrics))
	if cfg.RateLimitRPS > 0 {
		router.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(cfg.RateLimitBurst, 1))))
	}
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerQueries(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, index.ErrDuplicateID) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var errSchema *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil || errSchema == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type TaskIDParam struct {
	ID string `path:"id" example:"TASK-0001"`
}

type ActorParam struct {
	ActorID string `header:"X-Actor-Id" doc:"Actor recorded on audit events"`
}

func (a ActorParam) actor() string {
	if strings.TrimSpace(a.ActorID) == "" {
		return "anonymous"
	}
	return strings.TrimSpace(a.ActorID)
}

type taskBody struct {
	Body TaskResponse `json:"body"`
}

type taskListBody struct {
	Body taskList `json:"body"`
}

type nextTaskBody struct {
	Body NextTaskResponse `json:"body"`
}

func listOf(items []domain.Task) *taskListBody {
	return &taskListBody{Body: taskList{Items: mapTasks(items)}}
}

func nextOf(t domain.Task, ok bool) *nextTaskBody {
	if !ok {
		return &nextTaskBody{}
	}
	resp := taskResponse(t)
	return &nextTaskBody{Body: NextTaskResponse{Task: &resp}}
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ActorParam
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		p, err := domain.ParsePriority(input.Body.Priority)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "priority"})
		}
		opts := engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    p,
			DueDate:     input.Body.DueDate,
			AssignedTo:  input.Body.AssignedTo,
			ActorID:     input.actor(),
		}
		if input.Body.Status != "" {
			s, err := domain.ParseStatus(input.Body.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "status"})
			}
			opts.Status = s
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks in heap order",
	}, func(ctx context.Context, _ *struct{}) (*taskListBody, error) {
		return listOf(e.ListTasks(ctx)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks-by-priority",
		Method:      http.MethodGet,
		Path:        "/tasks/priority",
		Summary:     "List tasks, most urgent first",
	}, func(ctx context.Context, _ *struct{}) (*taskListBody, error) {
		return listOf(e.TasksByPriority(ctx)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-task",
		Method:      http.MethodGet,
		Path:        "/tasks/next",
		Summary:     "Peek at the most urgent task",
	}, func(ctx context.Context, _ *struct{}) (*nextTaskBody, error) {
		return nextOf(e.NextTask(ctx)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pop-next-task",
		Method:      http.MethodPost,
		Path:        "/tasks/next/pop",
		Summary:     "Remove and return the most urgent task",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *ActorParam) (*nextTaskBody, error) {
		t, ok, err := e.PopNext(ctx, input.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return nextOf(t, ok), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskIDParam) (*taskBody, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskIDParam
		ActorParam
		Body UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		opts := engine.TaskUpdateOptions{
			ID:           input.ID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			DueDate:      input.Body.DueDate,
			ClearDueDate: input.Body.ClearDueDate,
			AssignedTo:   input.Body.AssignedTo,
			ActorID:      input.actor(),
		}
		if input.Body.Priority != nil {
			p, err := domain.ParsePriority(*input.Body.Priority)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "priority"})
			}
			opts.Priority = &p
		}
		if input.Body.Status != nil {
			s, err := domain.ParseStatus(*input.Body.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "status"})
			}
			opts.Status = &s
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskIDParam
		ActorParam
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ID, input.actor()); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerQueries(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "top-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/top/{k}",
		Summary:     "The k most urgent tasks; k <= 0 returns an empty list",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		K int `path:"k"`
	}) (*taskListBody, error) {
		return listOf(e.TopK(ctx, input.K)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/search",
		Summary:     "Case-insensitive keyword search over title and description",
	}, func(ctx context.Context, input *struct {
		Keyword string `query:"keyword"`
	}) (*taskListBody, error) {
		return listOf(e.Search(ctx, input.Keyword)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "filter-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/filter",
		Summary:     "Filter tasks; omitted criteria match everything, unassigned=true selects tasks with no assignee",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"TODO,IN_PROGRESS,COMPLETED,CANCELLED"`
		Priority   string `query:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
		AssignedTo string `query:"assigned_to"`
		Unassigned bool   `query:"unassigned"`
	}) (*taskListBody, error) {
		var c query.Criteria
		if input.Unassigned && input.AssignedTo != "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assigned_to and unassigned are mutually exclusive", map[string]any{"field": "unassigned"})
		}
		if input.Status != "" {
			s, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "status"})
			}
			c.Status = &s
		}
		if input.Priority != "" {
			p, err := domain.ParsePriority(input.Priority)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "priority"})
			}
			c.Priority = &p
		}
		if input.AssignedTo != "" || input.Unassigned {
			c.AssignedTo = &input.AssignedTo
		}
		return listOf(e.Filter(ctx, c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "group-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/grouped",
		Summary:     "Tasks grouped by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string][]TaskResponse `json:"body"`
	}, error) {
		return &struct {
			Body map[string][]TaskResponse `json:"body"`
		}{Body: groupedResponse(e.Grouped(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/overdue",
		Summary:     "Open tasks past their due date, earliest first",
	}, func(ctx context.Context, _ *struct{}) (*taskListBody, error) {
		return listOf(e.Overdue(ctx)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-statistics",
		Method:      http.MethodGet,
		Path:        "/tasks/statistics",
		Summary:     "Task counts and completion rate",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatisticsResponse `json:"body"`
	}, error) {
		return &struct {
			Body StatisticsResponse `json:"body"`
		}{Body: statisticsResponse(e.Statistics(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lookup-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/lookup",
		Summary:     "Fetch several tasks by id; unknown ids are skipped",
	}, func(ctx context.Context, input *struct {
		IDs string `query:"ids" doc:"Comma separated task ids"`
	}) (*taskListBody, error) {
		var ids []string
		for _, id := range strings.Split(input.IDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return listOf(e.GetMany(ctx, ids)), nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" enum:"task.created,task.updated,task.deleted,task.popped"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.ListEvents(ctx, events.Filter{
			Type:     input.Type,
			EntityID: input.EntityID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventList{Items: make([]EventResponse, 0, len(items))}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
