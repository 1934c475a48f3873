package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/events"
	"taskdesk/internal/rules"
	"taskdesk/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"tasks 0190c2: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the taskdesk API.
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
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("taskdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerStaff(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerResolve(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
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
	msg := err.Error()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalid), errors.Is(err, store.ErrUnknownField):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Map()["ApiError"] = &huma.Schema{
			Type: "object",
			Properties: map[string]*huma.Schema{
				"error": {
					Type: "object",
					Properties: map[string]*huma.Schema{
						"code":    {Type: "string"},
						"message": {Type: "string"},
						"details": {Type: "object"},
					},
					Required: []string{"code", "message"},
				},
			},
			Required: []string{"error"},
		}
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>taskdesk API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusInternalServerError,
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

type taskPath struct {
	ID string `path:"id"`
}

type taskOutput struct {
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Resolves the assignee and project, stores the task and fires task-created.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskCreateResponse `json:"body"`
	}, error) {
		res, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Assignee:    input.Body.Assignee,
			Project:     input.Body.Project,
			DueDate:     input.Body.DueDate,
			Priority:    input.Body.Priority,
			Source:      input.Body.Source,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res.WorkflowReports = emptyIfNil(res.WorkflowReports)
		return &struct {
			Body TaskCreateResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Assignee string `query:"assignee"`
		Project  string `query:"project"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, engine.TaskFilter{Status: input.Status, Assignee: input.Assignee, Project: input.Project})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		t, err := e.UpdateTask(ctx, input.ID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/status",
		Summary:     "Change task status",
		Description: "Normalizes the status and fires status-changed when it differs.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body engine.StatusChangeResult `json:"body"`
	}, error) {
		res, err := e.ChangeStatus(ctx, input.ID, input.Body.Status, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		res.WorkflowReports = emptyIfNil(res.WorkflowReports)
		return &struct {
			Body engine.StatusChangeResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "classify-reply",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/replies",
		Summary:     "Record a classified reply",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ReplyRequest `json:"body"`
	}) (*struct {
		Body engine.ReplyResult `json:"body"`
	}, error) {
		res, err := e.ClassifyReply(ctx, input.ID, engine.Reply(input.Body), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		res.WorkflowReports = emptyIfNil(res.WorkflowReports)
		return &struct {
			Body engine.ReplyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-task-log",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/log",
		Summary:     "Append an interaction log entry",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AppendLogRequest `json:"body"`
	}) (*taskOutput, error) {
		t, err := e.AppendLog(ctx, input.ID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})
}

type linkPath struct {
	Email string `path:"email"`
	Tag   string `path:"tag"`
}

func registerStaff(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "List staff",
	}, func(ctx context.Context, input *struct {
		Project string `query:"project"`
	}) (*struct {
		Body staffList `json:"body"`
	}, error) {
		items, err := e.ListStaff(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body staffList `json:"body"`
		}{Body: staffList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-staff",
		Method:        http.MethodPost,
		Path:          "/staff",
		Summary:       "Add staff member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateStaffRequest `json:"body"`
	}) (*struct {
		Body domain.Staff `json:"body"`
	}, error) {
		s, err := e.AddStaff(ctx, engine.StaffCreateOptions{
			Email: input.Body.Email, Name: input.Body.Name, Role: input.Body.Role, ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Staff `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "link-staff-project",
		Method:      http.MethodPut,
		Path:        "/staff/{email}/projects/{tag}",
		Summary:     "Link staff member and project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *linkPath) (*struct {
		Body LinkResponse `json:"body"`
	}, error) {
		s, p, err := e.LinkStaffProject(ctx, input.Email, input.Tag, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LinkResponse `json:"body"`
		}{Body: LinkResponse{Staff: s, Project: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlink-staff-project",
		Method:      http.MethodDelete,
		Path:        "/staff/{email}/projects/{tag}",
		Summary:     "Unlink staff member and project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *linkPath) (*struct {
		Body LinkResponse `json:"body"`
	}, error) {
		s, p, err := e.UnlinkStaffProject(ctx, input.Email, input.Tag, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LinkResponse `json:"body"`
		}{Body: LinkResponse{Staff: s, Project: p}}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body projectList `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projectList `json:"body"`
		}{Body: projectList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.AddProject(ctx, engine.ProjectCreateOptions{Tag: input.Body.Tag, Name: input.Body.Name, ActorID: actorID(ctx)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerResolve(api huma.API, e *engine.Engine) {
	type query struct {
		Q string `query:"q" required:"true" minLength:"1"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "resolve-staff",
		Method:      http.MethodGet,
		Path:        "/resolve/staff",
		Summary:     "Resolve a free-text staff name",
	}, func(ctx context.Context, input *query) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		m, ok := e.Resolver.ResolveStaff(ctx, input.Q)
		resp := ResolveResponse{Query: input.Q, Found: ok}
		if ok {
			resp.Match = &m
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-project",
		Method:      http.MethodGet,
		Path:        "/resolve/project",
		Summary:     "Resolve free text to a project",
	}, func(ctx context.Context, input *query) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		m, ok := e.Resolver.ResolveProject(ctx, input.Q)
		resp := ResolveResponse{Query: input.Q, Found: ok}
		if ok {
			resp.Match = &m
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerWorkflows(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflow definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body workflowList `json:"body"`
	}, error) {
		items, err := e.ListWorkflows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflowList `json:"body"`
		}{Body: workflowList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fire-trigger",
		Method:      http.MethodPost,
		Path:        "/triggers/{trigger}",
		Summary:     "Fire a trigger",
		Description: "Evaluates every active workflow for the trigger. A task_id pulls the stored task into the event under task.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Trigger string             `path:"trigger"`
		Body    FireTriggerRequest `json:"body"`
	}) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		evt := rules.Context{}
		for k, v := range input.Body.Context {
			evt[k] = v
		}
		if input.Body.TaskID != "" {
			evt["task_id"] = input.Body.TaskID
		}
		if _, ok := evt["actor"]; !ok {
			evt["actor"] = actorID(ctx)
		}
		reports, err := e.Fire(ctx, input.Trigger, evt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: TriggerResponse{Trigger: input.Trigger, Workflows: emptyIfNil(reports)}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,staff,project,workflow"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, events.Filter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 500:
		return 500
	default:
		return in
	}
}
