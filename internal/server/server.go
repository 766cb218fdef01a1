package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pressline/internal/calendar"
	"pressline/internal/chain"
	"pressline/internal/config"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"scheduler_busy"`
	Message string         `json:"message" example:"scheduler busy: another commit holds the lease"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pressline API.
func New(cfg Config) (http.Handler, error) {
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Pressline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJobs(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerChain(group, cfg.Engine)
	registerCapacity(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerScheduler(group, cfg.Engine)
	registerReconcile(group, cfg.Engine)
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
	if errors.Is(err, engine.ErrSchedulerBusy) {
		return newAPIError(http.StatusConflict, "scheduler_busy", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrReconcileRunning) {
		return newAPIError(http.StatusConflict, "reconcile_running", err.Error(), nil)
	}
	if errors.Is(err, calendar.ErrNoWorkingDay) {
		return newAPIError(http.StatusInternalServerError, "calendar_config", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"),
		strings.Contains(lowered, "is not complete"),
		strings.Contains(lowered, "is already"),
		strings.Contains(lowered, "only open jobs"),
		strings.Contains(lowered, "already has a workflow"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func actorFrom(header string) string {
	if header == "" {
		return "api"
	}
	return header
}

// triState maps an optional true/false query value onto a filter pointer.
// Huma query parameters cannot be pointers themselves.
func triState(v string) *bool {
	switch v {
	case "true":
		b := true
		return &b
	case "false":
		b := false
		return &b
	}
	return nil
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
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Pressline API Docs</title>
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

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create job",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string           `header:"X-Actor-Id"`
		Body    CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.WorkOrder == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "work_order is required", nil)
		}
		opts := engine.JobCreateOptions{
			WorkOrder: input.Body.WorkOrder,
			Expedited: input.Body.Expedited,
			ActorID:   actorFrom(input.ActorID),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Customer != nil {
			opts.Customer = *input.Body.Customer
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		if input.Body.Category != nil {
			opts.Category = *input.Body.Category
		}
		j, err := e.CreateJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:",open,completed,cancelled"`
		Expedited string `query:"expedited" enum:",true,false"`
		Limit     int    `query:"limit" default:"0" minimum:"0"`
	}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		items, err := e.Repo.ListJobs(ctx, repo.JobFilters{
			Status:    input.Status,
			Expedited: triState(input.Expedited),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expedite-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/expedite",
		Summary:     "Expedite job",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.ExpediteJob(ctx, input.JobID, actorFrom(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-category",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/category",
		Summary:     "Assign category and instantiate workflow",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID   string                `path:"job_id"`
		ActorID string                `header:"X-Actor-Id"`
		Body    AssignCategoryRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		if input.Body.Category == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "category is required", nil)
		}
		j, err := e.AssignCategory(ctx, input.JobID, input.Body.Category, actorFrom(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-job-status",
		Method:      http.MethodPatch,
		Path:        "/jobs/{job_id}/status",
		Summary:     "Set job status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID   string              `path:"job_id"`
		ActorID string              `header:"X-Actor-Id"`
		Body    SetJobStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.SetJobStatus(ctx, input.JobID, input.Body.Status, actorFrom(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-stages",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/stages",
		Summary:     "List workflow stages of a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body []domain.WorkflowStage `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListJobStages(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowStage `json:"body"`
		}{Body: items}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	type stagePath struct {
		WSID    string `path:"ws_id"`
		ActorID string `header:"X-Actor-Id"`
	}
	type stageOut struct {
		Body domain.WorkflowStage `json:"body"`
	}
	transition := func(id, summary string, fn func(context.Context, string, string) (domain.WorkflowStage, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/stages/{ws_id}/" + strings.TrimPrefix(id, "stage-"),
			Summary:     summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *stagePath) (*stageOut, error) {
			ws, err := fn(ctx, input.WSID, actorFrom(input.ActorID))
			if err != nil {
				return nil, handleError(err)
			}
			return &stageOut{Body: ws}, nil
		})
	}
	transition("stage-start", "Start a workflow stage", e.StartStage)
	transition("stage-complete", "Complete a workflow stage", e.CompleteStage)
	transition("stage-skip", "Skip a workflow stage", e.SkipStage)

	huma.Register(api, huma.Operation{
		OperationID: "set-queue-pos",
		Method:      http.MethodPut,
		Path:        "/stages/{ws_id}/queue-pos",
		Summary:     "Set manual queue position",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		WSID    string             `path:"ws_id"`
		ActorID string             `header:"X-Actor-Id"`
		Body    SetQueuePosRequest `json:"body"`
	}) (*stageOut, error) {
		if input.Body.QueuePos != nil && *input.Body.QueuePos < 1 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "queue_pos must be >= 1", nil)
		}
		if err := e.SetQueuePosition(ctx, input.WSID, input.Body.QueuePos, actorFrom(input.ActorID)); err != nil {
			return nil, handleError(err)
		}
		ws, err := e.Repo.GetWorkflowStage(ctx, input.WSID)
		if err != nil {
			return nil, handleError(err)
		}
		return &stageOut{Body: ws}, nil
	})
}

func registerChain(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "job-chain",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/chain",
		Summary:     "Resolved workflow chain with progress and bottlenecks",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body chain.Chain `json:"body"`
	}, error) {
		c, err := e.ChainFor(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body chain.Chain `json:"body"`
		}{Body: c}, nil
	})
}

func registerCapacity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-capacity",
		Method:      http.MethodGet,
		Path:        "/capacity",
		Summary:     "List capacity profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.CapacityProfile `json:"body"`
	}, error) {
		items, err := e.Repo.ListCapacityProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CapacityProfile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-capacity",
		Method:      http.MethodPut,
		Path:        "/capacity/{stage_id}",
		Summary:     "Set a stage capacity profile",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		StageID string                 `path:"stage_id"`
		Body    CapacityProfileRequest `json:"body"`
	}) (*struct {
		Body domain.CapacityProfile `json:"body"`
	}, error) {
		p, err := profileFromRequest(input.StageID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpsertCapacityProfile(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CapacityProfile `json:"body"`
		}{Body: p}, nil
	})
}

func profileFromRequest(stageID string, r CapacityProfileRequest) (domain.CapacityProfile, error) {
	p := domain.CapacityProfile{
		StageID:         stageID,
		DailyMinutes:    r.DailyMinutes,
		MaxParallelJobs: r.MaxParallelJobs,
		SetupMinutes:    r.SetupMinutes,
	}
	var err error
	if r.Start != "" {
		if p.StartHour, p.StartMinute, err = config.ParseClock(r.Start); err != nil {
			return p, err
		}
	}
	if r.End != "" {
		if p.EndHour, p.EndMinute, err = config.ParseClock(r.End); err != nil {
			return p, err
		}
	}
	return p, nil
}

func registerSlots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/slots",
		Summary:     "List scheduled time slots",
	}, func(ctx context.Context, input *struct {
		StageID   string `query:"stage"`
		JobID     string `query:"job"`
		Completed string `query:"completed" enum:",true,false"`
		Limit     int    `query:"limit" default:"0" minimum:"0"`
	}) (*struct {
		Body []domain.TimeSlot `json:"body"`
	}, error) {
		items, err := e.Repo.ListSlots(ctx, repo.SlotFilters{
			StageID:   input.StageID,
			JobID:     input.JobID,
			Completed: triState(input.Completed),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TimeSlot `json:"body"`
		}{Body: items}, nil
	})
}

func registerScheduler(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "scheduler-export",
		Method:      http.MethodGet,
		Path:        "/scheduler/export",
		Summary:     "Export planner input snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		snap, err := e.ExportSchedulerInput(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(snap)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-plan",
		Method:      http.MethodPost,
		Path:        "/scheduler/plan",
		Summary:     "Compute a plan without writing anything",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		snap, err := e.ExportSchedulerInput(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.PlanSchedule(snap)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-apply",
		Method:      http.MethodPost,
		Path:        "/scheduler/apply",
		Summary:     "Apply stage updates",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ActorID     string `header:"X-Actor-Id"`
		Commit      bool   `query:"commit" default:"true"`
		OnlyIfUnset bool   `query:"only_if_unset" default:"true"`
		Proposed    bool   `query:"proposed" default:"true"`
		Body        struct {
			Updates []StageUpdateRequest `json:"updates"`
		} `json:"body"`
	}) (*struct {
		Body engine.ApplyResult `json:"body"`
	}, error) {
		updates, err := parseStageUpdates(input.Body.Updates)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := e.ApplyStageUpdates(ctx, updates, engine.ApplyOptions{
			Commit:      input.Commit,
			OnlyIfUnset: input.OnlyIfUnset,
			AsProposed:  input.Proposed,
			ActorID:     actorFrom(input.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ApplyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-run",
		Method:      http.MethodPost,
		Path:        "/scheduler/run",
		Summary:     "Plan and apply over all open jobs",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActorID     string `header:"X-Actor-Id"`
		Commit      bool   `query:"commit" default:"true"`
		OnlyIfUnset bool   `query:"only_if_unset" default:"true"`
		Proposed    bool   `query:"proposed" default:"true"`
	}) (*struct {
		Body engine.ScheduleRunResult `json:"body"`
	}, error) {
		res, err := e.RescheduleAll(ctx, engine.ApplyOptions{
			Commit:      input.Commit,
			OnlyIfUnset: input.OnlyIfUnset,
			AsProposed:  input.Proposed,
			ActorID:     actorFrom(input.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScheduleRunResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-jobs",
		Method:      http.MethodPost,
		Path:        "/scheduler/jobs",
		Summary:     "Plan and apply a selection of jobs",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ActorID     string `header:"X-Actor-Id"`
		Commit      bool   `query:"commit" default:"true"`
		OnlyIfUnset bool   `query:"only_if_unset" default:"true"`
		Proposed    bool   `query:"proposed" default:"true"`
		Body        ScheduleJobsRequest `json:"body"`
	}) (*struct {
		Body engine.ScheduleRunResult `json:"body"`
	}, error) {
		if len(input.Body.JobIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "job_ids is required", nil)
		}
		res, err := e.ScheduleJobs(ctx, input.Body.JobIDs, input.Body.ForceReschedule, engine.ApplyOptions{
			Commit:      input.Commit,
			OnlyIfUnset: input.OnlyIfUnset,
			AsProposed:  input.Proposed,
			ActorID:     actorFrom(input.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScheduleRunResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReconcile(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Run spillover reconciliation",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body engine.ReconcileSummary `json:"body"`
	}, error) {
		sum, err := e.RunNightlyReconciliation(ctx, actorFrom(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReconcileSummary `json:"body"`
		}{Body: sum}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
