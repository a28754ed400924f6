package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"edigate/internal/domain"
	"edigate/internal/engine"
	"edigate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"run_id\":\"...\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Edigate API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Edigate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerIngest(group, cfg.Engine)
	registerReplay(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerAssistant(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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

// handleError maps the engine/repo error taxonomy onto HTTP codes.
// Parse failures never reach here bare: the engine wraps them in an
// *IngestError that carries the FAILED run id.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ie *engine.IngestError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusUnprocessableEntity, "ingest_failed", "ingest failed", map[string]any{
			"run_id": ie.RunID,
			"error":  ie.Err.Error(),
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNoStoredInput) {
		return newAPIError(http.StatusUnprocessableEntity, "no_stored_input", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrUnknownDocType) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Run counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountRunsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		partner := ""
		if e.Config != nil {
			partner = e.Config.Ingest.DefaultPartner
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"default_partner": partner,
			"run_counts":      counts,
		}}, nil
	})
}

func registerIngest(api huma.API, e engine.Engine) {
	type ingestInput struct {
		DocType string `path:"doc_type" enum:"850,856"`
		Body    IngestRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "ingest-document",
		Method:      http.MethodPost,
		Path:        "/ingest/{doc_type}",
		Summary:     "Ingest a partner document",
		Description: "Parses the raw XML into its canonical form, projects the downstream payload, and records an immutable run. Failed attempts are recorded too and return their run id in the error details.",
	}, func(ctx context.Context, input *ingestInput) (*struct {
		Body IngestResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.RawInput) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "raw_input is required", nil)
		}
		rec, err := e.Ingest(ctx, engine.IngestOptions{
			DocType:  input.DocType,
			Partner:  input.Body.Partner,
			RawInput: input.Body.RawInput,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IngestResponse
		}{Body: IngestResponse{
			RunID:         rec.RunID,
			Message:       fmt.Sprintf("%s received and transformed", rec.DocType),
			Partner:       rec.Partner,
			DocType:       rec.DocType,
			Canonical:     rec.Canonical,
			TargetPayload: rec.TargetPayload,
		}}, nil
	})
}

func registerReplay(api huma.API, e engine.Engine) {
	type replayPath struct {
		RunID string `path:"run_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "replay-run",
		Method:      http.MethodGet,
		Path:        "/replay/{run_id}",
		Summary:     "Replay a recorded run",
		Description: "Re-executes parse and projection against the stored raw input and returns both the stored and recomputed halves. Nothing is written.",
	}, func(ctx context.Context, input *replayPath) (*struct {
		Body ReplayResponse
	}, error) {
		res, err := e.Replay(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReplayResponse
		}{Body: ReplayResponse{
			Message:      "replay executed",
			ReplayResult: res,
		}}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	type listInput struct {
		Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"200"`
		Cursor string `query:"cursor"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs, newest first",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body RunListResponse
	}, error) {
		cursorCreatedAt, cursorRunID := decodeRunCursor(input.Cursor)
		items, err := e.Repo.ListRuns(ctx, input.Limit, cursorCreatedAt, cursorRunID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := RunListResponse{Items: items}
		if len(items) == input.Limit && input.Limit > 0 {
			last := items[len(items)-1]
			resp.NextCursor = encodeRunCursor(last.CreatedAt, last.RunID)
		}
		return &struct {
			Body RunListResponse
		}{Body: resp}, nil
	})

	type runPath struct {
		RunID string `path:"run_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Fetch a run record",
	}, func(ctx context.Context, input *runPath) (*struct {
		Body domain.RunRecord
	}, error) {
		rec, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunRecord
		}{Body: rec}, nil
	})
}

func encodeRunCursor(createdAt, runID string) string {
	return createdAt + "," + runID
}

func decodeRunCursor(cursor string) (string, string) {
	createdAt, runID, ok := strings.Cut(cursor, ",")
	if !ok {
		return "", ""
	}
	return createdAt, runID
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
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
    <title>Edigate API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui" });
      };
    </script>
  </body>
</html>`, specURL)
}
