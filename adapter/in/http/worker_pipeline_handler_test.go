package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/in"
	"engagement_worker/core/service/decision"
	"engagement_worker/infra/middleware"
	"engagement_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

type fakePipeline struct {
	processed    []string
	dryRun       *bool
	unsubscribed []string
	queued       bool
}

func (f *fakePipeline) ProcessUser(_ context.Context, email string, opts in.ProcessOptions) (*in.UserResult, error) {
	if email == "missing@example.com" {
		return nil, apperr.NotFound("user")
	}
	f.processed = append(f.processed, email)
	f.dryRun = opts.DryRun
	return &in.UserResult{UserEmail: email, Queued: f.queued}, nil
}

func (f *fakePipeline) RunDaily(context.Context) (*in.RunSummary, error) {
	return &in.RunSummary{Users: 3, Processed: 3}, nil
}

func (f *fakePipeline) Features(_ context.Context, email string) (*domain.FeatureSnapshot, error) {
	return &domain.FeatureSnapshot{UserEmail: email, RecencyDays: 4}, nil
}

func (f *fakePipeline) RawSummary(_ context.Context, email string) (*domain.RawDataSummary, error) {
	return &domain.RawDataSummary{Email: email, HasProfile: true, TestAttempts: 2}, nil
}

func (f *fakePipeline) PreviewContent(_ context.Context, email, templateID string) (*domain.EmailContent, error) {
	return &domain.EmailContent{TemplateID: templateID, Subject: "Hi " + email}, nil
}

func (f *fakePipeline) Unsubscribe(_ context.Context, email string) error {
	f.unsubscribed = append(f.unsubscribed, email)
	return nil
}

func (f *fakePipeline) Rules() []domain.Rule { return decision.DefaultRules() }

func newTestApp(p *fakePipeline) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	NewPipelineHandler(p, func(context.Context) (any, error) {
		return []string{"investor_prod"}, nil
	}).Register(app.Group("/api/v1"), nil)
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Total int `json:"total"`
	} `json:"meta"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode response %q: %v", raw, err)
	}
	return resp.StatusCode, env
}

func TestPipelineHandlerRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		queued     bool
		wantStatus int
		wantCode   string
	}{
		{name: "process", method: "POST", target: "/api/v1/users/kim%40example.com/process", wantStatus: 200},
		{name: "process queued", method: "POST", target: "/api/v1/users/kim@example.com/process?dry_run=false", queued: true, wantStatus: 202},
		{name: "process bad dry run", method: "POST", target: "/api/v1/users/kim@example.com/process?dry_run=maybe", wantStatus: 400, wantCode: apperr.CodeInvalidInput},
		{name: "process invalid email", method: "POST", target: "/api/v1/users/not-an-email/process", wantStatus: 400, wantCode: apperr.CodeInvalidInput},
		{name: "process unknown user", method: "POST", target: "/api/v1/users/missing@example.com/process", wantStatus: 404, wantCode: apperr.CodeNotFound},
		{name: "features", method: "GET", target: "/api/v1/users/kim@example.com/features", wantStatus: 200},
		{name: "raw data", method: "GET", target: "/api/v1/users/kim@example.com/data", wantStatus: 200},
		{name: "unsubscribe", method: "POST", target: "/api/v1/users/kim@example.com/unsubscribe", wantStatus: 200},
		{name: "run", method: "POST", target: "/api/v1/pipeline/run", wantStatus: 200},
		{name: "rules", method: "GET", target: "/api/v1/rules", wantStatus: 200},
		{name: "preview", method: "POST", target: "/api/v1/content/preview", body: `{"template_id":"winback_v1","email":"kim@example.com"}`, wantStatus: 200},
		{name: "preview missing template", method: "POST", target: "/api/v1/content/preview", body: `{"email":"kim@example.com"}`, wantStatus: 400, wantCode: apperr.CodeMissingField},
		{name: "preview bad email", method: "POST", target: "/api/v1/content/preview", body: `{"template_id":"winback_v1","email":"nope"}`, wantStatus: 400, wantCode: apperr.CodeInvalidInput},
		{name: "sources", method: "GET", target: "/api/v1/sources/status", wantStatus: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakePipeline{queued: tt.queued})
			status, env := do(t, app, tt.method, tt.target, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (code %q)", status, tt.wantStatus, env.Error.Code)
			}
			if env.Success != (tt.wantCode == "") {
				t.Errorf("success = %v", env.Success)
			}
			if tt.wantCode != "" && env.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestProcessUserPassesDecodedEmailAndDryRun(t *testing.T) {
	p := &fakePipeline{}
	app := newTestApp(p)

	status, _ := do(t, app, "POST", "/api/v1/users/Kim%40Example.com/process?dry_run=true", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if len(p.processed) != 1 || p.processed[0] != "Kim@Example.com" {
		t.Fatalf("processed = %v", p.processed)
	}
	if p.dryRun == nil || !*p.dryRun {
		t.Errorf("dry run override not passed: %v", p.dryRun)
	}
}

func TestRulesAreSortedByPriority(t *testing.T) {
	app := newTestApp(&fakePipeline{})
	_, env := do(t, app, "GET", "/api/v1/rules", "")

	var views []decision.RuleView
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	if len(views) == 0 || env.Meta.Total != len(views) {
		t.Fatalf("got %d rules, meta total %d", len(views), env.Meta.Total)
	}
	for i := 1; i < len(views); i++ {
		if views[i-1].Action.Priority < views[i].Action.Priority {
			t.Fatalf("rules not ordered by priority at %d", i)
		}
	}
}
