package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockhero/config"
	"stockhero/internal/app"
	"stockhero/models"
	"stockhero/repository"
)

// stubPipeline implements app.Pipeline for handler tests
type stubPipeline struct {
	RunFunc         func(ctx context.Context, date *time.Time) *models.PipelineRun
	SetFollowedFunc func(ctx context.Context, stockID string, followed bool) error
	RecentRunsFunc  func(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

func (s *stubPipeline) Run(ctx context.Context, date *time.Time) *models.PipelineRun {
	if s.RunFunc != nil {
		return s.RunFunc(ctx, date)
	}
	run := models.NewPipelineRun(time.Now())
	run.Complete(models.VerdictSuccess, "ok")
	return run
}

func (s *stubPipeline) BackfillPrices(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	return models.StageResult{}, nil
}

func (s *stubPipeline) BackfillInstitutional(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	return models.StageResult{}, nil
}

func (s *stubPipeline) SetFollowed(ctx context.Context, stockID string, followed bool) error {
	if s.SetFollowedFunc != nil {
		return s.SetFollowedFunc(ctx, stockID, followed)
	}
	return nil
}

func (s *stubPipeline) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if s.RecentRunsFunc != nil {
		return s.RecentRunsFunc(ctx, limit)
	}
	return nil, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(ctx context.Context) error { return s.err }

// testConfig returns a test configuration
func testConfig() *config.Config {
	return config.NewTestConfig()
}

// testApp creates an App around a stub pipeline with a healthy store
func testApp(p *stubPipeline) *app.App {
	return app.New(testConfig(), p, stubHealth{}, nil, nil)
}

// testRouter creates a Chi router with test config for testing
func testRouter(application *app.App) http.Handler {
	cfg := testConfig()
	return NewRouter(NewHandler(application, cfg), cfg)
}

func serve(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_UpdateStock(t *testing.T) {
	t.Run("runs for the given date", func(t *testing.T) {
		var got *time.Time
		p := &stubPipeline{
			RunFunc: func(ctx context.Context, date *time.Time) *models.PipelineRun {
				got = date
				run := models.NewPipelineRun(*date)
				run.Complete(models.VerdictSuccessWithWarnings, "Pipeline success_with_warnings for 2024-05-10")
				return run
			},
		}

		w := serve(t, testRouter(testApp(p)), http.MethodGet, "/api/update-stock?date=2024-05-10")

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if got == nil || got.Format(models.DateLayout) != "2024-05-10" {
			t.Errorf("pipeline date = %v", got)
		}

		var resp UpdateResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "done" || !resp.Success || resp.Verdict != string(models.VerdictSuccessWithWarnings) {
			t.Errorf("response = %+v", resp)
		}
		if !strings.Contains(resp.Message, "2024-05-10") {
			t.Errorf("message = %q", resp.Message)
		}
	})

	t.Run("omitted date means today", func(t *testing.T) {
		called := false
		p := &stubPipeline{
			RunFunc: func(ctx context.Context, date *time.Time) *models.PipelineRun {
				called = true
				if date != nil {
					t.Errorf("date = %v, want nil", date)
				}
				run := models.NewPipelineRun(time.Now())
				run.Complete(models.VerdictFailure, "store unreachable")
				return run
			},
		}

		w := serve(t, testRouter(testApp(p)), http.MethodGet, "/api/update-stock")

		if !called {
			t.Fatal("pipeline was not run")
		}
		var resp UpdateResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Success {
			t.Error("failure verdict reported as success")
		}
	})

	t.Run("rejects malformed date", func(t *testing.T) {
		p := &stubPipeline{
			RunFunc: func(ctx context.Context, date *time.Time) *models.PipelineRun {
				t.Error("pipeline must not run for a bad date")
				return models.NewPipelineRun(time.Now())
			},
		}

		w := serve(t, testRouter(testApp(p)), http.MethodGet, "/api/update-stock?date=20240510")

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("conflict while a run is in progress", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		p := &stubPipeline{
			RunFunc: func(ctx context.Context, date *time.Time) *models.PipelineRun {
				close(started)
				<-release
				return models.NewPipelineRun(time.Now())
			},
		}
		a := testApp(p)
		go a.RunPipeline(context.Background(), nil)
		<-started
		defer close(release)

		w := serve(t, testRouter(a), http.MethodGet, "/api/update-stock")

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}

func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		store      app.HealthChecker
		wantStatus string
		wantDB     string
	}{
		{"connected", stubHealth{}, "ok", "connected"},
		{"disconnected", stubHealth{err: fmt.Errorf("dial tcp: refused")}, "degraded", "disconnected"},
		{"not configured", nil, "degraded", "not_configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := app.New(testConfig(), &stubPipeline{}, tt.store, nil, nil)

			w := serve(t, testRouter(a), http.MethodGet, "/api/health")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Status   string            `json:"status"`
				Services map[string]string `json:"services"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.Services["database"] != tt.wantDB {
				t.Errorf("health = %+v", resp)
			}
		})
	}
}

func TestHandler_GetRuns(t *testing.T) {
	var gotLimit int
	p := &stubPipeline{
		RecentRunsFunc: func(ctx context.Context, limit int) ([]models.PipelineRun, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	router := testRouter(testApp(p))

	w := serve(t, router, http.MethodGet, "/api/runs?limit=5")
	if w.Code != http.StatusOK || gotLimit != 5 {
		t.Errorf("status = %d, limit = %d", w.Code, gotLimit)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", w.Body.String())
	}

	serve(t, router, http.MethodGet, "/api/runs?limit=abc")
	if gotLimit != 20 {
		t.Errorf("default limit = %d, want 20", gotLimit)
	}
}

func TestHandler_Follow(t *testing.T) {
	calls := map[string]bool{}
	p := &stubPipeline{
		SetFollowedFunc: func(ctx context.Context, stockID string, followed bool) error {
			if stockID == "9999" {
				return fmt.Errorf("%w: %s", repository.ErrStockNotFound, stockID)
			}
			calls[stockID] = followed
			return nil
		},
	}
	router := testRouter(testApp(p))

	if w := serve(t, router, http.MethodPut, "/api/stocks/2330/follow"); w.Code != http.StatusOK {
		t.Errorf("follow status = %d", w.Code)
	}
	if w := serve(t, router, http.MethodDelete, "/api/stocks/00632R/follow"); w.Code != http.StatusOK {
		t.Errorf("unfollow status = %d", w.Code)
	}
	if !calls["2330"] || calls["00632R"] {
		t.Errorf("calls = %v", calls)
	}

	if w := serve(t, router, http.MethodPut, "/api/stocks/9999/follow"); w.Code != http.StatusNotFound {
		t.Errorf("unknown stock status = %d, want 404", w.Code)
	}
	if w := serve(t, router, http.MethodPut, "/api/stocks/23;30/follow"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
}

func TestValidateStockID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"2330", false},
		{"00632R", false},
		{"", true},
		{"12345678901", true},
		{"23-30", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if err := ValidateStockID(tt.id); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStockID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w := serve(t, testRouter(testApp(&stubPipeline{})), http.MethodOptions, "/api/health")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS header")
	}
}

func TestRouter_Metrics(t *testing.T) {
	w := serve(t, testRouter(testApp(&stubPipeline{})), http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
