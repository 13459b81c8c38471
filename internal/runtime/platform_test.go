package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// lateHandler lets the test server start before the platform that needs its
// URL exists.
type lateHandler struct {
	mu sync.RWMutex
	h  http.Handler
}

func (l *lateHandler) set(h http.Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

func (l *lateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	h := l.h
	l.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func testConfig(t *testing.T) (*config.Config, *httptest.Server, *lateHandler) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	late := &lateHandler{}
	srv := httptest.NewServer(late)
	t.Cleanup(srv.Close)

	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "template.yaml"), []byte("Resources: {}"), 0o644)

	cfg.Server.BaseURL = srv.URL
	cfg.Source = config.SourceConfig{Dir: src, Branch: "main", Commit: "abc123"}
	cfg.Hook.SettleIntervalMS = 1
	cfg.Deploy.ValidationTimeoutMS = 5000
	return cfg, srv, late
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlatform_New_RequiresConfig(t *testing.T) {
	_, err := New(context.Background())
	if err == nil || !strings.Contains(err.Error(), "configuration required") {
		t.Errorf("New() error = %v", err)
	}
}

func TestPlatform_New_RejectsRemoteIdentity(t *testing.T) {
	cfg, _, _ := testConfig(t)
	cfg.Identity.Type = "cognito"

	if _, err := New(context.Background(), WithConfig(cfg), WithLogger(quietLogger())); err == nil {
		t.Error("New() accepted an identity the local gateway cannot verify")
	}
}

func TestPlatform_ReleaseThroughHTTP(t *testing.T) {
	cfg, srv, late := testConfig(t)

	var p *Platform
	p, err := New(context.Background(),
		WithConfig(cfg),
		WithLogger(quietLogger()),
		WithApprovalNotifier(func(r approval.Request) {
			go p.Gate().Decide(r.ID, true, "product-owner", "")
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	late.set(p.Handler())
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var started map[string]string
	json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/runs = %d", resp.StatusCode)
	}

	var rec domain.RunRecord
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/runs/" + started["run_id"])
		if err == nil {
			json.NewDecoder(resp.Body).Decode(&rec)
			resp.Body.Close()
			if rec.Status.Terminal() {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if rec.Status != domain.ActionSucceeded {
		t.Fatalf("run = %+v", rec)
	}

	if live, _, _ := p.Provisioner().Traffic("production"); live != "v1" {
		t.Errorf("production live = %q", live)
	}
	if deps := p.Deployments().List(); len(deps) != 2 {
		t.Errorf("deployments = %+v", deps)
	}

	resp, err = http.Get(srv.URL + "/envs/production/books")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Books-Version") != "v1" {
		t.Errorf("production gateway = %d version %q", resp.StatusCode, resp.Header.Get("X-Books-Version"))
	}
}

func TestPlatform_HookReportsOverHTTP(t *testing.T) {
	cfg, srv, late := testConfig(t)
	cfg.Hook.StatusURL = srv.URL + "/lifecycle-events/status"
	cfg.Pipeline = config.PipelineConfig{
		Name: "StagingOnly",
		Stages: []config.PipelineStageConfig{
			config.DefaultPipeline().Stages[0],
			config.DefaultPipeline().Stages[1],
			config.DefaultPipeline().Stages[2],
		},
	}

	p, err := New(context.Background(), WithConfig(cfg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	late.set(p.Handler())
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Variables["StagingVariables"]["API_ENDPOINT"] != srv.URL+"/envs/staging/" {
		t.Errorf("staging variables = %v", res.Variables["StagingVariables"])
	}
}

func TestPlatform_WithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  name: FromFile\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := New(context.Background(), WithConfigFile(path), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline", nil))
	var spec domain.PipelineSpec
	if err := json.NewDecoder(rec.Body).Decode(&spec); err != nil || spec.Name != "FromFile" || len(spec.Stages) != 4 {
		t.Errorf("GET /api/pipeline = %+v, %v", spec, err)
	}
}
