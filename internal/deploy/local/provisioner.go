// Package local is an in-process stand-in for the managed compute and gateway
// platform: every provisioned version is a books service instance sharing the
// backing store, reachable directly for validation and through a weighted
// gateway for real traffic.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/booksapi/release-pipeline/internal/books"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Defects a bundle can declare, so broken releases can be rehearsed locally.
const (
	// DefectRejectWrites makes every create fail with a server error.
	DefectRejectWrites = "reject_writes"
	// DefectDropWrites acknowledges creates without storing them.
	DefectDropWrites = "drop_writes"
)

// Bundle is the manifest a build produces. Bundles that are not JSON
// manifests deploy as healthy versions.
type Bundle struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Defect string `json:"defect,omitempty"`
}

// Config configures the local platform.
type Config struct {
	// BaseURL is where Routes is served.
	BaseURL   string
	Store     ports.BookStore
	Artifacts ports.ArtifactStore
	Verifier  ports.TokenVerifier
	// TableName is published as the TABLE output.
	TableName string
	Logger    *slog.Logger
}

type version struct {
	name    string
	bundle  Bundle
	handler *books.Handler
	public  http.Handler
}

type environment struct {
	seq       int
	live      string
	canary    string
	canaryPct int
	versions  map[string]*version
}

// Provisioner implements ports.Provisioner and serves the gateway.
type Provisioner struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	envs map[string]*environment
	roll func() int
}

var _ ports.Provisioner = (*Provisioner)(nil)

// New creates an empty platform.
func New(cfg Config) *Provisioner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provisioner{
		cfg:    cfg,
		logger: logger,
		envs:   make(map[string]*environment),
		roll:   func() int { return rand.Intn(100) },
	}
}

// Provision registers a new version built from artifact. It is reachable
// through its invoke target immediately and receives no gateway traffic.
func (p *Provisioner) Provision(ctx context.Context, env string, artifact domain.ArtifactRef) (*domain.Candidate, error) {
	bundle, err := p.readBundle(ctx, artifact)
	if err != nil {
		return nil, err
	}

	store := p.cfg.Store
	switch bundle.Defect {
	case "":
	case DefectRejectWrites, DefectDropWrites:
		store = &defectStore{BookStore: store, defect: bundle.Defect}
	default:
		return nil, fmt.Errorf("%w: unknown bundle defect %q", domain.ErrInvalidArgument, bundle.Defect)
	}
	handler := books.NewHandler(store, p.logger.With(slog.String("environment", env)))

	p.mu.Lock()
	e := p.env(env)
	e.seq++
	v := &version{
		name:    fmt.Sprintf("v%d", e.seq),
		bundle:  bundle,
		handler: handler,
		public:  handler.Routes(p.cfg.Verifier),
	}
	e.versions[v.name] = v
	p.mu.Unlock()

	p.logger.Info("version provisioned",
		slog.String("environment", env),
		slog.String("version", v.name),
		slog.String("artifact", artifact.Location),
	)

	return &domain.Candidate{
		Version: v.name,
		Target:  fmt.Sprintf("%s/envs/%s/versions/%s/invoke", p.cfg.BaseURL, env, v.name),
		Outputs: map[string]string{
			"API_ENDPOINT":        fmt.Sprintf("%s/envs/%s/", p.cfg.BaseURL, env),
			"USER_POOL_ID":        "local_" + env,
			"USER_POOL_CLIENT_ID": "local-client-" + env,
			"TABLE":               p.cfg.TableName,
		},
	}, nil
}

func (p *Provisioner) readBundle(ctx context.Context, artifact domain.ArtifactRef) (Bundle, error) {
	if p.cfg.Artifacts == nil || artifact.Location == "" {
		return Bundle{}, nil
	}
	rc, err := p.cfg.Artifacts.Open(ctx, artifact)
	if err != nil {
		return Bundle{}, fmt.Errorf("open bundle: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 1<<20))
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, nil
	}
	return b, nil
}

func (p *Provisioner) LiveVersion(ctx context.Context, env string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.envs[env]; ok {
		return e.live, nil
	}
	return "", nil
}

func (p *Provisioner) SetTraffic(ctx context.Context, env, ver string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: traffic percent %d", domain.ErrInvalidArgument, percent)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.env(env)
	if _, ok := e.versions[ver]; !ok {
		return fmt.Errorf("version %s/%s: %w", env, ver, domain.ErrNotFound)
	}
	if percent == 100 {
		// The superseded version no longer serves anything.
		if prev := e.live; prev != "" && prev != ver {
			delete(e.versions, prev)
			p.logger.Info("version superseded",
				slog.String("environment", env),
				slog.String("version", prev),
				slog.String("live", ver),
			)
		}
		e.live = ver
		e.canary, e.canaryPct = "", 0
		return nil
	}
	if ver == e.live {
		return fmt.Errorf("%w: %s is already live", domain.ErrInvalidArgument, ver)
	}
	e.canary, e.canaryPct = ver, percent
	return nil
}

func (p *Provisioner) Discard(ctx context.Context, env, ver string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.envs[env]
	if !ok {
		return nil
	}
	if ver == e.live {
		return fmt.Errorf("%w: cannot discard live version %s", domain.ErrInvalidArgument, ver)
	}
	if e.canary == ver {
		e.canary, e.canaryPct = "", 0
	}
	delete(e.versions, ver)
	return nil
}

// Traffic returns the environment's routing: live version, canary version
// and the canary's share.
func (p *Provisioner) Traffic(env string) (live, canary string, canaryPct int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.envs[env]; ok {
		return e.live, e.canary, e.canaryPct
	}
	return "", "", 0
}

// env returns the environment, creating it. Callers hold p.mu.
func (p *Provisioner) env(name string) *environment {
	e, ok := p.envs[name]
	if !ok {
		e = &environment{versions: make(map[string]*version)}
		p.envs[name] = e
	}
	return e
}

// Routes serves the gateway (/envs/{env}/books) and the direct invocation
// targets (/envs/{env}/versions/{version}/invoke).
func (p *Provisioner) Routes() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/envs/{env}/books", p.serveGateway)
	r.Post("/envs/{env}/versions/{version}/invoke", p.serveInvoke)
	return r
}

func (p *Provisioner) serveGateway(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	v := p.pick(env)
	if v == nil {
		http.Error(w, "no version is serving "+env, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("X-Books-Version", v.name)
	req := r.Clone(r.Context())
	req.URL.Path = "/books"
	v.public.ServeHTTP(w, req)
}

// serveInvoke calls a version's create handler directly, without the
// gateway's authorizer.
func (p *Provisioner) serveInvoke(w http.ResponseWriter, r *http.Request) {
	env, name := chi.URLParam(r, "env"), chi.URLParam(r, "version")

	p.mu.RLock()
	var v *version
	if e, ok := p.envs[env]; ok {
		v = e.versions[name]
	}
	p.mu.RUnlock()

	if v == nil {
		http.Error(w, "unknown version", http.StatusNotFound)
		return
	}
	v.handler.Create(w, r)
}

func (p *Provisioner) pick(env string) *version {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.envs[env]
	if !ok {
		return nil
	}
	if e.canary != "" && p.roll() < e.canaryPct {
		return e.versions[e.canary]
	}
	if e.live == "" {
		return nil
	}
	return e.versions[e.live]
}

// defectStore simulates a broken release.
type defectStore struct {
	ports.BookStore
	defect string
}

var errRejected = errors.New("write rejected by defective release")

func (s *defectStore) PutBook(ctx context.Context, b domain.Book) error {
	switch s.defect {
	case DefectRejectWrites:
		return errRejected
	case DefectDropWrites:
		return nil
	}
	return s.BookStore.PutBook(ctx, b)
}
