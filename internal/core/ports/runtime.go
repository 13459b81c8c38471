package ports

import (
	"context"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// Invocation is a synchronous request to a specific service version.
type Invocation struct {
	// Target identifies the version (function name with qualifier, or URL).
	Target string
	// Body is the request payload.
	Body []byte
}

// InvocationResult is the response of an Invocation.
type InvocationResult struct {
	StatusCode int
	Body       []byte
}

// Success reports a 2xx status.
func (r *InvocationResult) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoker calls a service version directly, bypassing the public gateway.
// Implementations: Lambda, HTTP.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (*InvocationResult, error)
}

// VerdictReporter is the outbound client to the orchestrator's
// status-reporting endpoint.
// Implementations: CodeDeploy, HTTP, in-process ledger.
type VerdictReporter interface {
	ReportVerdict(ctx context.Context, report domain.VerdictReport) error
}

// LifecycleHook is the inbound side of the hook contract: the orchestrator
// hands it a lifecycle event and the candidate's invocation target. The hook
// must eventually report a verdict through its VerdictReporter.
type LifecycleHook interface {
	HandleLifecycleEvent(ctx context.Context, event domain.LifecycleEvent, target string) (domain.Verdict, error)
}

// Provisioner creates new candidate versions of the service without routing
// traffic to them, and moves traffic between versions.
type Provisioner interface {
	// Provision makes a candidate reachable internally.
	Provision(ctx context.Context, environment string, artifact domain.ArtifactRef) (*domain.Candidate, error)

	// LiveVersion returns the version currently serving the environment, or
	// "" if nothing is live yet.
	LiveVersion(ctx context.Context, environment string) (string, error)

	// SetTraffic routes percent of the environment's traffic to version and
	// the rest to the live version. 100 promotes version to live.
	SetTraffic(ctx context.Context, environment, version string, percent int) error

	// Discard removes a candidate that will never go live.
	Discard(ctx context.Context, environment, version string) error
}

// Identity is a disposable user for end-to-end checks.
type Identity struct {
	Username string
	Password string
}

// IdentityProvider issues and removes disposable users.
// Implementations: Cognito user pools, in-memory.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, userPoolID string) (*Identity, error)
	AccessToken(ctx context.Context, clientID string, id *Identity) (string, error)
	DeleteIdentity(ctx context.Context, userPoolID string, id *Identity) error
}

// TokenVerifier validates bearer tokens presented to the CRUD service.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (subject string, err error)
}
