// Package identity issues disposable users for end-to-end checks and
// verifies the bearer tokens they obtain.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

var (
	// ErrInvalidCredentials is returned when a username/password pair does
	// not match a known user.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for unknown or revoked tokens.
	ErrInvalidToken = errors.New("invalid token")
)

type user struct {
	pool     string
	password string
}

// Memory is an in-process user directory. It issues opaque access tokens and
// verifies them for the local books service.
type Memory struct {
	mu     sync.RWMutex
	users  map[string]user   // username -> user
	tokens map[string]string // token -> username
}

var (
	_ ports.IdentityProvider = (*Memory)(nil)
	_ ports.TokenVerifier    = (*Memory)(nil)
)

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]user),
		tokens: make(map[string]string),
	}
}

func (m *Memory) CreateIdentity(ctx context.Context, userPoolID string) (*ports.Identity, error) {
	id := newIdentity()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id.Username] = user{pool: userPoolID, password: id.Password}
	return id, nil
}

func (m *Memory) AccessToken(ctx context.Context, clientID string, id *ports.Identity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id.Username]
	if !ok || u.password != id.Password {
		return "", ErrInvalidCredentials
	}
	token := uuid.NewString()
	m.tokens[token] = id.Username
	return token, nil
}

// DeleteIdentity removes the user and revokes its tokens. Deleting an unknown
// user is not an error.
func (m *Memory) DeleteIdentity(ctx context.Context, userPoolID string, id *ports.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id.Username)
	for token, name := range m.tokens {
		if name == id.Username {
			delete(m.tokens, token)
		}
	}
	return nil
}

func (m *Memory) VerifyToken(ctx context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return name, nil
}

// Users returns the number of live users.
func (m *Memory) Users() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// newIdentity builds a unique username in the simulator mail domain and a
// password that satisfies common pool policies (upper, lower, digit, symbol).
func newIdentity() *ports.Identity {
	return &ports.Identity{
		Username: fmt.Sprintf("success+%s@simulator.amazonses.com", uuid.NewString()),
		Password: "Aa1!" + uuid.NewString(),
	}
}
