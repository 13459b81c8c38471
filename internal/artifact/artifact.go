// Package artifact stores the source snapshots and build bundles that flow
// between pipeline actions.
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

const memoryScheme = "mem://"

// Memory keeps artifacts in process.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ ports.ArtifactStore = (*Memory)(nil)

// NewMemory creates an empty artifact store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, name, key string, body io.Reader) (domain.ArtifactRef, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("read artifact %s: %w", name, err)
	}
	loc := memoryScheme + key

	m.mu.Lock()
	m.blobs[loc] = data
	m.mu.Unlock()

	return domain.ArtifactRef{Name: name, Location: loc, Digest: digest(data)}, nil
}

func (m *Memory) Open(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.blobs[ref.Location]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", ref.Location, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Open creates the artifact store named by cfg.
func Open(ctx context.Context, cfg *config.Config) (ports.ArtifactStore, error) {
	switch cfg.Artifacts.Type {
	case "memory", "":
		return NewMemory(), nil
	case "s3":
		if cfg.Artifacts.Bucket == "" {
			return nil, fmt.Errorf("artifacts: s3 requires a bucket")
		}
		awsCfg, err := awsutil.LoadConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewS3FromConfig(awsCfg, cfg.Artifacts.Bucket, cfg.Artifacts.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown artifact store type: %s", cfg.Artifacts.Type)
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
