// Package registry implements the process-wide backend registry
// (spec.md §4.3): a namespace_id -> backend map enforcing cluster-size
// consistency and exclusive root-directory ownership for file-backed
// deployments.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openvstorage/dtl/internal/backend"
)

// ErrClusterSizeMismatch is returned by Lookup when an existing
// backend's cluster size disagrees with the request's.
var ErrClusterSizeMismatch = backend.ErrClusterSizeMismatch

// LookupRequest is what a Register opcode resolves into a backend.
type LookupRequest struct {
	Namespace   string
	ClusterSize uint32
	Owner       backend.OwnerTag
}

// Registry is the process-wide namespace -> backend map, guarded by a
// single mutex. Remove closes a backend after releasing the mutex, but
// Lookup creates a new backend while holding it, so for file-backed
// deployments the namespace directory creation and scan run under the
// mutex.
type Registry struct {
	mu       sync.Mutex
	backends map[string]backend.Backend

	// rootDir is set for file-backed deployments; empty means
	// memory-backed (spec.md §3 "Server-level state").
	rootDir string
	segCfg  backend.SegmentConfig
}

// New creates a registry. If rootDir is empty, created backends are
// memory-backed; otherwise they are file-backed under rootDir.
func New(rootDir string, segCfg backend.SegmentConfig) *Registry {
	return &Registry{
		backends: make(map[string]backend.Backend),
		rootDir:  rootDir,
		segCfg:   segCfg,
	}
}

// IsFileBacked reports whether this registry creates file-backed
// backends.
func (r *Registry) IsFileBacked() bool { return r.rootDir != "" }

// Lookup resolves req to a backend, creating one on first use. A
// cluster-size mismatch against an existing backend is rejected
// without mutating that backend; a fresh namespace creates (and
// registers) a new backend via the configured factory.
func (r *Registry) Lookup(req LookupRequest) (backend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.backends[req.Namespace]; ok {
		if existing.ClusterSize() != req.ClusterSize {
			return nil, fmt.Errorf("%w: namespace %q has %d, request wants %d",
				ErrClusterSizeMismatch, req.Namespace, existing.ClusterSize(), req.ClusterSize)
		}
		return existing, nil
	}

	b, err := r.create(req.Namespace, req.ClusterSize)
	if err != nil {
		return nil, err
	}
	r.backends[req.Namespace] = b
	return b, nil
}

func (r *Registry) create(namespace string, clusterSize uint32) (backend.Backend, error) {
	if r.rootDir == "" {
		return backend.NewMemoryBackend(namespace, clusterSize), nil
	}
	dir := filepath.Join(r.rootDir, namespace)
	return backend.NewFileBackend(namespace, dir, clusterSize, r.segCfg)
}

// Remove erases the namespace's entry and destroys the backend; the
// backend's Close is the trim point for on-disk data (spec.md §4.3).
func (r *Registry) Remove(namespace string) error {
	r.mu.Lock()
	b, ok := r.backends[namespace]
	if ok {
		delete(r.backends, namespace)
	}
	r.mu.Unlock()

	if !ok {
		return errors.New("registry: namespace not present")
	}
	return b.Close()
}

// Len reports the number of live backends, for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backends)
}
