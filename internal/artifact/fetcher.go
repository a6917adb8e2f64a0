// Package artifact retrieves registered artifacts from their storage backends
// and verifies them against the recorded checksum before use.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrUnsupportedStorage is returned for a storage type with no fetcher.
var ErrUnsupportedStorage = errors.New("unsupported storage type")

// Fetcher yields the bytes at path and their length, or -1 when unknown.
type Fetcher interface {
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

// Registry resolves storage type tags to fetchers.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register binds f to one or more storage type tags. Tags are case-insensitive.
func (r *Registry) Register(f Fetcher, storageTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range storageTypes {
		r.fetchers[strings.ToLower(t)] = f
	}
}

// Fetcher returns the fetcher for storageType.
func (r *Registry) Fetcher(storageType string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[strings.ToLower(storageType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, storageType)
	}
	return f, nil
}

// DefaultRegistry wires the file and HTTP fetchers, plus S3 when s3 is non-nil.
func DefaultRegistry(root string, s3 Fetcher) *Registry {
	r := NewRegistry()
	r.Register(NewFileFetcher(root), "file", "local", "nfs")
	r.Register(NewHTTPFetcher(nil), "http", "https")
	if s3 != nil {
		r.Register(s3, "s3", "ceph")
	}
	return r
}
