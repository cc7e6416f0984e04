// Package filelock implements the process-wide, reference-counted
// advisory lock registry the VFS facade consults before delegating
// filelock_lock/filelock_unlock to a backend.
package filelock

import (
	"context"
	"sync"

	"github.com/arrayvfs/arrayvfs/internal/metrics"
	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
	"github.com/arrayvfs/arrayvfs/pkg/types"
)

// entry is the registry's bookkeeping for one locked URI. The handle
// itself lives in the backend (e.g. local's open *os.File); the
// registry only tracks how many callers currently hold the lock.
type entry struct {
	refcount uint64
}

// Registry guards a process-wide path-to-refcount map under a single
// mutex, serializing first-acquire/last-release per the VFS contract's
// filelock registry component.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	enabled bool
	metrics *metrics.Collector
}

// New returns a Registry. When enabled is false, Lock/Unlock succeed
// trivially without touching the map or the backend, matching
// VFSConfig.EnableFilelocks=false.
func New(enabled bool) *Registry {
	return &Registry{entries: make(map[string]*entry), enabled: enabled}
}

// SetMetrics wires an optional metrics collector; once set, the
// active-filelocks gauge is updated with the current number of
// outstanding registry entries whenever an entry is added or removed.
// Lock/Unlock calls that only change an existing entry's refcount
// leave the gauge as it is.
func (r *Registry) SetMetrics(m *metrics.Collector) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// reportActiveLocks updates the gauge with the current entry count.
// Callers must hold r.mu.
func (r *Registry) reportActiveLocks() {
	if r.metrics != nil {
		r.metrics.UpdateActiveLocks(len(r.entries))
	}
}

// Lock acquires the advisory lock for uri. On the first acquire for a
// given uri, it calls backend.FilelockLock while holding the registry
// mutex — a deliberate trade-off: lock acquisition is rare relative to
// query operations, and holding the mutex prevents a second caller
// from racing into a duplicate backend acquire. Subsequent concurrent
// acquires of the same uri only increment the refcount.
func (r *Registry) Lock(ctx context.Context, backend types.FilelockBackend, uri string, exclusive bool) error {
	if !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[uri]; ok {
		e.refcount++
		return nil
	}

	if err := backend.FilelockLock(ctx, uri, exclusive); err != nil {
		return err
	}
	r.entries[uri] = &entry{refcount: 1}
	r.reportActiveLocks()
	return nil
}

// Unlock releases one reference to uri's advisory lock. A missing
// entry or a refcount that has already reached zero is a consistency
// violation: the caller broke the lock/unlock pairing contract.
func (r *Registry) Unlock(ctx context.Context, backend types.FilelockBackend, uri string) error {
	if !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uri]
	if !ok || e.refcount == 0 {
		return vfserrors.New(vfserrors.CodeLockConsistency, "unlock without a matching lock").
			WithComponent("filelock").WithOperation("unlock")
	}

	e.refcount--
	if e.refcount == 0 {
		delete(r.entries, uri)
		r.reportActiveLocks()
		return backend.FilelockUnlock(ctx, uri)
	}
	return nil
}

// Refcount returns the current outstanding refcount for uri, or 0 if
// there is no entry. Intended for observability and tests.
func (r *Registry) Refcount(uri string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[uri]; ok {
		return e.refcount
	}
	return 0
}
