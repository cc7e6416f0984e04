package filelock

import (
	"context"
	"testing"

	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
)

type fakeBackend struct {
	lockCalls   int
	unlockCalls int
	lockErr     error
}

func (f *fakeBackend) FilelockLock(ctx context.Context, path string, exclusive bool) error {
	f.lockCalls++
	return f.lockErr
}

func (f *fakeBackend) FilelockUnlock(ctx context.Context, path string) error {
	f.unlockCalls++
	return nil
}

func TestRegistry_RefcountLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New(true)
	backend := &fakeBackend{}

	if err := r.Lock(ctx, backend, "file://x", true); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	if err := r.Lock(ctx, backend, "file://x", true); err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	if backend.lockCalls != 1 {
		t.Errorf("backend.lockCalls = %d, want 1 (only first acquire hits the backend)", backend.lockCalls)
	}
	if got := r.Refcount("file://x"); got != 2 {
		t.Errorf("Refcount = %d, want 2", got)
	}

	if err := r.Unlock(ctx, backend, "file://x"); err != nil {
		t.Fatalf("first Unlock: %v", err)
	}
	if got := r.Refcount("file://x"); got != 1 {
		t.Errorf("Refcount after one unlock = %d, want 1", got)
	}
	if backend.unlockCalls != 0 {
		t.Errorf("backend.unlockCalls = %d, want 0 before last release", backend.unlockCalls)
	}

	if err := r.Unlock(ctx, backend, "file://x"); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
	if got := r.Refcount("file://x"); got != 0 {
		t.Errorf("Refcount after last unlock = %d, want 0", got)
	}
	if backend.unlockCalls != 1 {
		t.Errorf("backend.unlockCalls = %d, want 1", backend.unlockCalls)
	}
}

func TestRegistry_UnlockWithoutLock(t *testing.T) {
	ctx := context.Background()
	r := New(true)
	backend := &fakeBackend{}

	err := r.Unlock(ctx, backend, "file://never-locked")
	if err == nil {
		t.Fatal("expected error")
	}
	code, ok := vfserrors.CodeOf(err)
	if !ok || code != vfserrors.CodeLockConsistency {
		t.Errorf("CodeOf = %v, %v; want CodeLockConsistency, true", code, ok)
	}
}

func TestRegistry_Disabled(t *testing.T) {
	ctx := context.Background()
	r := New(false)
	backend := &fakeBackend{}

	if err := r.Lock(ctx, backend, "file://x", true); err != nil {
		t.Fatalf("Lock on disabled registry: %v", err)
	}
	if backend.lockCalls != 0 {
		t.Errorf("backend.lockCalls = %d, want 0 when disabled", backend.lockCalls)
	}
	if err := r.Unlock(ctx, backend, "file://x"); err != nil {
		t.Fatalf("Unlock on disabled registry: %v", err)
	}
}
