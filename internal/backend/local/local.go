// Package local implements the VFS capability interfaces against the
// POSIX filesystem.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
	"github.com/arrayvfs/arrayvfs/pkg/types"
	"github.com/arrayvfs/arrayvfs/pkg/utils"
)

// Backend implements types.Backend and types.FilelockBackend over the
// local POSIX filesystem. Paths are passed in scheme-stripped form by
// the VFS facade (the uri.URI.ToPath() of a file:// URI).
type Backend struct {
	mu    sync.Mutex
	locks map[string]*os.File // path -> held file descriptor, one per outstanding lock
}

// NewBackend returns a local filesystem Backend.
func NewBackend() *Backend {
	return &Backend{locks: make(map[string]*os.File)}
}

var _ types.Backend = (*Backend)(nil)
var _ types.FilelockBackend = (*Backend)(nil)

// SupportsURIScheme reports whether uri uses the file:// scheme.
func (b *Backend) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, "file://")
}

// validate rejects a path carrying a directory-traversal sequence
// before it reaches the os package. The VFS facade always passes
// already-absolute paths, but a caller composing a path from
// untrusted input upstream (e.g. a dataset name embedded in a URI)
// can still smuggle a "../" segment through before AbsPath cleans it.
func (b *Backend) validate(op, path string) error {
	if err := utils.ValidatePath(path, true); err != nil {
		return vfserrors.Wrap(vfserrors.CodeBackendError, err, "path failed validation").
			WithComponent("local").WithOperation(op).WithRetryable(false)
	}
	return nil
}

func (b *Backend) translateError(op, path string, err error) error {
	if os.IsNotExist(err) {
		return vfserrors.Wrap(vfserrors.CodeNotFound, err, "path does not exist").
			WithComponent("local").WithOperation(op)
	}
	if os.IsExist(err) {
		return vfserrors.Wrap(vfserrors.CodeAlreadyExists, err, "path already exists").
			WithComponent("local").WithOperation(op)
	}
	return vfserrors.Wrap(vfserrors.CodeBackendError, err, "local filesystem operation failed").
		WithComponent("local").WithOperation(op).WithRetryable(false)
}

// CreateDir creates path and any missing parents.
func (b *Backend) CreateDir(ctx context.Context, path string) error {
	if err := b.validate("create_dir", path); err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return b.translateError("create_dir", path, err)
	}
	return nil
}

// RemoveDir recursively removes path.
func (b *Backend) RemoveDir(ctx context.Context, path string) error {
	if err := b.validate("remove_dir", path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return b.translateError("remove_dir", path, err)
	}
	return nil
}

// IsDir reports whether path names a directory.
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) {
	if err := b.validate("is_dir", path); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, b.translateError("is_dir", path, err)
	}
	return info.IsDir(), nil
}

// Ls lists the immediate children of path, sorted by name.
func (b *Backend) Ls(ctx context.Context, path string) ([]types.FileInfo, error) {
	if err := b.validate("ls", path); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, b.translateError("ls", path, err)
	}

	infos := make([]types.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, b.translateError("ls", path, err)
		}
		infos = append(infos, types.FileInfo{
			Path:  filepath.Join(path, e.Name()),
			Size:  uint64(fi.Size()),
			IsDir: fi.IsDir(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Touch creates an empty file at path if it does not already exist.
func (b *Backend) Touch(ctx context.Context, path string) error {
	if err := b.validate("touch", path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return b.translateError("touch", path, err)
	}
	return f.Close()
}

// RemoveFile removes the file at path.
func (b *Backend) RemoveFile(ctx context.Context, path string) error {
	if err := b.validate("remove_file", path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return b.translateError("remove_file", path, err)
	}
	return nil
}

// IsFile reports whether path exists and is not a directory.
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) {
	if err := b.validate("is_file", path); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, b.translateError("is_file", path, err)
	}
	return !info.IsDir(), nil
}

// FileSize returns the size in bytes of the file at path.
func (b *Backend) FileSize(ctx context.Context, path string) (uint64, error) {
	if err := b.validate("file_size", path); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, b.translateError("file_size", path, err)
	}
	return uint64(info.Size()), nil
}

// MovePath renames oldPath to newPath.
func (b *Backend) MovePath(ctx context.Context, oldPath, newPath string) error {
	if err := b.validate("move_path", oldPath); err != nil {
		return err
	}
	if err := b.validate("move_path", newPath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return b.translateError("move_path", newPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return b.translateError("move_path", oldPath, err)
	}
	return nil
}

// Read reads nbytes starting at offset from the file at path into buffer.
func (b *Backend) Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error {
	if nbytes == 0 {
		return nil
	}
	if err := b.validate("read", path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return b.translateError("read", path, err)
	}
	defer f.Close()

	n, err := f.ReadAt(buffer[:nbytes], int64(offset))
	if err != nil && err != io.EOF {
		return b.translateError("read", path, err)
	}
	if uint64(n) != nbytes {
		return vfserrors.New(vfserrors.CodeBackendError, "short read").
			WithComponent("local").WithOperation("read")
	}
	return nil
}

// Write appends data to the file at path, creating it if necessary.
func (b *Backend) Write(ctx context.Context, path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := b.validate("write", path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return b.translateError("write", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return b.translateError("write", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return b.translateError("write", path, err)
	}
	return nil
}

// Sync fsyncs the underlying file descriptor for path.
func (b *Backend) Sync(ctx context.Context, path string) error {
	if err := b.validate("sync", path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return b.translateError("sync", path, err)
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		return b.translateError("sync", path, err)
	}
	return nil
}

// FilelockLock acquires a POSIX advisory lock on path via
// golang.org/x/sys/unix.Flock, shared when exclusive is false.
func (b *Backend) FilelockLock(ctx context.Context, path string, exclusive bool) error {
	if err := b.validate("filelock_lock", path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return b.translateError("filelock_lock", path, err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return b.translateError("filelock_lock", path, err)
	}

	b.mu.Lock()
	b.locks[path] = f
	b.mu.Unlock()
	return nil
}

// FilelockUnlock releases the lock acquired by FilelockLock on path.
func (b *Backend) FilelockUnlock(ctx context.Context, path string) error {
	if err := b.validate("filelock_unlock", path); err != nil {
		return err
	}

	b.mu.Lock()
	f, ok := b.locks[path]
	if ok {
		delete(b.locks, path)
	}
	b.mu.Unlock()

	if !ok {
		return vfserrors.New(vfserrors.CodeLockConsistency, "unlock without matching lock").
			WithComponent("local").WithOperation("filelock_unlock")
	}

	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	if err != nil {
		return b.translateError("filelock_unlock", path, err)
	}
	return nil
}
