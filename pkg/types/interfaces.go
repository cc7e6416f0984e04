package types

import "context"

// Backend is the capability surface a URI scheme adapter implements.
// The VFS facade dispatches every operation to exactly one Backend,
// chosen by the URI's scheme.
type Backend interface {
	// CreateDir creates path and any missing parents. Object-store
	// backends treat this as a no-op: directories are not first-class.
	CreateDir(ctx context.Context, path string) error

	// RemoveDir recursively removes path and everything under it.
	RemoveDir(ctx context.Context, path string) error

	// IsDir reports whether path names a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// Ls lists the immediate children of path.
	Ls(ctx context.Context, path string) ([]FileInfo, error)

	// Touch creates an empty file at path if it does not already
	// exist; it does not truncate an existing file.
	Touch(ctx context.Context, path string) error

	// RemoveFile removes the file at path.
	RemoveFile(ctx context.Context, path string) error

	// IsFile reports whether path names a file.
	IsFile(ctx context.Context, path string) (bool, error)

	// FileSize returns the size in bytes of the file at path.
	FileSize(ctx context.Context, path string) (uint64, error)

	// MovePath renames/moves oldPath to newPath. Both paths must use
	// this backend's scheme; cross-scheme moves are rejected by the
	// VFS facade before reaching the backend.
	MovePath(ctx context.Context, oldPath, newPath string) error

	// Read reads nbytes starting at offset from the file at path into
	// buffer. buffer must be at least nbytes long.
	Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error

	// Write appends data to the file at path, creating it if
	// necessary. Object-store backends that cannot append return
	// errors.CodeAppendOnObjectStore once the file already
	// has a non-zero size.
	Write(ctx context.Context, path string, data []byte) error

	// Sync flushes any buffered writes for path to the backend.
	// Local backends fsync the underlying file descriptor;
	// object-store backends treat this as a no-op since every Write
	// call already completes a full PUT/append.
	Sync(ctx context.Context, path string) error

	// SupportsURIScheme reports whether this backend serves uri's
	// scheme.
	SupportsURIScheme(uri string) bool
}

// BucketBackend is implemented by object-store backends that expose
// bucket lifecycle operations beyond the core Backend interface.
// Local and HDFS backends do not implement this.
type BucketBackend interface {
	Backend

	CreateBucket(ctx context.Context, bucket string) error
	RemoveBucket(ctx context.Context, bucket string) error
	EmptyBucket(ctx context.Context, bucket string) error
	IsBucket(ctx context.Context, bucket string) (bool, error)
	IsEmptyBucket(ctx context.Context, bucket string) (bool, error)
}

// FilelockBackend is implemented by backends that participate in the
// filelock registry described by the VFS contract. Object-store
// backends typically implement this as a trivial success since they
// have no advisory-lock primitive to call through to.
type FilelockBackend interface {
	FilelockLock(ctx context.Context, path string, exclusive bool) error
	FilelockUnlock(ctx context.Context, path string) error
}
