package types

import (
	"context"
	"testing"
)

// TestInterfaces verifies that our mock implementations satisfy the
// capability interfaces backend adapters must implement.
func TestInterfaces(t *testing.T) {
	var (
		_ Backend         = (*mockBackend)(nil)
		_ BucketBackend   = (*mockBucketBackend)(nil)
		_ FilelockBackend = (*mockFilelockBackend)(nil)
	)
}

type mockBackend struct{}

func (m *mockBackend) CreateDir(ctx context.Context, path string) error { return nil }
func (m *mockBackend) RemoveDir(ctx context.Context, path string) error { return nil }
func (m *mockBackend) IsDir(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (m *mockBackend) Ls(ctx context.Context, path string) ([]FileInfo, error) {
	return nil, nil
}
func (m *mockBackend) Touch(ctx context.Context, path string) error      { return nil }
func (m *mockBackend) RemoveFile(ctx context.Context, path string) error { return nil }
func (m *mockBackend) IsFile(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (m *mockBackend) FileSize(ctx context.Context, path string) (uint64, error) {
	return 0, nil
}
func (m *mockBackend) MovePath(ctx context.Context, oldPath, newPath string) error {
	return nil
}
func (m *mockBackend) Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error {
	return nil
}
func (m *mockBackend) Write(ctx context.Context, path string, data []byte) error { return nil }
func (m *mockBackend) Sync(ctx context.Context, path string) error              { return nil }
func (m *mockBackend) SupportsURIScheme(uri string) bool                        { return true }

type mockBucketBackend struct{ mockBackend }

func (m *mockBucketBackend) CreateBucket(ctx context.Context, bucket string) error { return nil }
func (m *mockBucketBackend) RemoveBucket(ctx context.Context, bucket string) error { return nil }
func (m *mockBucketBackend) EmptyBucket(ctx context.Context, bucket string) error  { return nil }
func (m *mockBucketBackend) IsBucket(ctx context.Context, bucket string) (bool, error) {
	return false, nil
}
func (m *mockBucketBackend) IsEmptyBucket(ctx context.Context, bucket string) (bool, error) {
	return false, nil
}

type mockFilelockBackend struct{}

func (m *mockFilelockBackend) FilelockLock(ctx context.Context, path string, exclusive bool) error {
	return nil
}
func (m *mockFilelockBackend) FilelockUnlock(ctx context.Context, path string) error {
	return nil
}
