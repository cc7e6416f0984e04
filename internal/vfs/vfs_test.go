package vfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/arrayvfs/arrayvfs/internal/config"
	"github.com/arrayvfs/arrayvfs/internal/pool"
	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
	"github.com/arrayvfs/arrayvfs/pkg/types"
)

// fakeBackend is an in-memory stand-in for a real backend, used to
// exercise the facade's dispatch, parallel-read, batched-read, move,
// bucket, and filelock behavior without any real I/O.
type fakeBackend struct {
	mu      sync.Mutex
	scheme  string
	files   map[string][]byte
	dirs    map[string]bool
	buckets map[string]bool
	locked  map[string]bool

	readCalls int
}

func newFakeBackend(scheme string) *fakeBackend {
	return &fakeBackend{
		scheme:  scheme,
		files:   make(map[string][]byte),
		dirs:    make(map[string]bool),
		buckets: make(map[string]bool),
		locked:  make(map[string]bool),
	}
}

var _ types.Backend = (*fakeBackend)(nil)
var _ types.BucketBackend = (*fakeBackend)(nil)
var _ types.FilelockBackend = (*fakeBackend)(nil)

func (f *fakeBackend) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, f.scheme+"://")
}

func (f *fakeBackend) CreateDir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeBackend) RemoveDir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, path)
	for p := range f.files {
		if strings.HasPrefix(p, path+"/") {
			delete(f.files, p)
		}
	}
	return nil
}

func (f *fakeBackend) IsDir(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path], nil
}

func (f *fakeBackend) Ls(ctx context.Context, path string) ([]types.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"

	seen := map[string]types.FileInfo{}
	for p, data := range f.files {
		if strings.HasPrefix(p, prefix) {
			rest := strings.TrimPrefix(p, prefix)
			if idx := strings.Index(rest, "/"); idx >= 0 {
				child := prefix + rest[:idx]
				seen[child] = types.FileInfo{Path: child, IsDir: true}
			} else {
				seen[p] = types.FileInfo{Path: p, Size: uint64(len(data))}
			}
		}
	}
	for p := range f.dirs {
		if strings.HasPrefix(p, prefix) && !strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			seen[p] = types.FileInfo{Path: p, IsDir: true}
		}
	}

	infos := make([]types.FileInfo, 0, len(seen))
	for _, v := range seen {
		infos = append(infos, v)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (f *fakeBackend) Touch(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; !ok {
		f.files[path] = []byte{}
	}
	return nil
}

func (f *fakeBackend) RemoveFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; !ok {
		return vfserrors.New(vfserrors.CodeNotFound, "no such file").WithComponent("fake")
	}
	delete(f.files, path)
	return nil
}

func (f *fakeBackend) IsFile(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeBackend) FileSize(ctx context.Context, path string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return 0, vfserrors.New(vfserrors.CodeNotFound, "no such file").WithComponent("fake")
	}
	return uint64(len(data)), nil
}

func (f *fakeBackend) MovePath(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[oldPath]
	if !ok {
		return vfserrors.New(vfserrors.CodeNotFound, "no such file").WithComponent("fake")
	}
	delete(f.files, oldPath)
	f.files[newPath] = data
	return nil
}

func (f *fakeBackend) Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error {
	f.mu.Lock()
	f.readCalls++
	data, ok := f.files[path]
	f.mu.Unlock()
	if !ok {
		return vfserrors.New(vfserrors.CodeNotFound, "no such file").WithComponent("fake")
	}
	if offset+nbytes > uint64(len(data)) {
		return vfserrors.New(vfserrors.CodeBackendError, "read past end of file").WithComponent("fake")
	}
	copy(buffer[:nbytes], data[offset:offset+nbytes])
	return nil
}

func (f *fakeBackend) Write(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append(f.files[path], data...)
	return nil
}

func (f *fakeBackend) Sync(ctx context.Context, path string) error { return nil }

func (f *fakeBackend) CreateBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	return nil
}

func (f *fakeBackend) RemoveBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets, bucket)
	return nil
}

func (f *fakeBackend) EmptyBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := bucket + "/"
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			delete(f.files, p)
		}
	}
	return nil
}

func (f *fakeBackend) IsBucket(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[bucket], nil
}

func (f *fakeBackend) IsEmptyBucket(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := bucket + "/"
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeBackend) FilelockLock(ctx context.Context, path string, exclusive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[path] = true
	return nil
}

func (f *fakeBackend) FilelockUnlock(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, path)
	return nil
}

func newTestVFS() (*VFS, *fakeBackend) {
	cfg := config.NewDefault()
	cfg.MinParallelSize = 100
	cfg.MaxParallelOps = map[config.Scheme]int{config.SchemeFile: 4}
	v := New(cfg)
	b := newFakeBackend("file")
	v.RegisterBackend(config.SchemeFile, b)
	return v, b
}

func TestVFS_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()

	data := []byte("payload bytes")
	if err := v.Write(ctx, "file:///a.bin", data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, len(data))
	if err := v.Read(ctx, "file:///a.bin", 0, buf, uint64(len(data))); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != string(data) {
		t.Errorf("Read = %q, want %q", buf, data)
	}
}

func TestVFS_ParallelReadSplitsAcrossChunks(t *testing.T) {
	ctx := context.Background()
	v, b := newTestVFS()

	data := make([]byte, 1_000_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := v.Write(ctx, "file:///big.bin", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(data))
	if err := v.Read(ctx, "file:///big.bin", 0, buf, uint64(len(data))); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != string(data) {
		t.Error("parallel read did not reproduce original content")
	}
	if b.readCalls != 4 {
		t.Errorf("readCalls = %d, want 4 (min_parallel_size=100, max_parallel_ops=4)", b.readCalls)
	}
}

func TestVFS_ParallelRead_BelowFloorIsSingleCall(t *testing.T) {
	ctx := context.Background()
	v, b := newTestVFS()

	data := []byte("short")
	if err := v.Write(ctx, "file:///small.bin", data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, len(data))
	if err := v.Read(ctx, "file:///small.bin", 0, buf, uint64(len(data))); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.readCalls != 1 {
		t.Errorf("readCalls = %d, want 1 for nbytes < min_parallel_size", b.readCalls)
	}
}

func TestVFS_ReadAll_Coalesces(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	if err := v.Write(ctx, "file:///scatter.bin", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ranges := []types.Range{
		{Offset: 0, Size: 100},
		{Offset: 120, Size: 80},
		{Offset: 500, Size: 50},
	}
	ext := pool.New(2)
	results := v.ReadAll(ctx, "file:///scatter.bin", ranges, ext)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("results[%d].Err = %v", i, r.Err)
		}
		want := data[ranges[i].Offset : ranges[i].Offset+ranges[i].Size]
		if string(r.Data) != string(want) {
			t.Errorf("results[%d].Data mismatch", i)
		}
	}
}

func TestVFS_CrossSchemeMoveRejected(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()
	v.RegisterBackend(config.SchemeS3, newFakeBackend("s3"))

	err := v.MoveFile(ctx, "file:///a.bin", "s3://bucket/a.bin")
	if err == nil {
		t.Fatal("expected cross-scheme move to fail")
	}
	code, ok := vfserrors.CodeOf(err)
	if !ok || code != vfserrors.CodeCrossSchemeMove {
		t.Errorf("CodeOf = %v, %v; want CodeCrossSchemeMove, true", code, ok)
	}
}

func TestVFS_UnsupportedScheme(t *testing.T) {
	ctx := context.Background()
	v := New(config.NewDefault())

	if err := v.Touch(ctx, "file:///a.bin"); err == nil {
		t.Fatal("expected error for unregistered scheme")
	} else if code, ok := vfserrors.CodeOf(err); !ok || code != vfserrors.CodeSchemeUnsupported {
		t.Errorf("CodeOf = %v, %v; want CodeSchemeUnsupported, true", code, ok)
	}
}

func TestVFS_DirSize(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()

	if err := v.Write(ctx, "file:///d/a.bin", []byte("12345")); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := v.Write(ctx, "file:///d/sub/b.bin", []byte("1234567890")); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	size, err := v.DirSize(ctx, "file:///d")
	if err != nil {
		t.Fatalf("DirSize: %v", err)
	}
	if size != 15 {
		t.Errorf("DirSize = %d, want 15", size)
	}
}

func TestVFS_AbsPath(t *testing.T) {
	v, _ := newTestVFS()

	abs, err := v.AbsPath("file://rel/path")
	if err != nil {
		t.Fatalf("AbsPath: %v", err)
	}
	if !strings.HasPrefix(abs, "file:///") {
		t.Errorf("AbsPath = %q, want file:// absolute prefix", abs)
	}

	s3URI := "s3://bucket/key"
	abs2, err := v.AbsPath(s3URI)
	if err != nil {
		t.Fatalf("AbsPath(s3): %v", err)
	}
	if abs2 != s3URI {
		t.Errorf("AbsPath(s3) = %q, want unchanged %q", abs2, s3URI)
	}
}

func TestVFS_OpenFile_RejectsAppendOnS3(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()
	v.RegisterBackend(config.SchemeS3, newFakeBackend("s3"))

	_, err := v.OpenFile(ctx, "s3://bucket/key", ModeAppend)
	if err == nil {
		t.Fatal("expected append mode on S3 to be rejected")
	}
	code, ok := vfserrors.CodeOf(err)
	if !ok || code != vfserrors.CodeAppendOnObjectStore {
		t.Errorf("CodeOf = %v, %v; want CodeAppendOnObjectStore, true", code, ok)
	}
}

func TestVFS_OpenCloseFile(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()

	h, err := v.OpenFile(ctx, "file:///a.bin", ModeRead)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := v.CloseFile(h); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if err := v.CloseFile(h); err == nil {
		t.Fatal("expected double-close to fail")
	}
}

func TestVFS_FilelockRefcount(t *testing.T) {
	ctx := context.Background()
	v, b := newTestVFS()

	if err := v.FilelockLock(ctx, "file:///x", true); err != nil {
		t.Fatalf("first FilelockLock: %v", err)
	}
	if err := v.FilelockLock(ctx, "file:///x", true); err != nil {
		t.Fatalf("second FilelockLock: %v", err)
	}
	if err := v.FilelockUnlock(ctx, "file:///x"); err != nil {
		t.Fatalf("first FilelockUnlock: %v", err)
	}
	b.mu.Lock()
	stillLocked := b.locked["file:///x"]
	b.mu.Unlock()
	if !stillLocked {
		t.Error("expected backend lock to remain held after one of two unlocks")
	}
	if err := v.FilelockUnlock(ctx, "file:///x"); err != nil {
		t.Fatalf("second FilelockUnlock: %v", err)
	}
}

func TestVFS_BucketLifecycle(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVFS()
	v.RegisterBackend(config.SchemeS3, newFakeBackend("s3"))

	if err := v.CreateBucket(ctx, "s3://my-bucket"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	isBucket, err := v.IsBucket(ctx, "s3://my-bucket")
	if err != nil || !isBucket {
		t.Fatalf("IsBucket = %v, %v; want true, nil", isBucket, err)
	}
	isEmpty, err := v.IsEmptyBucket(ctx, "s3://my-bucket")
	if err != nil || !isEmpty {
		t.Fatalf("IsEmptyBucket = %v, %v; want true, nil", isEmpty, err)
	}
	if err := v.RemoveBucket(ctx, "s3://my-bucket"); err != nil {
		t.Fatalf("RemoveBucket: %v", err)
	}
}

func TestVFS_CancelAllTasks(t *testing.T) {
	v, _ := newTestVFS()
	v.CancelAllTasks() // no outstanding tasks; must not panic
}
