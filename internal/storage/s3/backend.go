package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"golang.org/x/sync/errgroup"

	"github.com/arrayvfs/arrayvfs/internal/batch"
	"github.com/arrayvfs/arrayvfs/internal/circuit"
	"github.com/arrayvfs/arrayvfs/internal/metrics"
	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
	"github.com/arrayvfs/arrayvfs/pkg/retry"
	"github.com/arrayvfs/arrayvfs/pkg/types"
)

// dirMarkerSuffix is appended to a directory path to form the key of its
// zero-byte marker object, the only way S3 represents an otherwise-empty
// "directory".
const dirMarkerSuffix = "/.keep"

// Backend implements the VFS capability interfaces against a single S3
// bucket. It leans on CargoShip's transporter for large writes, a
// circuit breaker and retryer for resilience, and the tier validator to
// enforce storage-class constraints on writes and deletes.
type Backend struct {
	client      *s3.Client
	bucket      string
	pool        *ConnectionPool
	config      *Config
	transporter *cargoships3.Transporter
	logger      *slog.Logger

	tierInfo      StorageTierInfo
	tierValidator *TierValidator

	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
	stats   *metrics.Collector

	localMetrics *MetricsCollector
}

// NewBackend creates an S3-backed Backend scoped to a single bucket.
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	logger := slog.Default().With("component", "s3backend", "bucket", bucket)

	clients, err := NewClientManager(ctx, bucket, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client manager: %w", err)
	}

	tierValidator := NewTierValidator(cfg.StorageTier, cfg.TierConstraints, logger)

	breaker := circuit.NewCircuitBreaker(fmt.Sprintf("s3:%s", bucket), circuit.Config{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	backend := &Backend{
		client:        clients.GetClient(),
		bucket:        bucket,
		pool:          clients.GetPool(),
		config:        cfg,
		transporter:   clients.GetTransporter(),
		logger:        logger,
		tierInfo:      tierValidator.GetTierInfo(),
		tierValidator: tierValidator,
		breaker:       breaker,
		retryer:       retry.New(retry.DefaultConfig()),
		localMetrics:  NewMetricsCollector(),
	}
	backend.localMetrics.SetAccelerationEnabled(cfg.UseAccelerate)

	if err := backend.healthCheck(ctx); err != nil {
		logger.Warn("initial bucket health check failed", "error", err)
	}

	return backend, nil
}

// SetMetrics injects a shared metrics collector; optional.
func (b *Backend) SetMetrics(m *metrics.Collector) {
	b.stats = m
}

// SupportsURIScheme reports whether uri is an s3:// URI.
func (b *Backend) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

func (b *Backend) dirMarkerKey(p string) string {
	return strings.TrimSuffix(p, "/") + dirMarkerSuffix
}

func (b *Backend) withPrefix(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	return p
}

// CreateDir materializes a zero-byte marker object so an otherwise empty
// "directory" is discoverable by Ls/IsDir.
func (b *Backend) CreateDir(ctx context.Context, dirPath string) error {
	return b.do(ctx, "create_dir", func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.dirMarkerKey(dirPath)),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return b.translateError("create_dir", dirPath, err)
		}
		return nil
	})
}

// RemoveDir deletes every object under dirPath's prefix, including its
// marker object.
func (b *Backend) RemoveDir(ctx context.Context, dirPath string) error {
	return b.do(ctx, "remove_dir", func() error {
		prefix := b.withPrefix(dirPath)
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return b.translateError("remove_dir", dirPath, err)
			}
			if len(page.Contents) == 0 {
				continue
			}

			var objects []s3types.ObjectIdentifier
			for _, obj := range page.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.bucket),
				Delete: &s3types.Delete{Objects: objects},
			})
			if err != nil {
				return b.translateError("remove_dir", dirPath, err)
			}
		}
		return nil
	})
}

// IsDir reports whether dirPath has any object (including its own
// marker) under its prefix.
func (b *Backend) IsDir(ctx context.Context, dirPath string) (bool, error) {
	var isDir bool
	err := b.do(ctx, "is_dir", func() error {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(b.withPrefix(dirPath)),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return b.translateError("is_dir", dirPath, err)
		}
		isDir = len(out.Contents) > 0
		return nil
	})
	return isDir, err
}

// Ls lists the immediate children of dirPath, treating "/" as the
// directory delimiter. Common prefixes become directory entries.
func (b *Backend) Ls(ctx context.Context, dirPath string) ([]types.FileInfo, error) {
	var entries []types.FileInfo
	err := b.do(ctx, "ls", func() error {
		prefix := b.withPrefix(dirPath)
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(b.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return b.translateError("ls", dirPath, err)
			}
			for _, cp := range page.CommonPrefixes {
				entries = append(entries, types.FileInfo{
					Path:  strings.TrimSuffix(aws.ToString(cp.Prefix), "/"),
					IsDir: true,
				})
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, dirMarkerSuffix) {
					continue
				}
				entries = append(entries, types.FileInfo{
					Path:  key,
					Size:  uint64(aws.ToInt64(obj.Size)),
					IsDir: false,
				})
			}
		}
		return nil
	})
	return entries, err
}

// Touch creates a zero-byte object at path if it does not already
// exist; it is a no-op for an existing object, since S3 has no mtime to
// bump without rewriting the object's content.
func (b *Backend) Touch(ctx context.Context, filePath string) error {
	exists, err := b.IsFile(ctx, filePath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.do(ctx, "touch", func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return b.translateError("touch", filePath, err)
		}
		return nil
	})
}

// RemoveFile deletes a single object, honoring the configured storage
// tier's deletion embargo.
func (b *Backend) RemoveFile(ctx context.Context, filePath string) error {
	return b.do(ctx, "remove_file", func() error {
		if head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
		}); err == nil && head.LastModified != nil {
			if err := b.tierValidator.ValidateDelete(filePath, time.Since(*head.LastModified)); err != nil {
				return b.translateError("remove_file", filePath, err)
			}
		}

		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
		})
		if err != nil {
			return b.translateError("remove_file", filePath, err)
		}
		return nil
	})
}

// IsFile reports whether path names an existing object.
func (b *Backend) IsFile(ctx context.Context, filePath string) (bool, error) {
	var exists bool
	err := b.do(ctx, "is_file", func() error {
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
		})
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return b.translateError("is_file", filePath, err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// FileSize returns an object's content length.
func (b *Backend) FileSize(ctx context.Context, filePath string) (uint64, error) {
	var size uint64
	err := b.do(ctx, "file_size", func() error {
		out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
		})
		if err != nil {
			return b.translateError("file_size", filePath, err)
		}
		size = uint64(aws.ToInt64(out.ContentLength))
		return nil
	})
	return size, err
}

// MovePath copies oldPath to newPath within this bucket and deletes the
// original. Both paths are assumed to belong to this backend's bucket;
// cross-scheme moves are rejected by the VFS facade before reaching
// here.
func (b *Backend) MovePath(ctx context.Context, oldPath, newPath string) error {
	return b.do(ctx, "move_path", func() error {
		src := path.Join(b.bucket, oldPath)
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			CopySource: aws.String(src),
			Key:        aws.String(newPath),
		})
		if err != nil {
			return vfserrors.Wrap(vfserrors.CodeBackendError, err, "copy during move failed").
				WithComponent("s3").WithOperation("move_path")
		}
		_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(oldPath),
		})
		if err != nil {
			return b.translateError("move_path", oldPath, err)
		}
		return nil
	})
}

// Read fetches the byte range [offset, offset+nbytes) of path into
// buffer.
func (b *Backend) Read(ctx context.Context, filePath string, offset uint64, buffer []byte, nbytes uint64) error {
	return b.do(ctx, "read", func() error {
		rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+nbytes-1)
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(filePath),
			Range:  aws.String(rangeHeader),
		})
		if err != nil {
			return b.translateError("read", filePath, err)
		}
		defer out.Body.Close()

		n, err := io.ReadFull(out.Body, buffer[:nbytes])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return vfserrors.Wrap(vfserrors.CodeBackendError, err, "short read from S3 object").
				WithComponent("s3").WithOperation("read")
		}
		b.localMetrics.RecordBytesDownloaded(int64(n))
		if b.config.UseAccelerate {
			b.localMetrics.RecordAcceleratedRequest(int64(n), 0)
		}
		return nil
	})
}

// ReadAll performs the scatter-gather coalesced read of ranges over
// path, using this backend's configured coalescing thresholds.
func (b *Backend) ReadAll(ctx context.Context, filePath string, ranges []types.Range) []types.ReadAllResult {
	return batch.ReadAll(ctx, b, filePath, ranges, b.config.MinBatchSize, b.config.MinBatchGap)
}

// Write uploads data as the full contents of path. Because S3 objects
// are immutable, Write only supports creating a fresh object: if path
// already names a non-empty object, it returns
// CodeAppendOnObjectStore, matching the VFS contract's rule that
// object-store backends cannot append.
func (b *Backend) Write(ctx context.Context, filePath string, data []byte) error {
	size, err := b.FileSize(ctx, filePath)
	if err != nil {
		if code, ok := vfserrors.CodeOf(err); !ok || code != vfserrors.CodeNotFound {
			return err
		}
	} else if size > 0 {
		return vfserrors.New(vfserrors.CodeAppendOnObjectStore,
			"S3 objects are immutable; writes to an existing non-empty object are unsupported").
			WithComponent("s3").WithOperation("write")
	}

	if err := b.tierValidator.ValidateWrite(filePath, int64(len(data))); err != nil {
		return vfserrors.Wrap(vfserrors.CodeBackendError, err, "tier validation failed").
			WithComponent("s3").WithOperation("write")
	}

	return b.do(ctx, "write", func() error {
		if b.transporter != nil && len(data) >= 32*1024*1024 {
			start := time.Now()
			b.localMetrics.RecordMultipartUploadStart()
			_, err := b.transporter.Upload(ctx, cargoships3.Archive{
				Key:          filePath,
				Reader:       bytes.NewReader(data),
				Size:         int64(len(data)),
				StorageClass: ConvertTierToCargoShipStorageClass(b.config.StorageTier),
			})
			if err != nil {
				b.localMetrics.RecordMultipartUploadFailed()
				return vfserrors.Wrap(vfserrors.CodeBackendError, err, "cargoship upload failed").
					WithComponent("s3").WithOperation("write")
			}
			b.localMetrics.RecordMultipartUploadComplete(int64(len(data)), time.Since(start))
			b.localMetrics.RecordBytesUploaded(int64(len(data)))
			return nil
		}

		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(b.bucket),
			Key:          aws.String(filePath),
			Body:         bytes.NewReader(data),
			StorageClass: ConvertTierToStorageClass(b.config.StorageTier),
			ContentType:  aws.String(detectContentType(filePath)),
		})
		if err != nil {
			return b.translateError("write", filePath, err)
		}
		b.localMetrics.RecordBytesUploaded(int64(len(data)))
		return nil
	})
}

// Sync is a no-op: every successful PutObject/CompleteMultipartUpload
// call is already durable in S3.
func (b *Backend) Sync(ctx context.Context, filePath string) error {
	return nil
}

// FilelockLock is a trivial success: object stores have no advisory
// lock primitive for the filelock registry to call through to.
func (b *Backend) FilelockLock(ctx context.Context, filePath string, exclusive bool) error {
	return nil
}

// FilelockUnlock is a trivial success, mirroring FilelockLock.
func (b *Backend) FilelockUnlock(ctx context.Context, filePath string) error {
	return nil
}

// CreateBucket creates the bucket named by bucket.
func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	return b.do(ctx, "create_bucket", func() error {
		_, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		})
		if err != nil {
			return b.translateError("create_bucket", bucket, err)
		}
		return nil
	})
}

// RemoveBucket deletes bucket, which must already be empty.
func (b *Backend) RemoveBucket(ctx context.Context, bucket string) error {
	return b.do(ctx, "remove_bucket", func() error {
		_, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucket),
		})
		if err != nil {
			return b.translateError("remove_bucket", bucket, err)
		}
		return nil
	})
}

// EmptyBucket deletes every object in bucket without deleting the
// bucket itself.
func (b *Backend) EmptyBucket(ctx context.Context, bucket string) error {
	return b.do(ctx, "empty_bucket", func() error {
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return b.translateError("empty_bucket", bucket, err)
			}
			if len(page.Contents) == 0 {
				continue
			}
			var objects []s3types.ObjectIdentifier
			for _, obj := range page.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects},
			})
			if err != nil {
				return b.translateError("empty_bucket", bucket, err)
			}
		}
		return nil
	})
}

// IsBucket reports whether bucket exists and is accessible.
func (b *Backend) IsBucket(ctx context.Context, bucket string) (bool, error) {
	var exists bool
	err := b.do(ctx, "is_bucket", func() error {
		_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return b.translateError("is_bucket", bucket, err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// IsEmptyBucket reports whether bucket has zero objects.
func (b *Backend) IsEmptyBucket(ctx context.Context, bucket string) (bool, error) {
	var empty bool
	err := b.do(ctx, "is_empty_bucket", func() error {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return b.translateError("is_empty_bucket", bucket, err)
		}
		empty = len(out.Contents) == 0
		return nil
	})
	return empty, err
}

// GetObjects fetches multiple keys in parallel, bounded by the
// backend's pool size, for callers outside the VFS facade's own
// parallel-read path (e.g. diagnostics, batch import tooling).
func (b *Backend) GetObjects(ctx context.Context, keys []string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.PoolSize)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			out, err := b.client.GetObject(gctx, &s3.GetObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return b.translateError("get_objects", key, err)
			}
			defer out.Body.Close()
			data, err := io.ReadAll(out.Body)
			if err != nil {
				return vfserrors.Wrap(vfserrors.CodeBackendError, err, "read body failed").
					WithComponent("s3").WithOperation("get_objects")
			}
			mu.Lock()
			results[key] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PutObjects writes multiple objects in parallel, bounded by the
// backend's pool size.
func (b *Backend) PutObjects(ctx context.Context, objects map[string][]byte) error {
	if len(objects) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.PoolSize)

	for key, data := range objects {
		key, data := key, data
		g.Go(func() error {
			return b.Write(gctx, key, data)
		})
	}
	return g.Wait()
}

// GetCurrentTier returns the storage tier this backend writes with.
func (b *Backend) GetCurrentTier() string {
	return b.config.StorageTier
}

// GetTierRecommendations forwards to the tier validator.
func (b *Backend) GetTierRecommendations(objectSize int64, accessFrequency string) []string {
	return b.tierValidator.GetRecommendations(objectSize, accessFrequency)
}

// GetMetrics returns a copy of the backend's internal performance
// counters.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.localMetrics.GetMetrics()
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.pool.Close()
}

// healthCheck verifies the bucket is reachable.
func (b *Backend) healthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

// do executes fn through the circuit breaker and retryer, recording
// backend metrics and (if set) the shared collector around the call.
func (b *Backend) do(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return fn()
		})
	})
	duration := time.Since(start)

	b.localMetrics.RecordMetrics(duration, err != nil)
	if err != nil {
		b.localMetrics.RecordError(err)
	}
	if b.stats != nil {
		b.stats.RecordOperation(operation, duration, 0, err == nil)
		if err != nil {
			b.stats.RecordError(operation, err)
		}
	}
	return err
}

// translateError maps an AWS SDK error for key into the structured
// error taxonomy.
func (b *Backend) translateError(operation, key string, err error) error {
	if isNotFound(err) {
		return vfserrors.Wrap(vfserrors.CodeNotFound, err, fmt.Sprintf("object %q not found", key)).
			WithComponent("s3").WithOperation(operation)
	}
	return vfserrors.Wrap(vfserrors.CodeBackendError, err, "S3 request failed").
		WithComponent("s3").WithOperation(operation).WithRetryable(true)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	var nf *s3types.NotFound
	return asError(err, &nsk) || asError(err, &nsb) || asError(err, &nf)
}

func asError[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// detectContentType guesses a MIME type from a key's extension.
func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".xml"):
		return "application/xml"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

var _ types.Backend = (*Backend)(nil)
var _ types.BucketBackend = (*Backend)(nil)
var _ types.FilelockBackend = (*Backend)(nil)
