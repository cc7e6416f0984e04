// Package config defines the tunables the VFS facade, thread pool, and
// filelock registry read at construction time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Scheme identifies a backend by URI scheme.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeHDFS Scheme = "hdfs"
	SchemeS3   Scheme = "s3"
)

// VFSConfig holds the options enumerated in the VFS data model: pool
// width, parallel-read and batch-coalescing thresholds, filelock
// enablement, and per-scheme operation caps.
type VFSConfig struct {
	// NumThreads sizes the VFS's internal thread pool. Corresponds to
	// the "sm.num_tbb_threads" configuration key.
	NumThreads int `yaml:"num_threads"`

	// MinParallelSize is the per-worker byte floor below which a read
	// is issued as a single backend call instead of being split.
	MinParallelSize uint64 `yaml:"min_parallel_size"`

	// MinBatchSize and MinBatchGap control scatter-read coalescing in
	// read_all: a region extends the current batch when the batch's
	// new size would be at or under MinBatchSize, or when the gap to
	// the previous batch end is at or under MinBatchGap.
	MinBatchSize uint64 `yaml:"min_batch_size"`
	MinBatchGap  uint64 `yaml:"min_batch_gap"`

	// EnableFilelocks toggles whether filelock_lock/unlock touch the
	// backend at all; when false they succeed trivially.
	EnableFilelocks bool `yaml:"enable_filelocks"`

	// MaxParallelOps caps the number of concurrent chunks a single
	// parallel read may split into, per scheme.
	MaxParallelOps map[Scheme]int `yaml:"max_parallel_ops"`
}

// NewDefault returns the VFSConfig TileDB-derived systems ship with out
// of the box.
func NewDefault() *VFSConfig {
	return &VFSConfig{
		NumThreads:      4,
		MinParallelSize: 10 * 1024 * 1024,
		MinBatchSize:    20 * 1024 * 1024,
		MinBatchGap:     512 * 1024,
		EnableFilelocks: true,
		MaxParallelOps: map[Scheme]int{
			SchemeFile: 4,
			SchemeHDFS: 4,
			SchemeS3:   32,
		},
	}
}

// MaxParallelOpsFor returns the configured cap for scheme, falling back
// to 1 (no parallelism) when the scheme has no explicit entry.
func (c *VFSConfig) MaxParallelOpsFor(s Scheme) int {
	if c.MaxParallelOps == nil {
		return 1
	}
	if n, ok := c.MaxParallelOps[s]; ok && n > 0 {
		return n
	}
	return 1
}

// LoadFromEnv overrides fields from ARRAYVFS_* environment variables,
// mirroring the env-var convention the rest of the stack uses for its
// own configuration surface.
func (c *VFSConfig) LoadFromEnv() error {
	if v := os.Getenv("ARRAYVFS_NUM_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ARRAYVFS_NUM_THREADS: %w", err)
		}
		c.NumThreads = n
	}
	if v := os.Getenv("ARRAYVFS_MIN_PARALLEL_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: ARRAYVFS_MIN_PARALLEL_SIZE: %w", err)
		}
		c.MinParallelSize = n
	}
	if v := os.Getenv("ARRAYVFS_MIN_BATCH_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: ARRAYVFS_MIN_BATCH_SIZE: %w", err)
		}
		c.MinBatchSize = n
	}
	if v := os.Getenv("ARRAYVFS_MIN_BATCH_GAP"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: ARRAYVFS_MIN_BATCH_GAP: %w", err)
		}
		c.MinBatchGap = n
	}
	if v := os.Getenv("ARRAYVFS_ENABLE_FILELOCKS"); v != "" {
		c.EnableFilelocks = strings.ToLower(v) == "true"
	}
	return nil
}

// SetOption assigns a single dotted configuration key, following the
// recognized-key table in the external interface contract
// (sm.num_tbb_threads, vfs.min_parallel_size, vfs.min_batch_size,
// vfs.min_batch_gap, vfs.file.enable_filelocks, vfs.file.max_parallel_ops,
// vfs.s3.max_parallel_ops).
func (c *VFSConfig) SetOption(key, value string) error {
	switch key {
	case "sm.num_tbb_threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.NumThreads = n
	case "vfs.min_parallel_size":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.MinParallelSize = n
	case "vfs.min_batch_size":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.MinBatchSize = n
	case "vfs.min_batch_gap":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.MinBatchGap = n
	case "vfs.file.enable_filelocks":
		c.EnableFilelocks = strings.ToLower(value) == "true"
	case "vfs.file.max_parallel_ops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.setMaxParallelOps(SchemeFile, n)
	case "vfs.s3.max_parallel_ops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		c.setMaxParallelOps(SchemeS3, n)
	default:
		return fmt.Errorf("config: unrecognized option %q", key)
	}
	return nil
}

func (c *VFSConfig) setMaxParallelOps(s Scheme, n int) {
	if c.MaxParallelOps == nil {
		c.MaxParallelOps = make(map[Scheme]int)
	}
	c.MaxParallelOps[s] = n
}

// Validate rejects configurations the VFS facade cannot act on safely.
func (c *VFSConfig) Validate() error {
	if c.NumThreads < 1 {
		return fmt.Errorf("config: num_threads must be >= 1")
	}
	if c.MinParallelSize == 0 {
		return fmt.Errorf("config: min_parallel_size must be > 0")
	}
	for s, n := range c.MaxParallelOps {
		if n < 1 {
			return fmt.Errorf("config: max_parallel_ops[%s] must be >= 1", s)
		}
	}
	return nil
}
