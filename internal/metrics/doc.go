/*
Package metrics provides Prometheus-based metrics collection for VFS
operations, the filelock registry, and the subarray partitioner.

# Architecture

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼───────────┐
	│  Prometheus  │         │  HTTP Endpoints     │
	│   Registry   │         │  /metrics           │
	│              │         │  /health            │
	│ - Counters   │         │  /debug/operations  │
	│ - Histograms │         └─────────────────────┘
	│ - Gauges     │
	└──────────────┘

# Recording Operations

	start := time.Now()
	err := backend.Read(ctx, path, offset, buf, nbytes)
	collector.RecordOperation("read", time.Since(start), int64(nbytes), err == nil)

# Exported Metrics

Counters:
  - arrayvfs_operations_total{operation,status}
  - arrayvfs_errors_total{operation,type}
  - arrayvfs_partition_splits_total

Histograms:
  - arrayvfs_operation_duration_seconds{operation}
  - arrayvfs_operation_size_bytes{operation}

Gauges:
  - arrayvfs_active_filelocks

# Thread Safety

All Collector methods are safe for concurrent use.
*/
package metrics
