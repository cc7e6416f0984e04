/*
Package types defines the data structures and the backend capability
interface shared across the VFS facade, the thread pool, the filelock
registry, and the subarray partitioner.

# Architecture Overview

The VFS facade dispatches every operation to one of a fixed set of
Backend implementations by URI scheme:

	┌─────────────────────────────────────────────┐
	│                VFS Facade                   │
	│               (internal/vfs)                 │
	└─────────────────────────────────────────────┘
	          │             │             │
	┌─────────┴───┐  ┌──────┴──────┐ ┌────┴────┐
	│    local    │  │    hdfs     │ │   s3    │
	│ (os.File +  │  │ (WebHDFS)   │ │(AWS SDK │
	│  flock)     │  │             │ │  v2)    │
	└─────────────┘  └─────────────┘ └─────────┘

# Backend Interface

Backend is the uniform capability surface every scheme-specific adapter
implements: directory and file existence checks, listing, byte-range
reads, append-only writes, path moves, and (for object stores) bucket
management. The VFS facade never calls a backend-specific type
directly; everything funnels through this interface.

# Data Structures

FileInfo carries the metadata a Backend.Ls/IsFile/FileSize call
returns: path, size, and whether the path denotes a directory.

BatchRegion and ReadAllResult describe the scatter-gather coalescing
contract used by read_all: overlapping or closely-spaced byte ranges
are merged into a smaller number of backend reads, then sliced back
out into the caller's originally requested regions.
*/
package types
