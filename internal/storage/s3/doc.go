/*
Package s3 implements the VFS capability interfaces against a single AWS
S3 bucket.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              types.Backend                   │
	│         (CreateDir/Ls/Read/Write/...)         │
	└─────────────────────────────────────────────┘
	                     │
	┌─────────────────────────────────────────────┐
	│                  Backend                      │
	│  ConnectionPool │ CircuitBreaker │ Retryer    │
	│  TierValidator  │ cargoship Transporter       │
	└─────────────────────────────────────────────┘
	                     │
	┌─────────────────────────────────────────────┐
	│                AWS S3 Service                 │
	└─────────────────────────────────────────────┘

Object stores have no real directories, no append, and no advisory
locks, so Backend approximates the parts of the VFS contract that don't
map naturally onto S3 semantics:

  - CreateDir/IsDir/RemoveDir work off a zero-byte ".keep" marker object
    plus prefix listing, the common S3 convention for representing an
    otherwise-empty "directory".
  - Write only accepts a fresh, non-existent (or zero-size) key; writing
    to an existing non-empty object returns CodeAppendOnObjectStore,
    since S3 objects are immutable once written.
  - FilelockLock/FilelockUnlock are trivial successes, since object
    stores have no lock primitive for the filelock registry to call
    through to.

# Resilience

Every operation runs through a per-bucket circuit breaker and an
exponential-backoff retryer (pkg/retry) before hitting the AWS SDK, so
transient S3 throttling and network errors self-heal without the VFS
facade needing to know about it.

# Storage Tiers

StorageTiers documents the constraints (minimum object size, deletion
embargo, minimum billable duration) AWS enforces per storage class.
TierValidator checks writes and deletes against these constraints
before the backend issues the underlying S3 call.

# Large Writes

Writes at or above 32MB are routed through CargoShip's transporter
(github.com/scttfrdmn/cargoship), which handles multipart chunking and
concurrent part upload; smaller writes go through a single PutObject
call.
*/
package s3
