// Package constants holds the compile-time configuration values named in
// the design: ring/queue sizing, page size, and CID table geometry.
package constants

import "time"

const (
	// PageSize is the NVMe namespace page size used by the PRP assembler.
	PageSize = 4096

	// AdminQueueSize is the default depth of the admin submission/completion
	// ring pair.
	AdminQueueSize = 8

	// DefaultIOQueueSize is the default depth of an I/O user queue when the
	// caller does not request a specific size.
	DefaultIOQueueSize = 64

	// MinIOQueueSize is the low end of the default I/O queue size range.
	// Queue creation does not enforce it; smaller depths are accepted.
	MinIOQueueSize = 32

	// MaxPendingLevels bounds the number of CID table rows — the worst-case
	// overlap between device SQE consumption and CQE posting for a single
	// submission-ring column.
	MaxPendingLevels = 4

	// PRPPoolSize is the capacity of the free-list pool of PRP list pages.
	// Entries beyond this bound are returned to the physical allocator
	// instead of being retained.
	PRPPoolSize = 16

	// MaxPRPListPages is the hard cap on pages a single PRP list can
	// address (2 MiB at a 4 KiB page size). Transfers requiring more pages
	// are rejected before submission.
	MaxPRPListPages = 512

	// DefaultVolatileWriteCache is the default setting submitted via
	// SET_FEATURES for the volatile write cache feature.
	DefaultVolatileWriteCache = true
)

// DeviceProbeTimeout is a probe deadline for callers that probe
// controllers themselves; nothing in this module waits on it.
const DeviceProbeTimeout = 2 * time.Second
