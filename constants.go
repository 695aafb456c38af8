package nvmeuq

import "github.com/nvme-uq/nvmeuq/internal/constants"

// Re-exported configuration constants, per spec.md §6.
const (
	PageSize                 = constants.PageSize
	AdminQueueSize           = constants.AdminQueueSize
	DefaultIOQueueSize       = constants.DefaultIOQueueSize
	MinIOQueueSize           = constants.MinIOQueueSize
	MaxPendingLevels         = constants.MaxPendingLevels
	PRPPoolSize              = constants.PRPPoolSize
	MaxPRPListPages          = constants.MaxPRPListPages
	DefaultVolatileWriteCache = constants.DefaultVolatileWriteCache
)

// DeviceProbeTimeout is re-exported for callers implementing their own
// controller probing against internal/hostsvc.Services.
const DeviceProbeTimeout = constants.DeviceProbeTimeout
