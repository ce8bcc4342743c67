package corowrt

import "github.com/corowrt/corowrt/internal/constants"

// Re-exported tunables, for callers that want to size their own pools
// or timeouts consistently with the runtime's defaults.
const (
	DefaultStackBytes = constants.DefaultStackBytes
	StackGuardBytes   = constants.StackGuardBytes
	CancelSliceMs     = constants.CancelSliceMs
	StealScanMax      = constants.StealScanMax
	InjectRingInitCap = constants.InjectRingInitCap
	UnboundedInitCap  = constants.UnboundedInitCap
	DefaultEmitMinOps = constants.DefaultEmitMinOps
	DefaultEmitMinNs  = constants.DefaultEmitMinNs
)
