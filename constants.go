package iocatcher

import "github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"

// Re-exported tuning constants, for callers that construct a Server
// without going through internal/config.
const (
	ProtocolVersion           = constants.ProtocolVersion
	EagerMaxWrite             = constants.EagerMaxWrite
	EagerMaxRead              = constants.EagerMaxRead
	DefaultReceiveBufferCount = constants.DefaultReceiveBufferCount
	DefaultReceiveBufferSize  = constants.DefaultReceiveBufferSize
	DefaultAlignment          = constants.DefaultAlignment
	TCPAuthPortOffset         = constants.TCPAuthPortOffset
	DefaultListenAddr         = constants.DefaultListenAddr
)
