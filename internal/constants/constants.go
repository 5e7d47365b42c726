// Package constants holds the protocol and tuning constants shared across
// the connection, container and memory-backend layers.
package constants

import "time"

// Protocol version carried in the TCP handshake and the ASSIGN_ID message.
// Any mismatch between client and server is fatal.
const ProtocolVersion = 2

// Eager thresholds: payloads at or below these sizes ride inline after the
// response header instead of going through a vectored bulk transfer.
const (
	EagerMaxWrite = 32 * 1024
	EagerMaxRead  = 32 * 1024
)

// IOC_LF_MAX_ADDR_LEN in the original protocol: the size of the opaque
// endpoint address blob exchanged during CONNECT_INIT.
const MaxAddrLen = 32

// StructMax bounds the largest fixed-size struct the serializer will ever
// pack without an accompanying variable-length tail.
const StructMax = 64

// Default connection tuning.
const (
	// DefaultReceiveBufferCount is the number of pre-posted receive buffers.
	DefaultReceiveBufferCount = 128

	// DefaultReceiveBufferSize is the size of each pre-posted receive buffer.
	DefaultReceiveBufferSize = 1 << 20

	// DefaultConnectionPoolSize bounds the client-side connection pool (§6.3).
	DefaultConnectionPoolSize = 8

	// BackpressureWarnDepth caps how many distinct submissions the
	// connection logs a full-ring warning for; a full ring is retried,
	// never fatal (§4.3 Back-pressure).
	BackpressureWarnDepth = 1000
)

// Nvdimm backend growth constants (§4.2, §9).
const (
	// NvdimmInitialFactor is the multiplier applied to the first allocation
	// request to size the first backing file.
	NvdimmInitialFactor = 8

	// NvdimmGrowthCap caps the doubling of backing-file sizes: each time
	// the current file is exhausted a new file is opened at twice the
	// previous size, but no larger than this (before rounding up to a
	// multiple of the request).
	NvdimmGrowthCap = 32 << 30 // 32 GiB
)

// Default object alignment applied by the container when none is given.
const DefaultAlignment = 4096

// TCP listener offset: libfabric-equivalent traffic uses `port`, the auth
// handshake listens on `port+1`.
const TCPAuthPortOffset = 1

// Timing used by the statistics thread and connection back-off.
const (
	StatsInterval   = 1 * time.Second
	PollBackoffIdle = 200 * time.Microsecond
)

// Default listen address used by the demo bootstrap when none is configured.
const DefaultListenAddr = "0.0.0.0"
