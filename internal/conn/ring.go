// Package conn implements the libfabric-equivalent connection (§4.3):
// the endpoint, completion queue, receive-buffer pool, hook table, and
// RDMA-equivalent bulk transfer operations a client and server exchange
// messages through once the TCP auth handshake in internal/ctrl has run.
package conn

import "errors"

// ErrRingFull is returned when the submission queue has no free slot.
// The connection does not bound submissions by its pending-actions
// counter; Connection.submitWithBackpressure retries on this error.
var ErrRingFull = errors.New("conn: submission queue full")

// OpCode identifies the shape of one queued Ring operation.
type OpCode int

const (
	OpRecv OpCode = iota
	OpSend
	OpReadAt
	OpWriteAt
)

// Op is one queued operation against a connection's socket fd. UserData
// is an opaque tag the caller uses to correlate the eventual completion
// delivered through Ring.Poll; the connection uses it to index into its
// table of pending post-actions.
type Op struct {
	Code     OpCode
	FD       int
	Buf      []byte
	Offset   int64
	UserData uint64
}

// Ring is the completion-queue substrate operations are submitted
// against and completions are drained from. Modeled directly on
// ehrlich-b-go-ublk's internal/uring.Ring abstraction, adapted from
// ublk's URING_CMD control-plane commands to socket send/recv/bulk-
// transfer SQEs.
type Ring interface {
	// Submit queues op; its result arrives through a later Poll call
	// carrying op.UserData.
	Submit(op Op) error

	// Poll drains whatever completions are ready, calling fn once per
	// completion with its UserData and result (negative is -errno,
	// non-negative is a byte count). When wait is true and nothing is
	// ready yet, Poll blocks for at least one completion.
	Poll(wait bool, fn func(userData uint64, res int32)) error

	Close() error
}
