package conn

import "sync"

// Send-buffer size thresholds, mirroring ehrlich-b-go-ublk's
// internal/queue/pool.go bucketing so message headers/payloads and
// inline-eager bulk data reuse the same allocation-avoidance strategy
// the teacher uses for per-tag I/O buffers.
const (
	sendSize4k   = 4 * 1024
	sendSize64k  = 64 * 1024
	sendSize256k = 256 * 1024
	sendSize1m   = 1024 * 1024
)

var sendBufferPool = struct {
	pool4k   sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, sendSize4k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, sendSize64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, sendSize256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, sendSize1m); return &b }},
}

// getSendBuffer returns a pooled buffer of at least size bytes. The
// caller must call putSendBuffer once the send completes; the post-
// action's scoped release (§4.3) is what actually does so.
func getSendBuffer(size int) []byte {
	switch {
	case size <= sendSize4k:
		return (*sendBufferPool.pool4k.Get().(*[]byte))[:size]
	case size <= sendSize64k:
		return (*sendBufferPool.pool64k.Get().(*[]byte))[:size]
	case size <= sendSize256k:
		return (*sendBufferPool.pool256k.Get().(*[]byte))[:size]
	case size <= sendSize1m:
		return (*sendBufferPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

func putSendBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case sendSize4k:
		sendBufferPool.pool4k.Put(&buf)
	case sendSize64k:
		sendBufferPool.pool64k.Put(&buf)
	case sendSize256k:
		sendBufferPool.pool256k.Put(&buf)
	case sendSize1m:
		sendBufferPool.pool1m.Put(&buf)
	}
}
