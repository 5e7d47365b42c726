package conn

import (
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

// HookResult is a hook's verdict on whether poll() should keep waiting
// for further completions or return immediately (§4.3 sendMessage,
// §4.5 hooks). Poll and dispatchRecv discard it: neither Poll nor
// pollMessage returns early because of it.
type HookResult int

const (
	KeepWaiting HookResult = iota
	Unblock
)

// Request is the parsed inbound message a hook acts on: the header
// (already auth-validated unless low-level), the still-packed payload
// bytes borrowed from a receive buffer, and the peer it arrived from.
type Request struct {
	Header  wire.MessageHeader
	Payload []byte
	Peer    *Peer
}

// HookFunc handles one inbound message type. It must send any response
// itself (via the Connection methods) before returning. The connection
// ignores the return value; it does not unblock a caller waiting in
// pollMessage.
type HookFunc func(c *Connection, req *Request) HookResult

// PostAction is the continuation a bulk transfer (or send) resumes once
// its completion arrives. Its Release step is the "scoped release of
// network resources on every exit path" invariant (§4.3): whatever
// borrowed resource it captured (a receive buffer id, a pooled send
// buffer) is handed back exactly once, from whichever path - success,
// failure, or connection teardown - finishes it first.
type PostAction struct {
	Fn      func(res int32) HookResult
	Release func()
	done    bool
}

func (p *PostAction) run(res int32) HookResult {
	if p.done {
		return KeepWaiting
	}
	p.done = true
	result := KeepWaiting
	if p.Fn != nil {
		result = p.Fn(res)
	}
	if p.Release != nil {
		p.Release()
	}
	return result
}
