package conn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/container"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/ctrl"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/interfaces"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/logging"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

// completion is what a Ring completion resolves to: either a freshly
// arrived message (recvDone) or a bulk-transfer post-action to run.
type completion struct {
	peer   *Peer
	bufID  int
	isRecv bool
	action *PostAction
}

// Connection is the single libfabric-equivalent endpoint a Server owns
// (§4.3): one completion queue (here, one io_uring instance), one
// address-vector-equivalent peer table, one fixed receive-buffer pool
// shared across every joined peer, and the hook table hooks.go
// registers against. Every operation here either completes inline
// (sendMessage, sendResponse - small, blocking) or posts a PostAction
// that Poll resolves once the Ring reports the transfer done (rdmaRead/
// rdmaWrite and their vectored forms), matching the spec's scoping of
// suspension points to bulk RDMA-equivalent transfers only.
type Connection struct {
	ring     Ring
	recvPool *ReceiveBufferPool
	registry *ctrl.ClientRegistry
	objects  *container.Container
	observer interfaces.Observer
	logger   *logging.Logger

	hooks map[wire.MsgType]HookFunc

	mu           sync.Mutex
	peers        map[uint64]*Peer
	nextLfID     uint64
	completions  map[uint64]completion
	nextUserData uint64

	pendingActions int64 // atomic: in-flight bulk transfers, for graceful drain

	backpressureMu    sync.Mutex
	backpressureCache map[uint64]struct{}
}

// NewConnection builds a Connection with an empty hook table. Callers
// register hooks (hooks.go) before Serve/Poll starts dispatching.
func NewConnection(ring Ring, recvPool *ReceiveBufferPool, registry *ctrl.ClientRegistry, objects *container.Container, observer interfaces.Observer, logger *logging.Logger) *Connection {
	return &Connection{
		ring:              ring,
		recvPool:          recvPool,
		registry:          registry,
		objects:           objects,
		observer:          observer,
		logger:            logger,
		hooks:             make(map[wire.MsgType]HookFunc),
		peers:             make(map[uint64]*Peer),
		completions:       make(map[uint64]completion),
		backpressureCache: make(map[uint64]struct{}),
	}
}

// RegisterHook wires fn as the handler for msgType. Re-registering a
// type replaces its previous handler.
func (c *Connection) RegisterHook(msgType wire.MsgType, fn HookFunc) {
	c.hooks[msgType] = fn
}

// JoinServer completes the libfabric-equivalent join handshake over a
// freshly accepted data-port socket (distinct from ctrl.Listener's TCP
// auth handshake): it assigns the new peer an lfClientId, replies with
// ASSIGN_ID, and posts its receive buffers. raw is the socket returned
// by the data-port listener's Accept.
func (c *Connection) JoinServer(raw net.Conn) (*Peer, error) {
	peer := newPeer(0, raw)

	var initHdr wire.MessageHeader
	var initMsg wire.FirstClientMessage
	if err := c.readPayload(peer, &initHdr, &initMsg); err != nil {
		return nil, fmt.Errorf("conn: join: read CONNECT_INIT: %w", err)
	}
	if initHdr.MsgType != uint64(wire.MsgConnectInit) {
		return nil, fmt.Errorf("conn: join: expected CONNECT_INIT, got %s", wire.MsgType(initHdr.MsgType))
	}

	c.mu.Lock()
	c.nextLfID++
	lfID := c.nextLfID
	c.mu.Unlock()
	peer.LfClientID = lfID

	c.mu.Lock()
	c.peers[lfID] = peer
	c.mu.Unlock()

	ack := wire.MessageHeader{MsgType: uint64(wire.MsgAssignID), LfClientID: lfID}
	payload := &wire.FirstHandshake{ProtocolVersion: constants.ProtocolVersion, AssignedLfClientID: lfID}
	if err := c.writeMessage(peer, ack, payload); err != nil {
		c.dropPeer(lfID)
		return nil, fmt.Errorf("conn: join: send ASSIGN_ID: %w", err)
	}

	if err := c.postReceives(peer); err != nil {
		c.dropPeer(lfID)
		return nil, fmt.Errorf("conn: join: post receives: %w", err)
	}

	if c.observer != nil {
		c.observer.ObserveClientConnected()
	}
	c.logger.Debug("conn: peer joined", "lf_client_id", lfID)
	return peer, nil
}

func (c *Connection) dropPeer(lfID uint64) {
	c.mu.Lock()
	peer, ok := c.peers[lfID]
	delete(c.peers, lfID)
	c.mu.Unlock()
	if ok {
		peer.Close()
	}
	if c.observer != nil {
		c.observer.ObserveClientDisconnected()
	}
}

// postReceives acquires every currently free receive buffer and submits
// a recv for each against peer, so an inbound message always lands
// somewhere without the peer blocking on backpressure from an empty
// pool (§4.3).
func (c *Connection) postReceives(peer *Peer) error {
	for {
		buf, ok := c.recvPool.Acquire()
		if !ok {
			return nil
		}
		if err := c.postOneReceive(peer, buf); err != nil {
			return err
		}
	}
}

func (c *Connection) postOneReceive(peer *Peer, buf *ReceiveBuffer) error {
	ud := c.allocUserData()
	c.mu.Lock()
	c.completions[ud] = completion{peer: peer, bufID: buf.ID, isRecv: true}
	c.mu.Unlock()

	if err := c.submitWithBackpressure(Op{Code: OpRecv, FD: peer.FD(), Buf: buf.Buf, UserData: ud}); err != nil {
		c.mu.Lock()
		delete(c.completions, ud)
		c.mu.Unlock()
		_ = c.recvPool.Repost(buf.ID)
		return err
	}
	return nil
}

// repostReceive returns bufID to the pool and immediately re-posts a
// fresh receive for peer against the same slot, keeping the pool's
// pre-posted invariant intact (§4.3 repostReceive).
func (c *Connection) repostReceive(peer *Peer, bufID int) error {
	if err := c.recvPool.Repost(bufID); err != nil {
		return err
	}
	buf, ok := c.recvPool.Acquire()
	if !ok {
		return nil
	}
	return c.postOneReceive(peer, buf)
}

// submitWithBackpressure retries a Ring submission on ErrRingFull until
// it is accepted, without making a full ring a fatal condition. The first
// time each user-data value finds the ring full it logs one warning; once
// constants.BackpressureWarnDepth distinct values have been warned about,
// later retries log nothing.
func (c *Connection) submitWithBackpressure(op Op) error {
	for {
		err := c.ring.Submit(op)
		if err == nil {
			return nil
		}
		if err != ErrRingFull {
			return err
		}
		c.backpressureMu.Lock()
		if len(c.backpressureCache) < constants.BackpressureWarnDepth {
			if _, seen := c.backpressureCache[op.UserData]; !seen {
				c.backpressureCache[op.UserData] = struct{}{}
				c.logger.Warn("conn: submission queue full, retrying", "user_data", op.UserData)
			}
		}
		c.backpressureMu.Unlock()
	}
}

func (c *Connection) allocUserData() uint64 {
	return atomic.AddUint64(&c.nextUserData, 1)
}

// sendMessage packs header+payload and writes them to peer as one
// framed message. Small control and ack traffic is not worth routing
// through the completion queue: it completes inline, the way a real
// libfabric fi_send of a few dozen bytes would return immediately
// against a provider's inline-send threshold.
func (c *Connection) sendMessage(peer *Peer, header wire.MessageHeader, payload wire.Applier) error {
	return c.writeMessage(peer, header, payload)
}

// sendResponse is sendMessage specialized for *wire.Response acks.
func (c *Connection) sendResponse(peer *Peer, msgType wire.MsgType, tcpClientID, tcpClientKey uint64, resp *wire.Response) error {
	header := wire.MessageHeader{MsgType: uint64(msgType), LfClientID: peer.LfClientID, TCPClientID: tcpClientID, TCPClientKey: tcpClientKey}
	return c.writeMessage(peer, header, resp)
}

func (c *Connection) writeMessage(peer *Peer, header wire.MessageHeader, payload wire.Applier) error {
	sizer := wire.NewSizer()
	if err := header.Apply(sizer); err != nil {
		return err
	}
	if err := payload.Apply(sizer); err != nil {
		return err
	}

	buf := getSendBuffer(sizer.Cursor())
	defer putSendBuffer(buf)

	packer := wire.NewPacker(buf)
	if err := header.Apply(packer); err != nil {
		return err
	}
	if err := payload.Apply(packer); err != nil {
		return err
	}

	return peer.writeFramed(buf[:packer.Cursor()])
}

// readPayload blocks for the next framed message on peer and unpacks it
// into header and payload. Used directly only for the join handshake,
// before a peer's receive buffers are posted to the ring.
func (c *Connection) readPayload(peer *Peer, header *wire.MessageHeader, payload wire.Applier) error {
	buf, err := peer.readFramed()
	if err != nil {
		return err
	}
	unpacker := wire.NewUnpacker(buf)
	if err := header.Apply(unpacker); err != nil {
		return err
	}
	return payload.Apply(unpacker)
}

// rdmaRead emulates pulling size bytes of remote client memory at iov
// into dst by waiting for the client to push that span over its data
// socket; action.Fn runs once the transfer completes or fails.
func (c *Connection) rdmaRead(peer *Peer, dst []byte, action *PostAction) error {
	return c.submitBulk(peer, OpRecv, dst, action)
}

// rdmaWrite emulates pushing src into remote client memory at iov by
// streaming it over the data socket.
func (c *Connection) rdmaWrite(peer *Peer, src []byte, action *PostAction) error {
	return c.submitBulk(peer, OpSend, src, action)
}

func (c *Connection) submitBulk(peer *Peer, code OpCode, buf []byte, action *PostAction) error {
	ud := c.allocUserData()
	c.mu.Lock()
	c.completions[ud] = completion{peer: peer, isRecv: false, action: action}
	c.mu.Unlock()
	atomic.AddInt64(&c.pendingActions, 1)

	if err := c.submitWithBackpressure(Op{Code: code, FD: peer.FD(), Buf: buf, UserData: ud}); err != nil {
		c.mu.Lock()
		delete(c.completions, ud)
		c.mu.Unlock()
		atomic.AddInt64(&c.pendingActions, -1)
		if action.Release != nil {
			action.Release()
		}
		return err
	}
	return nil
}

// rdmaReadv/rdmaWritev chain a vectored transfer across bufs, running
// action only once every chunk has completed (or aborting on the first
// failure), matching a scatter/gather fi_readmsg/fi_writemsg.
func (c *Connection) rdmaReadv(peer *Peer, bufs [][]byte, action *PostAction) error {
	return c.submitVector(peer, OpRecv, bufs, action)
}

func (c *Connection) rdmaWritev(peer *Peer, bufs [][]byte, action *PostAction) error {
	return c.submitVector(peer, OpSend, bufs, action)
}

func (c *Connection) submitVector(peer *Peer, code OpCode, bufs [][]byte, action *PostAction) error {
	remaining := int32(len(bufs))
	if remaining == 0 {
		action.run(0)
		return nil
	}
	var mu sync.Mutex
	var failed bool
	for _, buf := range bufs {
		chunk := &PostAction{
			Fn: func(res int32) HookResult {
				mu.Lock()
				if res < 0 {
					failed = true
				}
				remaining--
				done := remaining == 0
				mu.Unlock()
				if done {
					status := int32(0)
					if failed {
						status = -1
					}
					return action.run(status)
				}
				return KeepWaiting
			},
		}
		if err := c.submitBulk(peer, code, buf, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Poll drains completed operations once, dispatching each to its hook
// (for a completed receive) or its PostAction (for a completed bulk
// transfer). wait=true blocks for at least one completion; wait=false
// is the server's steady-state non-blocking poll.
func (c *Connection) Poll(wait bool) error {
	return c.ring.Poll(wait, func(userData uint64, res int32) {
		c.mu.Lock()
		comp, ok := c.completions[userData]
		delete(c.completions, userData)
		c.mu.Unlock()
		if !ok {
			return
		}

		if !comp.isRecv {
			atomic.AddInt64(&c.pendingActions, -1)
			if comp.action != nil {
				comp.action.run(res)
			}
			return
		}

		if res <= 0 {
			// Peer closed or errored; the data-port accept loop notices the
			// socket's own error on its next read and tears the peer down.
			return
		}
		c.dispatchRecv(comp.peer, comp.bufID, res)
	})
}

func (c *Connection) dispatchRecv(peer *Peer, bufID int, n int32) {
	rb := c.recvPool.Get(bufID)
	if rb == nil {
		return
	}
	raw := rb.Buf[:n]

	var header wire.MessageHeader
	unpacker := wire.NewUnpacker(raw)
	if err := header.Apply(unpacker); err != nil {
		c.logger.Warn("conn: malformed header, dropping", "err", err)
		_ = c.repostReceive(peer, bufID)
		return
	}

	msgType := wire.MsgType(header.MsgType)
	if !msgType.IsLowLevel() && !c.registry.Validate(header.TCPClientID, header.TCPClientKey) {
		c.sendMessage(peer, wire.MessageHeader{MsgType: uint64(wire.MsgBadAuth), LfClientID: peer.LfClientID}, &wire.Empty{})
		_ = c.repostReceive(peer, bufID)
		return
	}

	hook, ok := c.hooks[msgType]
	if !ok {
		c.logger.Warn("conn: no hook registered", "msg_type", msgType.String())
		_ = c.repostReceive(peer, bufID)
		return
	}

	req := &Request{Header: header, Payload: raw[unpacker.Cursor():], Peer: peer}
	hook(c, req)
	_ = c.repostReceive(peer, bufID)
}

// pollMessage drives Poll(wait=true) until *unblocked becomes true, for
// callers that must synchronously wait on a single reply (e.g. a
// request/response test harness driving the connection directly rather
// than through the server's own steady-state loop). The caller's own
// code sets the flag; the HookResult returned by hooks and post-actions
// does not end the wait.
func (c *Connection) pollMessage(unblocked *bool) error {
	for !*unblocked {
		if err := c.Poll(true); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastErrorMessage sends FATAL_ERROR to every currently joined
// peer, used when the server must shed all clients (§4.3
// broadcastErrorMessage).
func (c *Connection) BroadcastErrorMessage(message string) {
	c.mu.Lock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		header := wire.MessageHeader{MsgType: uint64(wire.MsgFatalError), LfClientID: p.LfClientID}
		if err := c.sendMessage(p, header, &wire.ErrorMessage{Message: message}); err != nil {
			c.logger.Warn("conn: broadcast error message failed", "lf_client_id", p.LfClientID, "err", err)
		}
	}
}

// PendingActions reports the number of in-flight bulk transfers, for
// the server's graceful-drain shutdown path.
func (c *Connection) PendingActions() int64 {
	return atomic.LoadInt64(&c.pendingActions)
}

// Container returns the object container this connection's hooks act on.
func (c *Connection) Container() *container.Container { return c.objects }

// Registry returns the client registry this connection validates
// against.
func (c *Connection) Registry() *ctrl.ClientRegistry { return c.registry }

// Observer returns the metrics observer hooks report through.
func (c *Connection) Observer() interfaces.Observer { return c.observer }
