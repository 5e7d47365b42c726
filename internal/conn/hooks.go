package conn

import (
	"time"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/container"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

// RegisterDefaultHooks wires every request-type handler (§4.5) against
// conn. Called once during server startup, after NewConnection and
// before the data-port listener starts accepting.
func RegisterDefaultHooks(c *Connection) {
	c.RegisterHook(wire.MsgPing, hookPing)
	c.RegisterHook(wire.MsgObjCreate, hookObjectCreate)
	c.RegisterHook(wire.MsgObjFlush, hookObjectFlush)
	c.RegisterHook(wire.MsgObjRangeRegister, hookObjectRangeRegister)
	c.RegisterHook(wire.MsgObjRangeUnregister, hookObjectRangeUnregister)
	c.RegisterHook(wire.MsgObjCow, hookObjectCow)
	c.RegisterHook(wire.MsgObjRead, hookObjectRead)
	c.RegisterHook(wire.MsgObjWrite, hookObjectWrite)
}

// hookPing implements the ping-pong round trip: an RDMA read of rdmaSize
// bytes from the client's Iov (or nothing, for a pure round trip),
// followed by PONG. Unlike the teacher's fixed I/O buffer pool, there is
// no per-size registration step to perform here; the send buffer pool
// already covers arbitrary round-trip sizes.
func hookPing(c *Connection, req *Request) HookResult {
	var ping wire.Ping
	unpacker := wire.NewUnpacker(req.Payload)
	if err := ping.Apply(unpacker); err != nil {
		c.logger.Warn("conn: malformed PING payload", "err", err)
		return Unblock
	}

	ack := func() {
		resp := wire.NewStatusResponse(0)
		c.sendResponse(req.Peer, wire.MsgPong, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	}

	if ping.RdmaSize == 0 {
		ack()
		return Unblock
	}

	scratch := getSendBuffer(int(ping.RdmaSize))
	action := &PostAction{
		Fn:      func(res int32) HookResult { ack(); return Unblock },
		Release: func() { putSendBuffer(scratch) },
	}
	if err := c.rdmaRead(req.Peer, scratch[:ping.RdmaSize], action); err != nil {
		c.logger.Warn("conn: ping rdma read failed", "err", err)
		return Unblock
	}
	return KeepWaiting
}

func hookObjectCreate(c *Connection, req *Request) HookResult {
	var info wire.ObjCreateInfos
	if err := info.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_CREATE payload", "err", err)
		return Unblock
	}

	obj := c.objects.GetObject(info.ObjectID)
	status := int32(0)
	if err := obj.Create(); err != nil {
		c.logger.Warn("conn: object create failed", "object_id", info.ObjectID.String(), "err", err)
		status = -1
	}

	resp := wire.NewStatusResponse(status)
	c.sendResponse(req.Peer, wire.MsgObjCreateAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	return Unblock
}

func hookObjectFlush(c *Connection, req *Request) HookResult {
	var info wire.ObjFlushInfos
	if err := info.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_FLUSH payload", "err", err)
		return Unblock
	}

	start := time.Now()
	obj, ok := c.objects.Lookup(info.ObjectID)
	status := int32(0)
	if !ok {
		status = -1
	} else if err := obj.Flush(info.Offset, info.Size); err != nil {
		c.logger.Warn("conn: flush failed", "object_id", info.ObjectID.String(), "err", err)
		status = -1
	}
	if c.observer != nil {
		c.observer.ObserveFlush(uint64(time.Since(start).Nanoseconds()), status == 0)
	}

	resp := wire.NewStatusResponse(status)
	c.sendResponse(req.Peer, wire.MsgObjFlushAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	return Unblock
}

func hookObjectRangeRegister(c *Connection, req *Request) HookResult {
	var reg wire.RegisterRange
	if err := reg.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_RANGE_REGISTER payload", "err", err)
		return Unblock
	}

	obj := c.objects.GetObject(reg.ObjectID)
	id := obj.ConsistencyTracker().RegisterRange(req.Header.TCPClientID, reg.Offset, reg.Size, reg.Mode())

	resp := wire.NewStatusResponse(id)
	c.sendResponse(req.Peer, wire.MsgObjRangeRegisterAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	return Unblock
}

func hookObjectRangeUnregister(c *Connection, req *Request) HookResult {
	var unreg wire.UnregisterRange
	if err := unreg.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_RANGE_UNREGISTER payload", "err", err)
		return Unblock
	}

	status := int32(-1)
	if obj, ok := c.objects.Lookup(unreg.ObjectID); ok {
		if obj.ConsistencyTracker().UnregisterRange(req.Header.TCPClientID, unreg.ID, unreg.Offset, unreg.Size, unreg.Mode()) {
			status = 0
		}
	}

	resp := wire.NewStatusResponse(status)
	c.sendResponse(req.Peer, wire.MsgObjRangeUnregisterAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	return Unblock
}

func hookObjectCow(c *Connection, req *Request) HookResult {
	var cow wire.ObjectCow
	if err := cow.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_COW payload", "err", err)
		return Unblock
	}

	var err error
	if cow.IsFull() {
		_, err = c.objects.MakeFullCopyOnWrite(cow.SourceObjectID, cow.DestObjectID, cow.AllowExist)
	} else {
		err = c.objects.MakeRangeCopyOnWrite(cow.SourceObjectID, cow.DestObjectID, cow.RangeOffset, cow.RangeSize)
	}
	status := int32(0)
	if err != nil {
		c.logger.Warn("conn: cow failed", "err", err)
		status = -1
	}
	if c.observer != nil {
		c.observer.ObserveCow(status == 0)
	}

	resp := wire.NewStatusResponse(status)
	c.sendResponse(req.Peer, wire.MsgObjCowAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
	return Unblock
}

// hookObjectRead implements ObjectRead (§4.5): eager-inline data under
// constants.EagerMaxRead rides along with the ack; anything larger goes
// out as a vectored RDMA write to the client's Iov, acked only once the
// transfer completes.
func hookObjectRead(c *Connection, req *Request) HookResult {
	var info wire.ObjReadWriteInfos
	if err := info.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_READ payload", "err", err)
		return Unblock
	}

	start := time.Now()
	obj := c.objects.GetObject(info.ObjectID)
	segments, err := obj.GetBuffers(info.Offset, info.Size, wire.AccessRead, true, false)
	if err != nil {
		c.logger.Warn("conn: read getBuffers failed", "object_id", info.ObjectID.String(), "err", err)
		ackReadWrite(c, req, -1, nil)
		return Unblock
	}

	if info.Size <= constants.EagerMaxRead {
		data := make([]byte, 0, info.Size)
		for _, seg := range segments {
			data = append(data, seg.Buffer()...)
		}
		if c.observer != nil {
			c.observer.ObserveRead(info.Size, uint64(time.Since(start).Nanoseconds()), true)
		}
		ackReadWrite(c, req, 0, data)
		return Unblock
	}

	bufs := make([][]byte, len(segments))
	for i, seg := range segments {
		bufs[i] = seg.Buffer()
	}
	action := &PostAction{
		Fn: func(res int32) HookResult {
			status := int32(0)
			if res < 0 {
				status = -1
			}
			if c.observer != nil {
				c.observer.ObserveRead(info.Size, uint64(time.Since(start).Nanoseconds()), status == 0)
			}
			ackReadWrite(c, req, status, nil)
			return Unblock
		},
	}
	if err := c.rdmaWritev(req.Peer, bufs, action); err != nil {
		c.logger.Warn("conn: read rdmaWritev failed", "err", err)
		ackReadWrite(c, req, -1, nil)
		return Unblock
	}
	return KeepWaiting
}

// hookObjectWrite implements ObjectWrite (§4.5): inline eager data is
// copied straight into the segment map; larger payloads are pulled in
// via rdmaReadv from the client's Iov. Either path marks the range dirty
// and only acks once the data has actually landed.
func hookObjectWrite(c *Connection, req *Request) HookResult {
	var info wire.ObjReadWriteInfos
	if err := info.Apply(wire.NewUnpacker(req.Payload)); err != nil {
		c.logger.Warn("conn: malformed OBJ_WRITE payload", "err", err)
		return Unblock
	}

	start := time.Now()
	obj := c.objects.GetObject(info.ObjectID)
	// A write that exactly covers one or more whole segments never needs
	// their prior contents, so skip the storage load for a fully-covered
	// range (§4.5 ObjectWrite).
	load := !obj.FullyCovered(info.Offset, info.Size)
	segments, err := obj.GetBuffers(info.Offset, info.Size, wire.AccessWrite, load, true)
	if err != nil {
		c.logger.Warn("conn: write getBuffers failed", "object_id", info.ObjectID.String(), "err", err)
		ackReadWrite(c, req, -1, nil)
		return Unblock
	}

	finish := func(status int32) {
		if status == 0 {
			obj.MarkDirty(info.Offset, info.Size)
		}
		if c.observer != nil {
			c.observer.ObserveWrite(info.Size, uint64(time.Since(start).Nanoseconds()), status == 0)
		}
		ackReadWrite(c, req, status, nil)
	}

	if info.HasData {
		copyInto(segments, info.Offset, info.OptionalData)
		finish(0)
		return Unblock
	}

	bufs := make([][]byte, len(segments))
	for i, seg := range segments {
		bufs[i] = seg.Buffer()
	}
	action := &PostAction{
		Fn: func(res int32) HookResult {
			status := int32(0)
			if res < 0 {
				status = -1
			}
			finish(status)
			return Unblock
		},
	}
	if err := c.rdmaReadv(req.Peer, bufs, action); err != nil {
		c.logger.Warn("conn: write rdmaReadv failed", "err", err)
		ackReadWrite(c, req, -1, nil)
		return Unblock
	}
	return KeepWaiting
}

func ackReadWrite(c *Connection, req *Request, status int32, data []byte) {
	var resp *wire.Response
	if len(data) > 0 {
		resp = wire.NewDataResponse(status, data)
	} else {
		resp = wire.NewStatusResponse(status)
	}
	c.sendResponse(req.Peer, wire.MsgObjReadWriteAck, req.Header.TCPClientID, req.Header.TCPClientKey, resp)
}

// copyInto scatters payload across segments, each of which may start at
// an offset inside payload and only partially overlap it once alignment
// has padded the segment map on either side.
func copyInto(segments []*container.ObjectSegment, base uint64, payload []byte) {
	payloadEnd := base + uint64(len(payload))
	for _, seg := range segments {
		segEnd := seg.Offset() + seg.Size()
		lo := seg.Offset()
		if lo < base {
			lo = base
		}
		hi := segEnd
		if hi > payloadEnd {
			hi = payloadEnd
		}
		if lo >= hi {
			continue
		}
		dst := seg.Buffer()
		copy(dst[lo-seg.Offset():hi-seg.Offset()], payload[lo-base:hi-base])
	}
}
