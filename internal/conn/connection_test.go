package conn

import (
	"encoding/binary"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/higebu/netfd"
	"github.com/stretchr/testify/require"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/container"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/ctrl"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/logging"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/testutil"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

// fakeRing satisfies Ring against real socket fds without a real
// io_uring instance: each Submit spawns one goroutine performing the
// equivalent blocking syscall and posts its result to a channel, so
// Poll's async-completion contract holds even though nothing here is
// actually asynchronous hardware.
type fakeRing struct {
	ch     chan fakeResult
	closed chan struct{}
}

type fakeResult struct {
	userData uint64
	res      int32
}

func newFakeRing() *fakeRing {
	return &fakeRing{ch: make(chan fakeResult, 256), closed: make(chan struct{})}
}

func (r *fakeRing) Submit(op Op) error {
	go func() {
		var n int
		var err error
		switch op.Code {
		case OpRecv:
			n, err = syscall.Read(op.FD, op.Buf)
		case OpSend:
			n, err = syscall.Write(op.FD, op.Buf)
		case OpReadAt:
			n, err = syscall.Pread(op.FD, op.Buf, op.Offset)
		case OpWriteAt:
			n, err = syscall.Pwrite(op.FD, op.Buf, op.Offset)
		}
		res := int32(n)
		if err != nil {
			res = -1
		}
		select {
		case r.ch <- fakeResult{op.UserData, res}:
		case <-r.closed:
		}
	}()
	return nil
}

func (r *fakeRing) Poll(wait bool, fn func(userData uint64, res int32)) error {
	if wait {
		res := <-r.ch
		fn(res.userData, res.res)
	}
	for {
		select {
		case res := <-r.ch:
			fn(res.userData, res.res)
		default:
			return nil
		}
	}
}

func (r *fakeRing) Close() error {
	close(r.closed)
	return nil
}

var _ Ring = (*fakeRing)(nil)

// testHarness wires one Connection against one joined peer over a real
// loopback TCP socket pair, so fakeRing's raw-fd syscalls behave exactly
// as they would for a real client.
type testHarness struct {
	t        *testing.T
	conn     *Connection
	ring     *fakeRing
	registry *ctrl.ClientRegistry
	peer     *Peer
	client   net.Conn
}

func newTestHarness(t *testing.T) *testHarness {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverSide := <-accepted

	ring := newFakeRing()
	pool := NewReceiveBufferPool(4, 4096)
	registry := ctrl.NewClientRegistry()
	objects := container.NewContainer(testutil.NewMockStorage(), membackend.NewMalloc(), 0)
	logger := logging.Default()

	c := NewConnection(ring, pool, registry, objects, nil, logger)
	RegisterDefaultHooks(c)

	clientReady := make(chan *Peer, 1)
	go func() {
		peer, err := c.JoinServer(serverSide)
		require.NoError(t, err)
		clientReady <- peer
	}()

	writeFramedRaw(t, client, packMessage(t, wire.MessageHeader{MsgType: uint64(wire.MsgConnectInit)}, &wire.FirstClientMessage{}))
	ackBuf := readFramedRaw(t, client)
	var ackHeader wire.MessageHeader
	require.NoError(t, ackHeader.Apply(wire.NewUnpacker(ackBuf)))
	require.Equal(t, uint64(wire.MsgAssignID), ackHeader.MsgType)

	peer := <-clientReady

	return &testHarness{t: t, conn: c, ring: ring, registry: registry, peer: peer, client: client}
}

func (h *testHarness) close() {
	h.client.Close()
	h.ring.Close()
}

func packMessage(t *testing.T, header wire.MessageHeader, payload wire.Applier) []byte {
	t.Helper()
	sizer := wire.NewSizer()
	require.NoError(t, header.Apply(sizer))
	require.NoError(t, payload.Apply(sizer))
	buf := make([]byte, sizer.Cursor())
	packer := wire.NewPacker(buf)
	require.NoError(t, header.Apply(packer))
	require.NoError(t, payload.Apply(packer))
	return buf
}

func writeFramedRaw(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	_, err := conn.Write(lenPrefix[:])
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)
}

func readFramedRaw(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenPrefix [4]byte
	_, err := readFullRaw(conn, lenPrefix[:])
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	_, err = readFullRaw(conn, buf)
	require.NoError(t, err)
	return buf
}

func readFullRaw(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestJoinServerAssignsLfClientID(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()
	require.NotZero(t, h.peer.LfClientID)
}

func TestPingPongRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	h.registry.Register(7, 99)
	header := wire.MessageHeader{MsgType: uint64(wire.MsgPing), LfClientID: h.peer.LfClientID, TCPClientID: 7, TCPClientKey: 99}
	writeFramedRaw(t, h.client, packMessage(t, header, &wire.Ping{}))

	require.NoError(t, h.conn.Poll(true))

	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	respBuf := readFramedRaw(t, h.client)
	var respHeader wire.MessageHeader
	unpacker := wire.NewUnpacker(respBuf)
	require.NoError(t, respHeader.Apply(unpacker))
	require.Equal(t, uint64(wire.MsgPong), respHeader.MsgType)
}

func TestObjectCreateWriteReadRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()
	h.registry.Register(7, 99)

	objID := wire.ObjectID{High: 1, Low: 2}

	createHeader := wire.MessageHeader{MsgType: uint64(wire.MsgObjCreate), LfClientID: h.peer.LfClientID, TCPClientID: 7, TCPClientKey: 99}
	writeFramedRaw(t, h.client, packMessage(t, createHeader, &wire.ObjCreateInfos{ObjectID: objID}))
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	waitForResponse(t, h)

	payload := []byte("hello iocatcher")
	writeHeader := wire.MessageHeader{MsgType: uint64(wire.MsgObjWrite), LfClientID: h.peer.LfClientID, TCPClientID: 7, TCPClientKey: 99}
	writeInfo := &wire.ObjReadWriteInfos{ObjectID: objID, Offset: 0, Size: uint64(len(payload)), HasData: true, OptionalData: payload}
	writeFramedRaw(t, h.client, packMessage(t, writeHeader, writeInfo))
	waitForResponse(t, h)

	readHeader := wire.MessageHeader{MsgType: uint64(wire.MsgObjRead), LfClientID: h.peer.LfClientID, TCPClientID: 7, TCPClientKey: 99}
	readInfo := &wire.ObjReadWriteInfos{ObjectID: objID, Offset: 0, Size: uint64(len(payload))}
	writeFramedRaw(t, h.client, packMessage(t, readHeader, readInfo))
	respBuf := waitForResponse(t, h)

	var respHeader wire.MessageHeader
	unpacker := wire.NewUnpacker(respBuf)
	require.NoError(t, respHeader.Apply(unpacker))
	require.Equal(t, uint64(wire.MsgObjReadWriteAck), respHeader.MsgType)
	var resp wire.Response
	require.NoError(t, resp.Apply(unpacker))
	require.EqualValues(t, 0, resp.Status)
	require.Equal(t, payload, resp.OptionalData)
}

func waitForResponse(t *testing.T, h *testHarness) []byte {
	t.Helper()
	require.NoError(t, h.conn.Poll(true))
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	return readFramedRaw(t, h.client)
}

func TestPollMessageUnblocksOnAck(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()
	h.registry.Register(7, 99)

	header := wire.MessageHeader{MsgType: uint64(wire.MsgObjCreate), LfClientID: h.peer.LfClientID, TCPClientID: 7, TCPClientKey: 99}
	writeFramedRaw(t, h.client, packMessage(t, header, &wire.ObjCreateInfos{ObjectID: wire.ObjectID{High: 9, Low: 9}}))

	done := make(chan struct{})
	unblocked := false
	go func() {
		h.conn.RegisterHook(wire.MsgObjCreate, func(c *Connection, req *Request) HookResult {
			hookObjectCreate(c, req)
			unblocked = true
			return Unblock
		})
		h.conn.pollMessage(&unblocked)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pollMessage never unblocked")
	}
	require.True(t, unblocked)
}

func TestBadAuthRejectsUnregisteredClient(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	header := wire.MessageHeader{MsgType: uint64(wire.MsgObjCreate), LfClientID: h.peer.LfClientID, TCPClientID: 123, TCPClientKey: 456}
	writeFramedRaw(t, h.client, packMessage(t, header, &wire.ObjCreateInfos{ObjectID: wire.ObjectID{High: 1, Low: 1}}))

	respBuf := waitForResponse(t, h)
	var respHeader wire.MessageHeader
	unpacker := wire.NewUnpacker(respBuf)
	require.NoError(t, respHeader.Apply(unpacker))
	require.Equal(t, uint64(wire.MsgBadAuth), respHeader.MsgType)
}

func TestReceiveBufferPoolFdExtraction(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fd := netfd.GetFdFromConn(conn)
	require.Positive(t, fd)
}
