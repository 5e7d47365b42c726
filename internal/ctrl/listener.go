package ctrl

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/logging"
)

// DisconnectFunc is invoked once a handshaked client's TCP socket closes,
// after it has already been unregistered. The server wires this to the
// container's disconnect sweep (§4.6).
type DisconnectFunc func(tcpClientID uint64)

// Listener runs the TCP auth handshake (§6.1) on its own goroutine,
// separate from the network loop that later validates the ids it hands
// out. KeepAlive controls whether a handshaked socket is held open as the
// client's liveness channel; a client told keepAlive=0 is registered but
// the server has no way to detect its disconnect, so it is never used in
// this server (kept configurable for §6.1 compliance and future use by
// short-lived administrative clients).
type Listener struct {
	registry     *ClientRegistry
	onDisconnect DisconnectFunc
	keepAlive    bool
	logger       *logging.Logger

	ln net.Listener
}

// NewListener binds addr (conventionally the libfabric port plus
// constants.TCPAuthPortOffset) and returns a Listener ready for Serve.
func NewListener(addr string, registry *ClientRegistry, onDisconnect DisconnectFunc, keepAlive bool) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ctrl: listen %s: %w", addr, err)
	}
	return &Listener{
		registry:     registry,
		onDisconnect: onDisconnect,
		keepAlive:    keepAlive,
		logger:       logging.Default(),
		ln:           ln,
	}, nil
}

// Addr returns the bound address, useful when addr was "host:0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections. In-flight handshakes are not
// interrupted.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until Close is called. Meant to run on its
// own goroutine for the lifetime of the server.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.logger.Debug("ctrl listener stopped", "err", err)
			return
		}
		go l.handle(conn)
	}
}

// handle performs the one-shot handshake and, when keepAlive was
// requested, blocks reading the socket until it closes so the client's
// disconnect can be detected and swept.
func (l *Listener) handle(conn net.Conn) {
	clientID := nextClientID()
	var keyBytes [8]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		l.logger.Error("ctrl: generating client key", "err", err)
		conn.Close()
		return
	}
	key := binary.LittleEndian.Uint64(keyBytes[:])

	if err := writeHandshake(conn, clientID, key, l.keepAlive); err != nil {
		l.logger.Warn("ctrl: handshake write failed", "err", err)
		conn.Close()
		return
	}

	l.registry.Register(clientID, key)
	l.logger.Debug("ctrl: client handshaked", "tcp_client_id", clientID, "keep_alive", l.keepAlive)

	if !l.keepAlive {
		conn.Close()
		return
	}

	defer func() {
		conn.Close()
		l.registry.Unregister(clientID)
		if l.onDisconnect != nil {
			l.onDisconnect(clientID)
		}
		l.logger.Debug("ctrl: client disconnected", "tcp_client_id", clientID)
	}()

	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// writeHandshake writes the §6.1 byte-exact handshake:
// i16 protocolVersion | u64 clientId | u64 key | u8 keepAlive.
func writeHandshake(conn net.Conn, clientID, key uint64, keepAlive bool) error {
	buf := make([]byte, 2+8+8+1)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(constants.ProtocolVersion))
	binary.LittleEndian.PutUint64(buf[2:10], clientID)
	binary.LittleEndian.PutUint64(buf[10:18], key)
	if keepAlive {
		buf[18] = 1
	}
	_, err := conn.Write(buf)
	return err
}
