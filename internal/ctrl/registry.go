// Package ctrl implements the TCP auth handshake and the client registry
// it populates (§4.6, §6.1): the control plane a client crosses once,
// before any libfabric-equivalent traffic, to receive its tcpClientId and
// key and prove that pair on every subsequent message.
package ctrl

import "sync"

// ClientRegistry is the authoritative map of tcpClientId to key (§3
// ClientRegistry). It is touched from two goroutines: the TCP accept loop
// (Register/Unregister) and the network loop (Validate on every
// non-low-level message), so it carries its own mutex.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[uint64]uint64
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[uint64]uint64)}
}

// Register records a freshly handshaked client.
func (r *ClientRegistry) Register(clientID, key uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = key
}

// Unregister drops a client, typically once its TCP socket closes.
func (r *ClientRegistry) Unregister(clientID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Validate reports whether (clientID, key) names a currently registered
// client. The connection calls this for every received message type
// except the low-level ones (CONNECT_INIT, ASSIGN_ID, BAD_AUTH,
// FATAL_ERROR; see wire.MsgType.IsLowLevel).
func (r *ClientRegistry) Validate(clientID, key uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	want, ok := r.clients[clientID]
	return ok && want == key
}

// Count returns the number of currently registered clients, for the
// statistics thread.
func (r *ClientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
