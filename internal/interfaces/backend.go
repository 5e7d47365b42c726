// Package interfaces provides internal interface definitions for iocatcher.
// These are separate from the root package to avoid circular imports
// between it and its internal collaborators.
package interfaces

// StorageBackend is the opaque object-storage collaborator a Container
// loads segment holes from and flushes dirty segments to. It has no
// notion of segments, offsets within a segment, or copy-on-write beyond
// MakeCowSegment's narrow duplication request — the rest lives entirely
// in internal/container.
//
// Load and Flush behave like pread/pwrite: they transfer up to len(buf)
// bytes at the given object-relative offset and return the number of
// bytes actually transferred, so a short transfer is visible to the
// caller without a sentinel error.
type StorageBackend interface {
	// Create registers a new object with durable storage. Called once,
	// the first time an object is created with no data to load.
	Create(objectID string) error

	// Load fills buf from durable storage starting at offset. An object
	// with no backing data yet reads as zeros (n == len(buf), err == nil):
	// IO Catcher objects may be created before any data exists.
	Load(objectID string, buf []byte, offset int64) (int, error)

	// Flush writes buf to durable storage at the given object-relative
	// offset.
	Flush(objectID string, buf []byte, offset int64) (int, error)

	// MakeCowSegment requests server-side duplication of a span that is
	// already durable under srcObjectID into dstObjectID, so a full
	// copy-on-write does not have to re-stage clean bytes through server
	// memory. Range copy-on-write does not call it.
	MakeCowSegment(srcObjectID, dstObjectID string, offset, size int64) error
}

// Logger is the subset of logging behavior the connection, container and
// server layers depend on, so they can be tested against a stub without
// pulling in the concrete logrus-backed implementation.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives metrics events from the connection and container
// layers. Implementations must be safe to call from the network loop
// goroutine and the TCP accept goroutine concurrently.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveCow(success bool)
	ObserveClientConnected()
	ObserveClientDisconnected()
}
