package ctrl

import "github.com/rs/xid"

// nextClientID derives a monotonically-sortable uint64 tcpClientId from a
// freshly generated xid: the high 32 bits are its embedded Unix
// timestamp, the low 32 bits its per-process counter. Two ids generated
// in the same process are always comparable in issue order, which a bare
// atomic counter would also give us, but this additionally survives a
// server restart without colliding against ids a reconnecting client
// might still be holding from before the restart.
func nextClientID() uint64 {
	id := xid.New()
	return uint64(id.Time().Unix())<<32 | uint64(uint32(id.Counter()))
}
