package conn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/higebu/netfd"
)

// Peer is one joined endpoint on the connection's address vector. Real
// libfabric multiplexes every peer over one RDM endpoint; lacking RDMA
// hardware, each peer here is backed by its own TCP socket to the data
// port; LfClientID plays the role the provider's fi_addr_t plays in the
// original, an opaque handle the connection hands sendMessage/rdmaRead/
// rdmaWrite instead of a raw address.
type Peer struct {
	LfClientID uint64

	conn   net.Conn
	fd     int
	reader *bufio.Reader

	writeMu sync.Mutex
}

func newPeer(lfClientID uint64, c net.Conn) *Peer {
	return &Peer{
		LfClientID: lfClientID,
		conn:       c,
		fd:         netfd.GetFdFromConn(c),
		reader:     bufio.NewReader(c),
	}
}

// FD returns the peer's raw socket fd, for Ring submissions.
func (p *Peer) FD() int { return p.fd }

// writeFramed writes a length-prefixed message: a u32 byte count
// followed by exactly that many bytes. TCP has no message boundaries
// the way the datagram-equivalent RDM endpoint does, so every send and
// recv on a Peer is framed this way; the framing is purely a transport
// concern and is not part of the §6.2 wire payload layouts themselves.
func (p *Peer) writeFramed(buf []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := p.conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("conn: write frame length: %w", err)
	}
	if _, err := p.conn.Write(buf); err != nil {
		return fmt.Errorf("conn: write frame body: %w", err)
	}
	return nil
}

// readFramed blocks for the next complete framed message.
func (p *Peer) readFramed() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := readFull(p.reader, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := readFull(p.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *Peer) Close() error { return p.conn.Close() }
