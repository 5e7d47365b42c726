package membackend

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
)

// NvdimmFile backs allocations with mmap'd regions of a growing file,
// meant to sit on an fsdax-mounted nvdimm mount point. The file starts
// at NvdimmInitialFactor times the first request and doubles on every
// subsequent growth, capped at NvdimmGrowthCap, matching the growth
// strategy of the original nvdimm backend. Each growth step opens a new
// unlinked file of the new size and closes the previous one; ranges
// already mapped from an earlier file stay valid.
//
// This implementation only grows; it never shrinks or reuses released
// ranges itself — pair it with Cache for reuse, same as the original.
type NvdimmFile struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	fileSize uint64
	offset   uint64
	chunks   int
	used     uint64
}

// NewNvdimmFile creates a backend that opens backing files under dir.
func NewNvdimmFile(dir string) *NvdimmFile {
	return &NvdimmFile{dir: dir}
}

func (n *NvdimmFile) openNewFile(size uint64) error {
	if n.file != nil {
		n.file.Close()
	}

	next := n.fileSize
	if next == 0 {
		next = size * constants.NvdimmInitialFactor
	} else {
		next *= 2
		if next > constants.NvdimmGrowthCap {
			next = constants.NvdimmGrowthCap
		}
		if next%size != 0 {
			next += size - next%size
		}
	}

	f, err := os.CreateTemp(n.dir, "iocatcher-nvdimm-file-*")
	if err != nil {
		return fmt.Errorf("membackend: creating nvdimm file: %w", err)
	}
	// Unlink immediately: the file lives only as long as some process
	// holds the fd, and is reclaimed automatically on server exit.
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return fmt.Errorf("membackend: unlinking nvdimm file: %w", err)
	}
	if err := f.Truncate(int64(next)); err != nil {
		f.Close()
		return fmt.Errorf("membackend: truncating nvdimm file to %d bytes: %w", next, err)
	}

	n.file = f
	n.fileSize = next
	n.offset = 0
	return nil
}

// Allocate grows the backing file if needed and mmaps a fresh range.
// size must be a multiple of the default alignment.
func (n *NvdimmFile) Allocate(size uint64) ([]byte, error) {
	if size == 0 || size%constants.DefaultAlignment != 0 {
		return nil, fmt.Errorf("membackend: nvdimm allocation size %d not aligned to %d", size, constants.DefaultAlignment)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offset+size > n.fileSize {
		if err := n.openNewFile(size); err != nil {
			return nil, err
		}
	}

	offset := n.offset
	buf, err := unix.Mmap(int(n.file.Fd()), int64(offset), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("membackend: mmap nvdimm range: %w", err)
	}

	n.offset += size
	n.chunks++
	n.used += size
	return buf, nil
}

// Deallocate unmaps a previously allocated range.
func (n *NvdimmFile) Deallocate(buf []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	size := uint64(len(buf))
	_ = unix.Munmap(buf)
	n.chunks--
	n.used -= size
}

func (n *NvdimmFile) UsedBytes() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.used
}

// FileSize reports the current backing file size, for tests.
func (n *NvdimmFile) FileSize() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fileSize
}

// Chunks reports the number of outstanding allocated chunks, for tests.
func (n *NvdimmFile) Chunks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chunks
}

var _ Backend = (*NvdimmFile)(nil)
