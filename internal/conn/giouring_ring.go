package conn

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

// GiouringRing backs Ring with a real io_uring completion queue,
// exactly the way ehrlich-b-go-ublk's internal/uring.iouringRing backs
// its control-plane Ring, except the SQEs here target a socket fd with
// PrepSend/PrepRecv/PrepRead/PrepWrite instead of URING_CMD.
type GiouringRing struct {
	mu   sync.Mutex
	ring *giouring.Ring
}

// NewGiouringRing creates a ring with the given submission-queue depth.
func NewGiouringRing(entries uint32) (*GiouringRing, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("conn: create io_uring: %w", err)
	}
	return &GiouringRing{ring: ring}, nil
}

func (r *GiouringRing) Submit(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}

	switch op.Code {
	case OpRecv:
		sqe.PrepRecv(op.FD, op.Buf, 0)
	case OpSend:
		sqe.PrepSend(op.FD, op.Buf, 0)
	case OpReadAt:
		sqe.PrepRead(op.FD, op.Buf, uint64(op.Offset))
	case OpWriteAt:
		sqe.PrepWrite(op.FD, op.Buf, uint64(op.Offset))
	default:
		return fmt.Errorf("conn: unknown op code %d", op.Code)
	}
	sqe.UserData = op.UserData

	_, err := r.ring.Submit()
	return err
}

func (r *GiouringRing) Poll(wait bool, fn func(userData uint64, res int32)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wait {
		cqe, err := r.ring.WaitCQE()
		if err != nil {
			return err
		}
		fn(cqe.UserData, cqe.Res)
		r.ring.CQESeen(cqe)
	}

	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil {
			return nil
		}
		fn(cqe.UserData, cqe.Res)
		r.ring.CQESeen(cqe)
	}
}

func (r *GiouringRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring.QueueExit()
	return nil
}

var _ Ring = (*GiouringRing)(nil)
