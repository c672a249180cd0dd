package channel

import (
	"context"
	"errors"
)

// ErrSlotTimeout is returned when no submission slot frees up before the
// caller's deadline. Retryable: the settlement stays pending and is picked
// up again by the reconciliation sweep.
var ErrSlotTimeout = errors.New("no submission channel available")

// Slot is one pre-funded signing identity. The ledger serializes operations
// per identity by sequence number, so a slot is held exclusively for the
// duration of one submission and then returned.
type Slot struct {
	ID   int
	Seed string
}

// Pool hands out submission slots so up to len(seeds) ledger operations can
// proceed in true parallel without sequence-number contention. The pool is
// a buffered channel: acquisition parks the calling goroutine, never a
// thread, and a caller that cannot get a slot fails fast instead of holding
// a partial reservation.
type Pool struct {
	slots chan *Slot
	size  int
}

// NewPool builds a pool with one slot per signing seed. The slot count is
// fixed at startup: each identity needs standing balance on the ledger, so
// growing the pool is an operational decision, not a runtime one.
func NewPool(seeds []string) *Pool {
	p := &Pool{
		slots: make(chan *Slot, len(seeds)),
		size:  len(seeds),
	}
	for i, seed := range seeds {
		p.slots <- &Slot{ID: i, Seed: seed}
	}
	return p
}

// Acquire blocks until a slot frees up or ctx expires, whichever comes
// first. Callers bound the wait with a context deadline.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	case <-ctx.Done():
		return nil, ErrSlotTimeout
	}
}

// Release returns a slot to the pool. Must be called on every exit path of
// a submission, including failure.
func (p *Pool) Release(slot *Slot) {
	p.slots <- slot
}

// Size returns the fixed slot count.
func (p *Pool) Size() int {
	return p.size
}

// Available returns how many slots are currently free.
func (p *Pool) Available() int {
	return len(p.slots)
}
