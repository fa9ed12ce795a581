package prb

import (
	"context"
	"math/bits"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

const maxCommitters = 64

// committerSlot is a single staging area plus a currently-owned chunk
// pointer, admitting one appender at a time. The two scratch buffers let
// the append engine build a header and a body tail in DRAM before issuing
// a single non-temporal copy to PMEM.
type committerSlot struct {
	chunk              *Chunk
	stagingHeader      [pmem.BlockSize]byte
	stagingLastBlock   [pmem.BlockSize]byte
}

// CommitterSlots is a bounded pool of committerSlot staging areas. Slot
// admission is gated by a counted semaphore (golang.org/x/sync/semaphore,
// weight 1 per acquire); slot selection within the admitted set is a
// lock-free compare-and-swap loop over a single atomic bitset.
type CommitterSlots struct {
	sem    *semaphore.Weighted
	bitset atomic.Uint64
	slots  []committerSlot
}

// NewCommitterSlots constructs a pool of n committer slots. n must be in
// [1, maxCommitters].
func NewCommitterSlots(n int) *CommitterSlots {
	if n < 1 || n > maxCommitters {
		panic("prb: NewCommitterSlots: ncommitters out of range")
	}
	return &CommitterSlots{
		sem:   semaphore.NewWeighted(int64(n)),
		slots: make([]committerSlot, n),
	}
}

// Len reports the number of committer slots.
func (cs *CommitterSlots) Len() int { return len(cs.slots) }

// Acquire blocks (respecting ctx cancellation) until a committer slot is
// available, then claims the lowest-numbered clear bit in the bitset and
// returns its index. Correctness relies on two invariants: bitset bits at
// or above Len() are always zero, and once the semaphore admits a thread
// some bit must be clear (the semaphore's count matches the number of
// currently-clear bits by construction).
func (cs *CommitterSlots) Acquire(ctx context.Context) (int, error) {
	if err := cs.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	for {
		old := cs.bitset.Load()
		idx := bits.TrailingZeros64(^old & slotMask(len(cs.slots)))
		if idx >= len(cs.slots) {
			// Unreachable given the semaphore/bitset invariant; a
			// programmer error if it ever fires.
			panic("prb: committer slots: no clear bit despite semaphore admission")
		}
		next := old | (uint64(1) << uint(idx))
		if cs.bitset.CompareAndSwap(old, next) {
			return idx, nil
		}
	}
}

// Release clears slot idx's bit and posts the semaphore, making the slot
// available to the next acquirer.
func (cs *CommitterSlots) Release(idx int) {
	for {
		old := cs.bitset.Load()
		next := old &^ (uint64(1) << uint(idx))
		if cs.bitset.CompareAndSwap(old, next) {
			break
		}
	}
	cs.sem.Release(1)
}

// Slot returns a pointer to committer slot idx's staging area. The caller
// must hold that slot (via Acquire) for the duration of use.
func (cs *CommitterSlots) Slot(idx int) *committerSlot {
	return &cs.slots[idx]
}

func slotMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}
