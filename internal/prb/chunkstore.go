package prb

import (
	"sync"
)

// ChunkStore owns every PMEM chunk registered with a PRB and maintains the
// lists that track each chunk's lifecycle state, under a single mutex and
// condition variable.
type ChunkStore struct {
	mu   sync.Mutex
	cond *sync.Cond

	all       []*Chunk
	waitclaim []*Chunk
	free      []*Chunk
	claimed   []*Chunk
	full      [TxgSize][]*Chunk

	minChunkSize int

	noMoreGC       bool
	loggingStarted bool
}

// NewChunkStore constructs an empty ChunkStore.
func NewChunkStore() *ChunkStore {
	cs := &ChunkStore{}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// MinChunkSize returns the smallest registered chunk's size, which is the
// largest admissible entry size (invariant 6). Zero if no chunk has been
// registered yet.
func (cs *ChunkStore) MinChunkSize() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.minChunkSize
}

// markLoggingStarted records that some handle has transitioned to LOGGING,
// after which AddChunkForClaim is a caller-contract violation.
func (cs *ChunkStore) markLoggingStarted() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.loggingStarted = true
}

// AddChunkForWrite registers chunk as available for appending: its first
// header slot is zeroed and it is inserted into the free list.
func (cs *ChunkStore) AddChunkForWrite(c *Chunk) {
	c.reset()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	c.state = chunkFree
	cs.all = append(cs.all, c)
	cs.free = append(cs.free, c)
	cs.updateMinChunkSizeLocked(c.Len())
	cs.cond.Broadcast()
}

// AddChunkForClaim registers chunk as a candidate to be surveyed during
// claim. Must only be called before any handle has reached LOGGING.
func (cs *ChunkStore) AddChunkForClaim(c *Chunk) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.loggingStarted {
		panic("prb: AddChunkForClaim called after a handle reached LOGGING")
	}
	c.state = chunkWaitClaim
	cs.all = append(cs.all, c)
	cs.waitclaim = append(cs.waitclaim, c)
	cs.updateMinChunkSizeLocked(c.Len())
}

func (cs *ChunkStore) updateMinChunkSizeLocked(size int) {
	if cs.minChunkSize == 0 || size < cs.minChunkSize {
		cs.minChunkSize = size
	}
}

// GetChunk pops the head of the free list. If the free list is empty and
// sleep is true, it blocks on the availability condvar until a chunk is
// freed. If sleep is false and the list is empty, it returns (nil, false)
// immediately — the EWOULDSLEEP short-circuit.
func (cs *ChunkStore) GetChunk(sleep bool) (*Chunk, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for len(cs.free) == 0 {
		if !sleep {
			return nil, false
		}
		cs.cond.Wait()
	}
	c := cs.free[0]
	cs.free = cs.free[1:]
	c.state = chunkInUse
	return c, true
}

// moveToFull transitions c from "current" (implicitly owned by a
// committer) to full[c.maxTxg mod TxgSize]. Called by the append engine
// when a chunk can no longer fit the next entry.
func (cs *ChunkStore) moveToFull(c *Chunk) {
	c.mu.Lock()
	bucket := int(c.maxTxg % TxgSize)
	c.mu.Unlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	c.state = chunkFull
	c.full4 = bucket
	cs.full[bucket] = append(cs.full[bucket], c)
}

// GC reclaims every chunk in full[txg mod TxgSize] whose max_txg <= txg,
// resetting it and returning it to free. It also scans waitclaim for
// chunks whose refcount has dropped to zero (fully released by every
// replaying handle) and releases them back to free as well. Forbidden
// after PromiseNoMoreGC.
func (cs *ChunkStore) GC(txg uint64) (reclaimed int) {
	cs.mu.Lock()
	if cs.noMoreGC {
		cs.mu.Unlock()
		panic("prb: GC called after PromiseNoMoreGC")
	}

	bucket := int(txg % TxgSize)
	bucketChunks := cs.full[bucket]
	cs.full[bucket] = nil

	var keep []*Chunk
	var toFree []*Chunk
	for _, c := range bucketChunks {
		c.mu.Lock()
		reclaimable := c.maxTxg <= txg
		c.mu.Unlock()
		if reclaimable {
			toFree = append(toFree, c)
		} else {
			keep = append(keep, c)
		}
	}
	cs.full[bucket] = keep

	var stillWaiting []*Chunk
	for _, c := range cs.waitclaim {
		if c.refcountValue() == 0 {
			toFree = append(toFree, c)
		} else {
			stillWaiting = append(stillWaiting, c)
		}
	}
	cs.waitclaim = stillWaiting
	cs.mu.Unlock()

	for _, c := range toFree {
		c.reset()
		cs.mu.Lock()
		c.state = chunkFree
		cs.free = append(cs.free, c)
		cs.mu.Unlock()
	}

	if len(toFree) > 0 {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	}
	return len(toFree)
}

// PromiseNoMoreGC latches the store so that subsequent GC calls panic. It
// is irreversible.
func (cs *ChunkStore) PromiseNoMoreGC() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.noMoreGC = true
}

// waitclaimChunks returns a snapshot of the waitclaim list, for claim/C5.
func (cs *ChunkStore) waitclaimChunks() []*Chunk {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Chunk, len(cs.waitclaim))
	copy(out, cs.waitclaim)
	return out
}

// allRegions returns every registered chunk, for debug/introspection.
func (cs *ChunkStore) allRegions() []*Chunk {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Chunk, len(cs.all))
	copy(out, cs.all)
	return out
}

