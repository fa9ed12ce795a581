package prb

import (
	"sync"
	"sync/atomic"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

// chunkState is the lifecycle state of a Chunk within the ChunkStore's
// lists. It exists only for assertions/debugging; list membership is what
// actually drives behavior.
type chunkState int

const (
	chunkFree chunkState = iota
	chunkWaitClaim
	chunkInUse
	chunkFull
	chunkClaimed
)

// Chunk is a power-of-2-sized, 256 B-aligned contiguous PMEM region
// together with the bookkeeping the PRB needs to manage its lifecycle.
type Chunk struct {
	region pmem.Region

	// id is a stable, comparable identity independent of any Go pointer
	// equality quirks; used as the B-tree tie-break key and by the debug
	// CLI.
	id uint64

	mu      sync.Mutex
	cur     int // append cursor, byte offset from region start
	maxTxg  uint64
	state   chunkState
	full4   int // which full[] bucket this chunk is parked in, when state == chunkFull

	refcount atomic.Int32 // retaining handles during claim/replay
}

var nextChunkID atomic.Uint64

// NewChunk wraps region as a Chunk. The region's length must be a power of
// 2 and at least 512 B (two header slots).
func NewChunk(region pmem.Region) *Chunk {
	if !pmem.IsPowerOfTwo(region.Len()) {
		panic("prb: NewChunk: region length is not a power of 2")
	}
	if region.Len() < 2*pmem.BlockSize {
		panic("prb: NewChunk: region too small")
	}
	return &Chunk{
		region: region,
		id:     nextChunkID.Add(1),
	}
}

// ID returns the chunk's stable identity.
func (c *Chunk) ID() uint64 { return c.id }

// Len returns the chunk's total capacity in bytes.
func (c *Chunk) Len() int { return c.region.Len() }

// remaining returns the number of bytes left before the chunk is full.
// Caller must hold c.mu.
func (c *Chunk) remaining() int {
	return c.region.Len() - c.cur
}

// reset zeroes the chunk's first header slot and resets cursor/max-txg
// accounting, establishing the "free chunk" invariant (invariant 4: a
// chunk in the free list has its first 256 B zeroed).
func (c *Chunk) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.region.ZeroNT256(0, pmem.BlockSize)
	c.region.Drain()
	c.cur = 0
	c.maxTxg = 0
}

func (c *Chunk) bumpRefcount() { c.refcount.Add(1) }

// dropRefcount decrements the refcount and reports whether it reached
// zero.
func (c *Chunk) dropRefcount() bool {
	return c.refcount.Add(-1) == 0
}

func (c *Chunk) refcountValue() int32 { return c.refcount.Load() }
