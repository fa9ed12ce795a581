// Package prb implements the core of a persistent-memory-backed ZIL
// (ZFS Intent Log) ring buffer: a multi-writer, multi-log concurrent
// append engine over byte-addressable PMEM, a dependency-tracking scheme
// that lets replay reconstruct total commit order without a hot-path
// sequence number, a txg-watermark-driven chunk garbage collector, and a
// claim/replay planner that validates structural completeness of the log
// chain after a crash.
package prb

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

// PRB is the process-wide container: it owns every registered chunk, the
// set of log handles (keyed by objset_id), the committer pool, and the
// shared chunk-store mutex/condvar. It is explicitly constructed and
// passed around by the caller — there is no module-global singleton.
type PRB struct {
	chunks     *ChunkStore
	committers *CommitterSlots
	logger     zerolog.Logger
	metrics    *metrics

	mu      sync.Mutex
	handles map[uint64]*Handle
}

// New allocates a PRB with the given options. WithCommitters is required.
func New(opts ...Option) *PRB {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.NCommitters < 1 {
		panic("prb: New: WithCommitters is required and must be >= 1")
	}

	p := &PRB{
		chunks:     NewChunkStore(),
		committers: NewCommitterSlots(o.NCommitters),
		logger:     o.Logger,
		metrics:    newMetrics(o.MetricsRegisterer),
		handles:    make(map[uint64]*Handle),
	}
	p.logger.Debug().Int("ncommitters", o.NCommitters).Msg("prb: allocated")
	return p
}

// AddChunkForWrite registers region as an append target.
func (p *PRB) AddChunkForWrite(region pmem.Region) *Chunk {
	c := NewChunk(region)
	p.chunks.AddChunkForWrite(c)
	return c
}

// AddChunkForClaim registers region as a candidate to be surveyed during
// claim. Must only be called before any handle has reached LOGGING.
func (p *PRB) AddChunkForClaim(region pmem.Region) *Chunk {
	c := NewChunk(region)
	p.chunks.AddChunkForClaim(c)
	return c
}

// GC reclaims chunks whose contents are entirely covered by txg.
func (p *PRB) GC(txg uint64) int {
	n := p.chunks.GC(txg)
	if n > 0 {
		p.metrics.gcReclaimed.Add(float64(n))
	}
	p.logger.Debug().Uint64("txg", txg).Int("reclaimed", n).Msg("prb: gc")
	return n
}

// PromiseNoMoreGC latches the chunk store so future GC calls panic.
func (p *PRB) PromiseNoMoreGC() {
	p.chunks.PromiseNoMoreGC()
}

// SetupObjset allocates a new handle bound to objsetID, in state ALLOCED.
// Panics if a handle for objsetID already exists: handles are keyed only by
// objset_id, so at most one handle can be live per objset at a time.
func (p *PRB) SetupObjset(objsetID uint64) *Handle {
	if objsetID == 0 {
		panic("prb: SetupObjset: objset_id must be nonzero")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handles[objsetID]; exists {
		panic(fmt.Errorf("%w: objset_id=%d", errDuplicateObjset, objsetID))
	}

	h := &Handle{
		prb:      p,
		objsetID: objsetID,
		state:    HandleAlloced,
		dt:       newDepTracker(),
		retained: make(map[uint64]*Chunk),
	}
	p.handles[objsetID] = h
	p.logger.Debug().Uint64("objset_id", objsetID).Msg("prb: setup_objset")
	return h
}

// TeardownObjset removes h from the PRB's handle set. If abandonClaim is
// true and h is REPLAYING, its retained chunks' refcounts are dropped
// first (an abandoned claim, as opposed to a completed ReplayDone).
func (p *PRB) TeardownObjset(h *Handle, abandonClaim bool) {
	h.mu.Lock()
	if abandonClaim && h.state == HandleReplaying {
		h.releaseRetainedLocked()
		h.state = HandleDestroyed
	}
	h.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, h.objsetID)
	h.mu.Lock()
	h.state = HandleFreed
	h.mu.Unlock()
	p.logger.Debug().Uint64("objset_id", h.objsetID).Msg("prb: teardown_objset")
}

// Free tears down p. It panics if any handle is still live, matching the
// caller contract that every objset must be torn down before the PRB
// itself is freed. If freeChunks is true, Free returns the backing Region
// of every chunk ever registered so the caller can unmap or release the
// underlying PMEM; if false, it returns nil and the caller retains
// ownership of the regions (e.g. they outlive this process's PRB but back
// a fresh one after restart).
func (p *PRB) Free(freeChunks bool) []pmem.Region {
	p.mu.Lock()
	if len(p.handles) > 0 {
		p.mu.Unlock()
		panic(fmt.Sprintf("prb: Free: %d handle(s) still live", len(p.handles)))
	}
	p.mu.Unlock()

	p.logger.Debug().Bool("free_chunks", freeChunks).Msg("prb: free")
	if !freeChunks {
		return nil
	}

	chunks := p.chunks.allRegions()
	regions := make([]pmem.Region, len(chunks))
	for i, c := range chunks {
		regions[i] = c.region
	}
	return regions
}
