package prb

import (
	"context"
	"time"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

// WriteStats reports timing and sizing detail for a single WriteEntry
// call.
type WriteStats struct {
	BytesWritten int
	SleptForChunk bool
	Phase1        time.Duration
	Phase2        time.Duration
	Total         time.Duration
}

// WriteEntry durably appends one entry to h's log, blocking as necessary
// to obtain a committer slot and a free chunk. ctx governs only the
// blocking-acquisition points; once a chunk is held, no step can block.
//
// Returns ErrWriteObsolete if txg already lies outside the concurrent
// window (no PMEM state mutated), or a context error if ctx is done while
// waiting for a committer slot or a chunk.
func (h *Handle) WriteEntry(ctx context.Context, txg uint64, needsNewGen bool, body []byte) error {
	return h.writeEntry(ctx, txg, needsNewGen, body, true, nil)
}

// WriteEntryNonBlocking is WriteEntry's non-blocking variant: if no free
// chunk is available it returns ErrWriteWouldSleep instead of blocking,
// and fills stats (which may be nil) with timing detail.
//
// Note: if the dependency tracker has already assigned (gen, id) and
// incremented its counters before chunk acquisition fails, those counters
// are NOT rolled back (see DESIGN.md, Open Question 1). Callers that
// receive ErrWriteWouldSleep must not assume tracker state reverted.
func (h *Handle) WriteEntryNonBlocking(ctx context.Context, txg uint64, needsNewGen bool, body []byte, stats *WriteStats) error {
	return h.writeEntry(ctx, txg, needsNewGen, body, false, stats)
}

func (h *Handle) writeEntry(ctx context.Context, txg uint64, needsNewGen bool, body []byte, maySleep bool, stats *WriteStats) error {
	start := time.Now()

	if h.State() != HandleLogging {
		panic("prb: WriteEntry: handle not in LOGGING state")
	}
	if len(body) == 0 {
		panic("prb: WriteEntry: body_len must be >= 1")
	}

	size := entrySize(len(body))
	if min := h.prb.chunks.MinChunkSize(); min > 0 && size > min {
		panic("prb: WriteEntry: body_len exceeds min_chunk_size - 256 (caller contract violation)")
	}

	slotIdx, err := h.prb.committers.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.prb.committers.Release(slotIdx)
	slot := h.prb.committers.Slot(slotIdx)

	// Dependency-tracker assignment happens before chunk acquisition. If
	// chunk acquisition subsequently fails (EWOULDSLEEP), the counters
	// already incremented here are not undone; see DESIGN.md Open
	// Question 1.
	gen, id, dep, err := h.dt.assign(txg, needsNewGen)
	if err != nil {
		h.prb.metrics.writeObsolete.Inc()
		return err
	}

	c := slot.chunk
	if c == nil {
		got, ok := h.prb.chunks.GetChunk(maySleep)
		if !ok {
			h.prb.metrics.writeWouldSleep.Inc()
			if stats != nil {
				stats.SleptForChunk = false
				stats.Total = time.Since(start)
			}
			return ErrWriteWouldSleep
		}
		c = got
		slot.chunk = c
	}

	c.mu.Lock()
	if size > c.remaining() {
		c.mu.Unlock()
		h.prb.chunks.moveToFull(c)
		slot.chunk = nil
		got, ok := h.prb.chunks.GetChunk(maySleep)
		if !ok {
			h.prb.metrics.writeWouldSleep.Inc()
			return ErrWriteWouldSleep
		}
		c = got
		slot.chunk = c
		c.mu.Lock()
		if size > c.remaining() {
			c.mu.Unlock()
			panic("prb: WriteEntry: body_len exceeds min_chunk_size - 256 (caller contract violation)")
		}
	}
	cur := c.cur
	region := c.region
	c.mu.Unlock()

	hdr := EntryHeader{
		ObjsetID:     h.objsetID,
		Guid1:        h.guid1,
		Guid2:        h.guid2,
		Txg:          txg,
		Gen:          gen,
		GenScopedID:  id,
		BodyLen:      uint64(len(body)),
		Dep:          dep,
		BodyChecksum: Fletcher4(body),
	}
	encoded := hdr.encode()
	copy(slot.stagingHeader[:], encoded[:])

	phase1Start := time.Now()

	// Split the body into full-256B "bulk" blocks written directly, plus
	// a final, possibly partial, tail block staged (and zero-padded) in
	// DRAM before being written as a single 256B non-temporal store.
	tailLen := len(body) % pmem.BlockSize
	if tailLen == 0 {
		tailLen = pmem.BlockSize
	}
	bulk := len(body) - tailLen

	bodyOff := cur + headerSize
	if bulk > 0 {
		region.CopyNT256(bodyOff, body[:bulk])
	}
	clear(slot.stagingLastBlock[:])
	copy(slot.stagingLastBlock[:], body[bulk:])
	region.CopyNT256(bodyOff+bulk, slot.stagingLastBlock[:])

	// Zero the next entry's header slot, preserving the invariant that
	// the 256B at a chunk's cursor are always zero. An entry that fills
	// the chunk to its end leaves no next slot to zero.
	if cur+size < region.Len() {
		region.ZeroNT256(cur+size, pmem.BlockSize)
	}
	region.Drain()

	phase2Start := time.Now()

	// Publish the header.
	region.CopyNT256(cur, slot.stagingHeader[:])
	region.Drain()

	now := time.Now()

	c.mu.Lock()
	c.cur += size
	if txg > c.maxTxg {
		c.maxTxg = txg
	}
	c.mu.Unlock()

	h.prb.metrics.entriesWritten.Inc()
	h.prb.metrics.bytesWritten.Add(float64(size))
	h.prb.metrics.observeWriteLatencyUs(now.Sub(start).Microseconds())

	if stats != nil {
		stats.BytesWritten = size
		stats.Phase1 = phase2Start.Sub(phase1Start)
		stats.Phase2 = now.Sub(phase2Start)
		stats.Total = now.Sub(start)
	}

	h.prb.logger.Debug().
		Uint64("objset_id", h.objsetID).
		Uint64("txg", txg).
		Uint64("gen", gen).
		Uint64("gen_scoped_id", id).
		Int("body_len", len(body)).
		Msg("prb: write_entry")

	return nil
}
