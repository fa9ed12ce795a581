package prb

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// HandleState is a log handle's lifecycle state.
type HandleState int

const (
	HandleAlloced HandleState = iota
	HandleLogging
	HandleReplaying
	HandleDestroyed
	HandleFreed
)

func (s HandleState) String() string {
	switch s {
	case HandleAlloced:
		return "ALLOCED"
	case HandleLogging:
		return "LOGGING"
	case HandleReplaying:
		return "REPLAYING"
	case HandleDestroyed:
		return "DESTROYED"
	case HandleFreed:
		return "FREED"
	default:
		return "UNKNOWN"
	}
}

// HeaderState is the on-disk header's state tag.
type HeaderState uint64

const (
	HeaderNozil      HeaderState = 1
	HeaderReplaying  HeaderState = 2
	HeaderLogging    HeaderState = 4
)

// activeSnapshot is a persistable rendering of activeState. It carries the
// per-gen sequence cursor (LastID) and all TxgSize counter slots, not just
// the TxgConcurrentStates-window projection eh_dep carries: resuming an
// interrupted replay needs to know exactly which (gen, id) pairs were
// already delivered, which eh_dep's 3-slot window alone cannot express
// (see DESIGN.md, Open Question resolution on replay_state_phys).
type activeSnapshot struct {
	Gen      uint64
	LastID   uint64
	MaxTxg   uint64
	Counters [TxgSize]TxgCount
}

// ReplayStatePhys is the persisted replay-progress record: the claim txg
// plus the running dependency-tracker state, exposed via the out-parameter
// header after every successful replay callback so the caller can persist
// it and make replay restartable.
type ReplayStatePhys struct {
	ClaimTxg uint64
	Active   activeSnapshot
	Last     DepRecord
}

// OnDiskHeader is the fixed-size header slot persisted by the enclosing
// filesystem's transactional path. ReplayState is non-nil only when
// State == HeaderReplaying.
type OnDiskHeader struct {
	State       HeaderState
	Guid1       uint64
	Guid2       uint64
	ReplayState *ReplayStatePhys
}

// Handle binds an objset_id and a 128-bit log GUID to a dependency-tracker
// state, and holds the set of chunks retained during replay.
type Handle struct {
	prb      *PRB
	objsetID uint64

	mu       sync.Mutex
	state    HandleState
	guid1    uint64
	guid2    uint64
	dt       *depTracker
	retained map[uint64]*Chunk // chunk id -> chunk

	// claimTxg and replayState are valid only while state == HandleReplaying.
	claimTxg    uint64
	replayState depTrackState
}

// ObjsetID returns the handle's bound objset_id.
func (h *Handle) ObjsetID() uint64 { return h.objsetID }

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// MaxWrittenTxg returns the largest txg this handle's dependency tracker
// has observed.
func (h *Handle) MaxWrittenTxg() uint64 {
	return h.dt.maxTxg()
}

// CreateLogIfNotExists transitions h from ALLOCED or DESTROYED to LOGGING, minting
// fresh random nonzero GUID halves and a reset dependency tracker, and
// fills outHeader accordingly. Returns true if it performed the
// transition, false if h was already LOGGING (a no-op, matching "if not
// exists" semantics) or REPLAYING (also a no-op: the caller must replay
// first).
func (h *Handle) CreateLogIfNotExists(outHeader *OnDiskHeader) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HandleLogging:
		outHeader.State = HeaderLogging
		outHeader.Guid1, outHeader.Guid2 = h.guid1, h.guid2
		outHeader.ReplayState = nil
		return false
	case HandleReplaying:
		return false
	case HandleDestroyed, HandleAlloced:
		// fallthrough to creation below
	default:
		panic("prb: CreateLogIfNotExists: handle in unexpected state " + h.state.String())
	}

	g1, g2 := randomNonzeroGUIDPair()
	h.guid1, h.guid2 = g1, g2
	h.dt = newDepTracker()
	h.state = HandleLogging

	outHeader.State = HeaderLogging
	outHeader.Guid1, outHeader.Guid2 = g1, g2
	outHeader.ReplayState = nil

	h.prb.chunks.markLoggingStarted()
	h.prb.logger.Debug().Uint64("objset_id", h.objsetID).Uint64("guid1", g1).Uint64("guid2", g2).Msg("prb: create_log_if_not_exists")
	return true
}

// DestroyLog transitions h to DESTROYED and outHeader to NOZIL. Valid from
// any state except FREED.
func (h *Handle) DestroyLog(outHeader *OnDiskHeader) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HandleFreed {
		panic("prb: DestroyLog: handle already torn down")
	}
	if h.state == HandleReplaying {
		h.releaseRetainedLocked()
	}
	h.state = HandleDestroyed
	outHeader.State = HeaderNozil
	outHeader.Guid1, outHeader.Guid2 = 0, 0
	outHeader.ReplayState = nil
}

// retainLocked bumps the refcount of every chunk in chunks that isn't
// already retained by h, and records them. Caller must hold h.mu.
func (h *Handle) retainLocked(chunks map[uint64]*Chunk) {
	for id, c := range chunks {
		if _, already := h.retained[id]; already {
			continue
		}
		c.bumpRefcount()
		h.retained[id] = c
	}
}

// releaseRetainedLocked drops the refcount of every chunk this handle
// currently retains and clears the retained set. Caller must hold h.mu.
func (h *Handle) releaseRetainedLocked() {
	for id, c := range h.retained {
		c.dropRefcount()
		delete(h.retained, id)
	}
}

func randomNonzeroGUIDPair() (uint64, uint64) {
	return randomNonzeroU64(), randomNonzeroU64()
}

// randomNonzeroU64 rejection-samples a random nonzero 64-bit value.
func randomNonzeroU64() uint64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("prb: randomNonzeroU64: crypto/rand unavailable: " + err.Error())
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v != 0 {
			return v
		}
	}
}
