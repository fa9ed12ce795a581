package prb

import (
	"math"
	"sync"
)

// activeState is the live half of a dependency tracker: the generation and
// per-gen id last assigned, plus the TxgSize counter slots indexed by
// txg mod TxgSize.
type activeState struct {
	gen      uint64
	lastID   uint64
	maxTxg   uint64
	counters [TxgSize]TxgCount
}

// depTrackState is the full (active, last) pair threaded through
// do_deptrack: "last" is the eh_dep record to attach to the entry a caller
// is currently assigning (or, on replay, the eh_dep a stored entry is
// expected to match).
type depTrackState struct {
	active activeState
	last   DepRecord
}

func newDepTrackState() depTrackState {
	return depTrackState{last: DepRecord{LastGen: math.MaxUint64}}
}

// errTxgObsolete is do_deptrack's internal signal for outcome 1
// (TXG_SHOULD_HAVE_SYNCED_ALREADY); the append engine translates it to
// ErrWriteObsolete, and the replay walk translates it to a structural
// error (a log should never contain such an entry).
var errTxgObsolete = ErrWriteObsolete

// apply runs do_deptrack against s for an entry with the given (txg, gen,
// id), mutating s and returning the eh_dep record to attach to (or,
// during replay, validate against) that entry.
//
// Programmer-error outcomes (ACTIVE_HAS_NEWER_GEN, ACTIVE_HAS_NEWER_ID) are
// panics: they are unreachable under correct use, and continuing would
// corrupt the log.
func (s *depTrackState) apply(txg, gen, id uint64) (DepRecord, error) {
	if s.active.maxTxg >= TxgConcurrentStates && txg <= s.active.maxTxg-TxgConcurrentStates {
		return DepRecord{}, errTxgObsolete
	}

	if gen < s.active.gen {
		panic(errActiveHasNewerGen)
	}

	newGen := gen > s.active.gen
	if !newGen && id <= s.active.lastID {
		panic(errActiveHasNewerID)
	}

	if newGen {
		if s.active.gen == math.MaxUint64 {
			panic(errGenExhausted)
		}
		s.last = computeEhDepFromActive(s.active)
		s.active.gen = gen
		s.active.lastID = 0
	}
	s.active.lastID = id

	idx := txg % TxgSize
	if s.active.counters[idx].Txg != txg {
		s.active.counters[idx] = TxgCount{Txg: txg}
	}
	s.active.counters[idx].Count++
	if txg > s.active.maxTxg {
		s.active.maxTxg = txg
	}

	return s.last, nil
}

// computeEhDepFromActive derives the eh_dep record that should be attached
// to the next entry of a new generation: the previous gen, plus the
// TxgConcurrentStates most recent (txg, count) counters of that gen.
func computeEhDepFromActive(active activeState) DepRecord {
	d := DepRecord{LastGen: active.gen}
	for i := 0; i < TxgConcurrentStates; i++ {
		if active.maxTxg < uint64(i) {
			continue
		}
		want := active.maxTxg - uint64(i)
		idx := want % TxgSize
		if active.counters[idx].Txg == want {
			d.Counters[i] = active.counters[idx]
		}
	}
	return d
}

// depTracker is the per-log-handle live dependency tracker, guarded by a
// mutex standing in for a per-handle spinlock fast path. It is never held
// across a PMEM store.
type depTracker struct {
	mu    sync.Mutex
	state depTrackState
}

func newDepTracker() *depTracker {
	return &depTracker{state: newDepTrackState()}
}

// assign computes the (gen, id) to use for a new append given the
// caller's txg and needs_new_gen decision, and returns the eh_dep to embed
// in the entry header. The first entry on a fresh tracker always opens
// gen 1, whether or not needs_new_gen is set.
func (dt *depTracker) assign(txg uint64, needsNewGen bool) (gen, id uint64, dep DepRecord, err error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	gen = dt.state.active.gen
	if needsNewGen || gen == 0 {
		gen++
	}
	if gen == 0 {
		panic("prb: dep tracker: assign: gen must never be zero")
	}
	id = dt.state.active.lastID + 1
	if needsNewGen {
		id = 1
	}

	dep, err = dt.state.apply(txg, gen, id)
	if err != nil {
		return 0, 0, DepRecord{}, err
	}
	return gen, id, dep, nil
}

// maxTxg returns the largest txg observed by this tracker.
func (dt *depTracker) maxTxg() uint64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.state.active.maxTxg
}
