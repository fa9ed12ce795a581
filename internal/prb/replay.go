package prb

// ClaimStore is the external collaborator that records, during claim,
// which on-PMEM blocks the pool's space accounting must protect from GC
// until replay completes.
type ClaimStore interface {
	NeedsStoreClaim(entry ReplayNode) (bool, error)
	Claim(entry ReplayNode) error
}

// ReplayCallback is invoked once per entry, in (gen, id) order, during
// Replay. Returning a non-nil error halts replay; the caller should
// persist updatedHeader at the last successfully-applied entry.
type ReplayCallback func(entry ReplayNode, updatedHeader *OnDiskHeader) error

func snapshotActive(a activeState) activeSnapshot {
	return activeSnapshot{Gen: a.gen, LastID: a.lastID, MaxTxg: a.maxTxg, Counters: a.counters}
}

func stateFromSnapshot(snap activeSnapshot, last DepRecord) depTrackState {
	return depTrackState{
		active: activeState{
			gen:      snap.Gen,
			lastID:   snap.LastID,
			maxTxg:   snap.MaxTxg,
			counters: snap.Counters,
		},
		last: last,
	}
}

// alreadyReplayed reports whether (gen, id) is covered by the running
// replay state's progress cursor.
func alreadyReplayed(state depTrackState, gen, id uint64) bool {
	if gen < state.active.gen {
		return true
	}
	return gen == state.active.gen && id <= state.active.lastID
}

// checkDependencySlots validates the three eh_dep counter slots persisted
// in an entry's header against the running state's "last" record: every
// slot naming a txg at or after claimTxg must match a (txg, count) pair
// the replay state has actually produced.
func checkDependencySlots(entryDep DepRecord, state depTrackState, claimTxg uint64) error {
	for _, slot := range entryDep.Counters {
		switch {
		case slot.Txg == 0 && slot.Count == 0:
			continue // empty slot
		case slot.Txg == 0 && slot.Count != 0:
			return &ReplayStructuralError{Kind: ReplayErrInvalidCount}
		case slot.Txg < claimTxg:
			continue // dependency predates this claim
		}

		found := false
		for _, c := range state.last.Counters {
			if c.Txg == slot.Txg {
				found = c.Count == slot.Count
				break
			}
		}
		if !found {
			return &ReplayStructuralError{Kind: ReplayErrMissingEntries}
		}
	}
	return nil
}

// walkReplayability iterates rs in (gen, id) order starting from state,
// invoking onEntry for each entry that is not already covered by state's
// progress cursor, with the state that includes that entry. It returns the
// state as of the last entry processed successfully and the first
// structural error encountered, if any.
func walkReplayability(rs *ReplaySet, claimTxg uint64, state depTrackState, onEntry func(ReplayNode, depTrackState) error) (depTrackState, error) {
	var walkErr error

	rs.Ascend(func(node ReplayNode) bool {
		if node.Header.Txg < claimTxg || alreadyReplayed(state, node.Gen, node.GenScopedID) {
			return true
		}

		next := state
		_, err := next.apply(node.Header.Txg, node.Gen, node.GenScopedID)
		if err != nil {
			walkErr = &ReplayStructuralError{Kind: ReplayErrObsolete, Node: &node}
			return false
		}

		if err := checkDependencySlots(node.Header.Dep, next, claimTxg); err != nil {
			se := err.(*ReplayStructuralError)
			se.Node = &node
			walkErr = se
			return false
		}

		if onEntry != nil {
			if err := onEntry(node, next); err != nil {
				walkErr = err
				return false
			}
		}

		state = next
		return true
	})

	return state, walkErr
}

// Claim scans the PRB's waitclaim chunks for h's log and validates
// structural completeness of the log chain, dispatching on header, the
// on-disk header state read at import time (Claim never mutates it; the
// caller persists any transition separately). h must be ALLOCED.
func (h *Handle) Claim(header OnDiskHeader, poolFirstTxg uint64, store ClaimStore) error {
	h.mu.Lock()
	if h.state != HandleAlloced {
		h.mu.Unlock()
		panic("prb: Claim: handle not in ALLOCED state")
	}

	switch header.State {
	case HeaderNozil:
		h.state = HandleDestroyed
		h.mu.Unlock()
		return nil

	case HeaderLogging:
		h.guid1, h.guid2 = header.Guid1, header.Guid2
		h.claimTxg = poolFirstTxg
		h.replayState = newDepTrackState()
		h.mu.Unlock()
		return h.claimFrom(h.prb.chunks.waitclaimChunks(), poolFirstTxg, store, false)

	case HeaderReplaying:
		h.guid1, h.guid2 = header.Guid1, header.Guid2
		rsp := header.ReplayState
		h.claimTxg = rsp.ClaimTxg
		h.replayState = stateFromSnapshot(rsp.Active, rsp.Last)
		h.mu.Unlock()
		return h.claimFrom(h.prb.chunks.waitclaimChunks(), rsp.ClaimTxg, store, true)

	default:
		h.mu.Unlock()
		panic("prb: Claim: on-disk header has unknown state")
	}
}

func (h *Handle) claimFrom(candidates []*Chunk, claimTxg uint64, store ClaimStore, resuming bool) error {
	h.mu.Lock()
	guid1, guid2 := h.guid1, h.guid2
	objsetID := h.objsetID
	replayState := h.replayState
	h.mu.Unlock()

	rs, err := collectLogEntries(candidates, guid1, guid2, objsetID, claimTxg)
	if err != nil {
		return err
	}

	touched := make(map[uint64]*Chunk)
	byID := make(map[uint64]*Chunk, len(candidates))
	for _, c := range candidates {
		byID[c.id] = c
	}

	_, walkErr := walkReplayability(rs, claimTxg, replayState, func(node ReplayNode, _ depTrackState) error {
		if c, ok := byID[node.ChunkID]; ok {
			touched[node.ChunkID] = c
		}
		needs, err := store.NeedsStoreClaim(node)
		if err != nil {
			return err
		}
		if needs {
			if resuming {
				return ErrClaimNeedsClaimingDuringReplay
			}
			if err := store.Claim(node); err != nil {
				return err
			}
		}
		h.prb.metrics.claimEntries.Inc()
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	h.mu.Lock()
	h.retainLocked(touched)
	h.state = HandleReplaying
	h.mu.Unlock()
	return nil
}

// Replay re-scans h's retained chunks and invokes cb once per entry not
// yet covered by h's persisted replay progress, in (gen, id) order. After
// each successful callback, outHeader.ReplayState is updated to reflect
// progress so the caller can persist it and make replay restartable.
func (h *Handle) Replay(outHeader *OnDiskHeader, cb ReplayCallback) error {
	h.mu.Lock()
	if h.state != HandleReplaying {
		h.mu.Unlock()
		panic("prb: Replay: handle not in REPLAYING state")
	}
	guid1, guid2, objsetID := h.guid1, h.guid2, h.objsetID
	claimTxg := h.claimTxg
	retained := make([]*Chunk, 0, len(h.retained))
	for _, c := range h.retained {
		retained = append(retained, c)
	}
	state := h.replayState
	h.mu.Unlock()

	rs, err := collectLogEntries(retained, guid1, guid2, objsetID, claimTxg)
	if err != nil {
		return err
	}

	finalState, walkErr := walkReplayability(rs, claimTxg, state, func(node ReplayNode, next depTrackState) error {
		outHeader.State = HeaderReplaying
		outHeader.Guid1, outHeader.Guid2 = guid1, guid2
		outHeader.ReplayState = &ReplayStatePhys{
			ClaimTxg: claimTxg,
			Active:   snapshotActive(next.active),
			Last:     next.last,
		}
		if err := cb(node, outHeader); err != nil {
			return &ReplayStructuralError{Kind: ReplayErrCallbackStopped, Node: &node}
		}
		h.prb.metrics.replayEntries.Inc()
		return nil
	})

	h.mu.Lock()
	h.replayState = finalState
	h.mu.Unlock()

	outHeader.State = HeaderReplaying
	outHeader.Guid1, outHeader.Guid2 = guid1, guid2
	outHeader.ReplayState = &ReplayStatePhys{
		ClaimTxg: claimTxg,
		Active:   snapshotActive(finalState.active),
		Last:     finalState.last,
	}

	return walkErr
}

// ReplayDone releases h's retained chunks, sets outHeader to NOZIL, and
// transitions h to DESTROYED.
func (h *Handle) ReplayDone(outHeader *OnDiskHeader) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HandleReplaying {
		panic("prb: ReplayDone: handle not in REPLAYING state")
	}
	h.releaseRetainedLocked()
	h.state = HandleDestroyed
	outHeader.State = HeaderNozil
	outHeader.Guid1, outHeader.Guid2 = 0, 0
	outHeader.ReplayState = nil
}
