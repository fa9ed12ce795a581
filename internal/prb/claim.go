package prb

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

// ReplayNode is one collected entry, ordered by (gen, gen_scoped_id) with
// (chunk id, offset) standing in for a physical PMEM pointer as a final
// tie-break that can never actually fire given gen/id monotonicity, but is
// required for a total order over the B-tree's key.
type ReplayNode struct {
	Gen         uint64
	GenScopedID uint64
	ChunkID     uint64
	Offset      int
	Header      EntryHeader
	Body        []byte
}

func lessReplayNode(a, b ReplayNode) bool {
	if a.Gen != b.Gen {
		return a.Gen < b.Gen
	}
	if a.GenScopedID != b.GenScopedID {
		return a.GenScopedID < b.GenScopedID
	}
	if a.ChunkID != b.ChunkID {
		return a.ChunkID < b.ChunkID
	}
	return a.Offset < b.Offset
}

// ReplaySet is the ordered collection of one log's entries built during
// claim, sorted by (gen, id, pmem_ptr) in a github.com/google/btree.BTreeG.
type ReplaySet struct {
	tree *btree.BTreeG[ReplayNode]
}

func newReplaySet() *ReplaySet {
	return &ReplaySet{tree: btree.NewG(32, lessReplayNode)}
}

// Len returns the number of collected entries.
func (rs *ReplaySet) Len() int { return rs.tree.Len() }

// Ascend walks the set in (gen, id) order, stopping early if fn returns
// false.
func (rs *ReplaySet) Ascend(fn func(ReplayNode) bool) {
	rs.tree.Ascend(func(n ReplayNode) bool { return fn(n) })
}

// collectLogEntries scans every chunk in chunks, keeping only entries
// matching (guid1, guid2, objsetID) with txg >= claimTxg, and inserts them
// into a ReplaySet ordered by (gen, id, pmem_ptr). A duplicate (gen, id)
// pair is a fatal structural error (ErrDuplicateGenID), since it means two
// distinct on-PMEM entries claim the same position in the log's total
// order — a state that honest writers can never produce.
//
// Chunk-iterator errors (torn/corrupt headers, MCE) are not propagated as
// failures: they simply end that chunk's contribution at the offending
// offset.
func collectLogEntries(chunks []*Chunk, guid1, guid2, objsetID, claimTxg uint64) (*ReplaySet, error) {
	rs := newReplaySet()
	seen := make(map[[2]uint64]bool)
	var duplicate bool

	for _, c := range chunks {
		err := iterateChunk(c, func(e ChunkEntry) bool {
			if e.Header.Guid1 != guid1 || e.Header.Guid2 != guid2 || e.Header.ObjsetID != objsetID {
				return true
			}
			if e.Header.Txg < claimTxg {
				return true
			}
			key := [2]uint64{e.Header.Gen, e.Header.GenScopedID}
			if seen[key] {
				duplicate = true
				return true
			}
			seen[key] = true
			rs.tree.ReplaceOrInsert(ReplayNode{
				Gen:         e.Header.Gen,
				GenScopedID: e.Header.GenScopedID,
				ChunkID:     e.ChunkID,
				Offset:      e.Offset,
				Header:      e.Header,
				Body:        e.Body,
			})
			return true
		})
		var iterErr *ChunkIterError
		if err != nil && !errors.As(err, &iterErr) {
			return nil, fmt.Errorf("prb: claim: chunk %d: %w", c.id, err)
		}
	}

	if duplicate {
		return nil, ErrDuplicateGenID
	}

	return rs, nil
}
