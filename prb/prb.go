// Package prb is the public facade over the PRB core implemented in
// internal/prb: a persistent-memory-backed ZIL ring buffer. It re-exports
// the internal package's API surface under a stable import path.
package prb

import (
	internal "github.com/openzfs/zfs-sub013/internal/prb"
	"github.com/openzfs/zfs-sub013/internal/pmem"
)

type (
	// PRB is the process-wide container owning chunks, committers and
	// log handles.
	PRB = internal.PRB
	// Handle binds an objset_id to a dependency-tracker state.
	Handle = internal.Handle
	// Chunk is a registered PMEM region under PRB management.
	Chunk = internal.Chunk
	// EntryHeader is the 256 B on-PMEM entry header.
	EntryHeader = internal.EntryHeader
	// DepRecord is the eh_dep causal-history record.
	DepRecord = internal.DepRecord
	// TxgCount is one (txg, count) dependency counter slot.
	TxgCount = internal.TxgCount
	// OnDiskHeader is the fixed header slot persisted by the enclosing
	// filesystem.
	OnDiskHeader = internal.OnDiskHeader
	// ReplayStatePhys is the persisted replay-progress record.
	ReplayStatePhys = internal.ReplayStatePhys
	// ReplayNode is one collected, ordered log entry.
	ReplayNode = internal.ReplayNode
	// ReplayCallback is invoked once per entry during Replay.
	ReplayCallback = internal.ReplayCallback
	// ClaimStore is the external space-accounting collaborator consulted
	// during Claim.
	ClaimStore = internal.ClaimStore
	// WriteStats reports timing/sizing detail for a WriteEntry call.
	WriteStats = internal.WriteStats
	// HandleState is a log handle's lifecycle state.
	HandleState = internal.HandleState
	// HeaderState is the on-disk header's state tag.
	HeaderState = internal.HeaderState
	// Option configures a PRB at construction time.
	Option = internal.Option
	// ChunkIterError reports why a chunk iterator stopped.
	ChunkIterError = internal.ChunkIterError
	// ChunkEntry is one decoded, checksum-verified entry surfaced by the
	// chunk-level iterator.
	ChunkEntry = internal.ChunkEntry
	// ReplayStructuralError reports a gap or impossible state found
	// during the replayability walk.
	ReplayStructuralError = internal.ReplayStructuralError
)

const (
	HeaderNozil     = internal.HeaderNozil
	HeaderReplaying = internal.HeaderReplaying
	HeaderLogging   = internal.HeaderLogging

	HandleAlloced   = internal.HandleAlloced
	HandleLogging   = internal.HandleLogging
	HandleReplaying = internal.HandleReplaying
	HandleDestroyed = internal.HandleDestroyed
	HandleFreed     = internal.HandleFreed
)

var (
	ErrWriteObsolete                  = internal.ErrWriteObsolete
	ErrWriteWouldSleep                = internal.ErrWriteWouldSleep
	ErrClaimNeedsClaimingDuringReplay = internal.ErrClaimNeedsClaimingDuringReplay
	ErrDuplicateGenID                 = internal.ErrDuplicateGenID
)

var (
	// New allocates a PRB with the given options.
	New = internal.New

	// WithCommitters sets the number of committer slots.
	WithCommitters = internal.WithCommitters
	// WithLogger sets the structured logger.
	WithLogger = internal.WithLogger
	// WithMetricsRegisterer sets the Prometheus registerer.
	WithMetricsRegisterer = internal.WithMetricsRegisterer

	// Fletcher4 computes the Fletcher-4 checksum of data.
	Fletcher4 = internal.Fletcher4

	// NewChunk wraps a Region as a Chunk without mutating its contents, for
	// read-only introspection of an existing image.
	NewChunk = internal.NewChunk
	// IterateChunk walks a chunk from its start, yielding each structurally
	// valid entry to fn.
	IterateChunk = internal.IterateChunk
)

// Region is the PMEM abstraction a Chunk is built over; re-exported here
// so callers constructing chunks don't need to import internal/pmem
// directly.
type Region = pmem.Region

// NewMem allocates a DRAM-backed Region standing in for a real PMEM DAX
// mapping, for tests and for environments without real persistent memory.
func NewMem(size int) *pmem.Mem { return pmem.NewMem(size) }
