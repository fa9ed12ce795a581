// Package zfssub013 is the module root for a persistent-memory-backed ZIL
// (ZFS Intent Log) ring buffer (PRB).
//
// The PRB durably records synchronous write intents directly in
// byte-addressable persistent memory, survives power failure without
// relying on block-device atomicity, and on pool import reconstructs the
// exact set of log entries that must be replayed to restore file-system
// consistency. It is built from six components: a chunk store (C1)
// owning lifecycle-state lists over registered PMEM regions, a bounded
// pool of committer slots (C2) gating concurrent writers, an append
// engine (C3) laying out entries with a two-phase crash-consistent store
// order, a dependency tracker (C4) assigning (gen, id) pairs and deriving
// each entry's causal-history record, a claim/traversal planner (C5)
// that groups and orders post-crash chunk contents into a replay set,
// and a replay driver and header state machine (C6) that walks that set
// and maintains the on-disk header.
//
// Package internal/prb implements the core; package prb is the stable
// public facade over it; package internal/pmem abstracts the PMEM
// store/zero/read primitives the core is built on; cmd/prbctl is a
// debug CLI for inspecting chunk images outside a running pool.
package zfssub013
