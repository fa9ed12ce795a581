package prb

import (
	"encoding/binary"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

const (
	// TxgSize is the modulus used to index a dependency tracker's counter
	// slots by txg.
	TxgSize = 4
	// TxgConcurrentStates is the maximum number of unsynced txgs the
	// enclosing filesystem guarantees at any time.
	TxgConcurrentStates = 3

	headerSize   = pmem.BlockSize // 256
	depRecordLen = 8 + TxgConcurrentStates*16
)

const (
	offObjsetID       = 0
	offGuid1          = 8
	offGuid2          = 16
	offTxg            = 24
	offGen            = 32
	offGenScopedID    = 40
	offBodyLen        = 48
	offDep            = 56
	offBodyChecksum   = offDep + depRecordLen // 112
	offHeaderChecksum = offBodyChecksum + 32  // 144
)

// TxgCount is one (txg, count) dependency-counter slot.
type TxgCount struct {
	Txg   uint64
	Count uint64
}

// DepRecord is the eh_dep causal-history record embedded in every entry
// header: the gen of the previous entry plus the TxgConcurrentStates most
// recent (txg, count) counters observed under that previous gen.
type DepRecord struct {
	LastGen  uint64
	Counters [TxgConcurrentStates]TxgCount
}

// IsFirstEntry reports whether d represents the dependency state of the
// very first entry ever written on a log: all-zero, with no distinct
// "first entry" bit anywhere in the persisted format.
func (d DepRecord) IsFirstEntry() bool {
	return d == DepRecord{}
}

func (d DepRecord) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], d.LastGen)
	off := 8
	for _, c := range d.Counters {
		binary.LittleEndian.PutUint64(b[off:], c.Txg)
		binary.LittleEndian.PutUint64(b[off+8:], c.Count)
		off += 16
	}
}

func decodeDepRecord(b []byte) DepRecord {
	var d DepRecord
	d.LastGen = binary.LittleEndian.Uint64(b[0:])
	off := 8
	for i := range d.Counters {
		d.Counters[i] = TxgCount{
			Txg:   binary.LittleEndian.Uint64(b[off:]),
			Count: binary.LittleEndian.Uint64(b[off+8:]),
		}
		off += 16
	}
	return d
}

// EntryHeader is the fixed 256 B, 256 B-aligned header that precedes every
// entry body in a chunk.
type EntryHeader struct {
	ObjsetID       uint64
	Guid1          uint64
	Guid2          uint64
	Txg            uint64
	Gen            uint64
	GenScopedID    uint64
	BodyLen        uint64
	Dep            DepRecord
	BodyChecksum   Checksum
	HeaderChecksum Checksum
}

// valid reports whether every identity/ordering field is nonzero, per the
// invariant that a zero field means the header is absent or torn.
func (h EntryHeader) valid() bool {
	return h.ObjsetID != 0 && h.Guid1 != 0 && h.Guid2 != 0 &&
		h.Txg != 0 && h.Gen != 0 && h.GenScopedID != 0 && h.BodyLen != 0
}

// encode renders h into a 256 B buffer, computing HeaderChecksum over the
// header with its own field treated as zero.
func (h EntryHeader) encode() [headerSize]byte {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[offObjsetID:], h.ObjsetID)
	binary.LittleEndian.PutUint64(buf[offGuid1:], h.Guid1)
	binary.LittleEndian.PutUint64(buf[offGuid2:], h.Guid2)
	binary.LittleEndian.PutUint64(buf[offTxg:], h.Txg)
	binary.LittleEndian.PutUint64(buf[offGen:], h.Gen)
	binary.LittleEndian.PutUint64(buf[offGenScopedID:], h.GenScopedID)
	binary.LittleEndian.PutUint64(buf[offBodyLen:], h.BodyLen)
	h.Dep.encode(buf[offDep:])
	h.BodyChecksum.putBytes(buf[offBodyChecksum:])
	// header checksum field left zero for the purpose of computing it; the
	// checksum covers the full 256 B header, including the reserved tail
	// past the last named field, not just the fields this struct names.
	hc := Fletcher4(buf[:headerSize])
	hc.putBytes(buf[offHeaderChecksum:])
	return buf
}

// decodeEntryHeader parses a 256 B buffer into an EntryHeader without
// validating its checksum (see verifyHeaderChecksum).
func decodeEntryHeader(buf []byte) EntryHeader {
	return EntryHeader{
		ObjsetID:       binary.LittleEndian.Uint64(buf[offObjsetID:]),
		Guid1:          binary.LittleEndian.Uint64(buf[offGuid1:]),
		Guid2:          binary.LittleEndian.Uint64(buf[offGuid2:]),
		Txg:            binary.LittleEndian.Uint64(buf[offTxg:]),
		Gen:            binary.LittleEndian.Uint64(buf[offGen:]),
		GenScopedID:    binary.LittleEndian.Uint64(buf[offGenScopedID:]),
		BodyLen:        binary.LittleEndian.Uint64(buf[offBodyLen:]),
		Dep:            decodeDepRecord(buf[offDep:]),
		BodyChecksum:   checksumFromBytes(buf[offBodyChecksum:]),
		HeaderChecksum: checksumFromBytes(buf[offHeaderChecksum:]),
	}
}

// verifyHeaderChecksum recomputes the Fletcher-4 checksum of the full
// 256 B header with the header-checksum field zeroed and compares it to
// the stored value.
func verifyHeaderChecksum(buf []byte) bool {
	var tmp [headerSize]byte
	copy(tmp[:], buf[:headerSize])
	clear(tmp[offHeaderChecksum : offHeaderChecksum+32])
	want := checksumFromBytes(buf[offHeaderChecksum:])
	got := Fletcher4(tmp[:])
	return got == want
}

// entrySize returns the total on-PMEM size (header + body + padding) for a
// body of the given length, rounded up to a BlockSize boundary.
func entrySize(bodyLen int) int {
	return roundUp256(headerSize + bodyLen)
}

func roundUp256(n int) int {
	return (n + pmem.BlockSize - 1) &^ (pmem.BlockSize - 1)
}
