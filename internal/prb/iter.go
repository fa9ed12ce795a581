package prb

import (
	"errors"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

// ChunkEntry is one decoded, checksum-verified entry surfaced by the
// chunk-level iterator.
type ChunkEntry struct {
	Header  EntryHeader
	Body    []byte
	ChunkID uint64
	// Offset is the byte offset of the entry's header within its chunk,
	// used as the tie-break key during claim/replay ordering.
	Offset int
}

// iterateChunk walks c from its start, emitting each structurally valid
// entry to fn, and stops at the first header that fails machine-check-safe
// reading, checksum verification, or field validation — including the
// all-zero header that naturally marks "no more entries here". Stopping on
// any error is correct: a torn or corrupted header poisons the position of
// every entry that would follow it, and the natural end-of-log header is
// itself all-zero and so fails field validation the same way.
//
// fn returning false stops iteration early without that being treated as
// an error.
func iterateChunk(c *Chunk, fn func(ChunkEntry) bool) error {
	region := c.region
	end := region.Len()
	off := 0

	for off+headerSize <= end {
		hdrBytes, err := region.ReadMCSafe(off, headerSize)
		if err != nil {
			if errors.Is(err, pmem.ErrMachineCheck) {
				return &ChunkIterError{Kind: IterErrMCE, Offset: off}
			}
			return err
		}

		if !verifyHeaderChecksum(hdrBytes) {
			return &ChunkIterError{Kind: IterErrHdrChecksum, Offset: off}
		}

		hdr := decodeEntryHeader(hdrBytes)
		if hdr.Guid1 == 0 || hdr.Guid2 == 0 {
			return &ChunkIterError{Kind: IterErrInvalidLogGUID, Offset: off}
		}
		if hdr.BodyLen == 0 {
			return &ChunkIterError{Kind: IterErrInvalidLen, Offset: off}
		}
		bodyLen := int(hdr.BodyLen)
		if off+headerSize+bodyLen > end {
			return &ChunkIterError{Kind: IterErrBodyOutOfBounds, Offset: off}
		}

		body, err := region.ReadMCSafe(off+headerSize, bodyLen)
		if err != nil {
			if errors.Is(err, pmem.ErrMachineCheck) {
				return &ChunkIterError{Kind: IterErrMCE, Offset: off + headerSize}
			}
			return err
		}

		entry := ChunkEntry{Header: hdr, Body: body, ChunkID: c.id, Offset: off}
		if !fn(entry) {
			return nil
		}

		off += roundUp256(headerSize + bodyLen)
	}

	return nil
}
