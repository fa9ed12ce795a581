package pmem

import (
	"fmt"
	"sync/atomic"
)

var nextBase uint64

// Mem is a DRAM-backed Region, standing in for a real PMEM DAX mapping.
// Drain is a no-op beyond a memory barrier the Go runtime already provides
// around its own synchronization; what matters for this module is that
// callers issue drains in the right places, not that Mem itself enforces
// an ordering DRAM doesn't need.
type Mem struct {
	base uintptr
	buf  []byte

	// faultAt, if non-negative, makes the next ReadMCSafe covering that
	// offset return ErrMachineCheck once. Used by tests to exercise the
	// chunk-iterator's MCE handling.
	faultAt int
}

// NewMem allocates a zeroed DRAM region of size bytes, which must be a
// power of 2 and at least BlockSize.
func NewMem(size int) *Mem {
	if !IsPowerOfTwo(size) {
		panic(fmt.Sprintf("pmem: NewMem: size %d is not a power of 2", size))
	}
	if size < BlockSize {
		panic(fmt.Sprintf("pmem: NewMem: size %d smaller than block size %d", size, BlockSize))
	}
	return &Mem{
		base:    uintptr(atomic.AddUint64(&nextBase, uint64(size))),
		buf:     make([]byte, size),
		faultAt: -1,
	}
}

func (m *Mem) Base() uintptr { return m.base }
func (m *Mem) Len() int      { return len(m.buf) }

func (m *Mem) CopyNT256(off int, src []byte) {
	checkAligned("CopyNT256", off, len(src))
	if off+len(src) > len(m.buf) {
		panic("pmem: CopyNT256: out of bounds")
	}
	copy(m.buf[off:off+len(src)], src)
}

func (m *Mem) ZeroNT256(off int, n int) {
	checkAligned("ZeroNT256", off, n)
	if off+n > len(m.buf) {
		panic("pmem: ZeroNT256: out of bounds")
	}
	clear(m.buf[off : off+n])
}

func (m *Mem) Drain() {
	// Store fence equivalent: nothing to do against a Go slice backed by
	// ordinary DRAM, but kept as an explicit call so callers' ordering of
	// operations matches what a real PMEM Region implementation requires.
}

func (m *Mem) ReadMCSafe(off int, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(m.buf) {
		panic("pmem: ReadMCSafe: out of bounds")
	}
	if m.faultAt >= off && m.faultAt < off+n {
		m.faultAt = -1
		return nil, ErrMachineCheck
	}
	out := make([]byte, n)
	copy(out, m.buf[off:off+n])
	return out, nil
}

// InjectFault arranges for the next ReadMCSafe call covering byte offset
// off to return ErrMachineCheck instead of data. Test-only hook.
func (m *Mem) InjectFault(off int) {
	m.faultAt = off
}

// Bytes returns the live backing slice, for test assertions and for the
// debug CLI. Callers must not retain it across further writes without
// understanding it aliases the region.
func (m *Mem) Bytes() []byte {
	return m.buf
}
