// Package pmem abstracts the byte-addressable persistent memory operations
// the PRB core needs: 256 B-granularity non-temporal stores, an explicit
// drain/fence, and machine-check-safe loads. It does not attempt to model
// real persistent memory hardware; Mem is a DRAM-backed stand-in that
// preserves the call sequence a real implementation (e.g. one built on
// libpmem or a raw mmap of a DAX device) would require.
package pmem

import (
	"errors"
	"fmt"
)

// BlockSize is the PMEM store/zero granularity and header alignment unit.
const BlockSize = 256

// ErrMachineCheck is returned by ReadMCSafe when a load would have raised a
// machine check exception against a real NVDIMM (simulated via Mem's fault
// injection hooks).
var ErrMachineCheck = errors.New("pmem: machine check exception on load")

// Region is a contiguous, 256 B-aligned, power-of-2-sized span of
// persistent memory. Implementations must provide exactly these four
// operations; everything else the PRB core does against a region is
// ordinary DRAM-style slicing over bytes already read into Go memory.
type Region interface {
	// Base is the starting address-equivalent handle of this region. It is
	// opaque outside of equality comparison and log messages.
	Base() uintptr
	// Len is the region's total size in bytes.
	Len() int

	// CopyNT256 writes src to region offset off using non-temporal stores,
	// without draining. off and len(src) must both be multiples of
	// BlockSize, and off+len(src) must not exceed Len().
	CopyNT256(off int, src []byte)
	// ZeroNT256 zeroes n bytes at region offset off using non-temporal
	// stores, without draining. off and n must both be multiples of
	// BlockSize.
	ZeroNT256(off int, n int)
	// Drain issues a store fence, making all prior CopyNT256/ZeroNT256
	// calls to this region globally visible and durable.
	Drain()
	// ReadMCSafe reads n bytes at region offset off. It returns
	// ErrMachineCheck if the read would have raised a machine check
	// exception on real hardware.
	ReadMCSafe(off int, n int) ([]byte, error)
}

func checkAligned(name string, off, n int) {
	if off < 0 || n < 0 {
		panic(fmt.Sprintf("pmem: %s: negative offset or length", name))
	}
	if off%BlockSize != 0 {
		panic(fmt.Sprintf("pmem: %s: offset %d not %d-byte aligned", name, off, BlockSize))
	}
	if n%BlockSize != 0 {
		panic(fmt.Sprintf("pmem: %s: length %d not %d-byte aligned", name, n, BlockSize))
	}
}

// IsPowerOfTwo reports whether n is a positive power of 2.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
