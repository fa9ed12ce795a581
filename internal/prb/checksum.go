package prb

import "encoding/binary"

// Checksum is a Fletcher-4 checksum: four 64-bit running sums accumulated
// over the input as a stream of 32-bit little-endian words, matching the
// algorithm used throughout the rest of the ZFS stack for non-cryptographic
// integrity checks. The last word is zero-padded if the input length isn't
// a multiple of 4 bytes.
type Checksum [4]uint64

// Fletcher4 computes the Fletcher-4 checksum of data.
func Fletcher4(data []byte) Checksum {
	var a0, a1, a2, a3 uint64

	n := len(data) / 4
	for i := 0; i < n; i++ {
		word := uint64(binary.LittleEndian.Uint32(data[i*4:]))
		a0 += word
		a1 += a0
		a2 += a1
		a3 += a2
	}

	if rem := len(data) % 4; rem != 0 {
		var buf [4]byte
		copy(buf[:], data[n*4:])
		word := uint64(binary.LittleEndian.Uint32(buf[:]))
		a0 += word
		a1 += a0
		a2 += a1
		a3 += a2
	}

	return Checksum{a0, a1, a2, a3}
}

// IsZero reports whether every lane of the checksum is zero.
func (c Checksum) IsZero() bool {
	return c == Checksum{}
}

func (c Checksum) putBytes(b []byte) {
	for i, lane := range c {
		binary.LittleEndian.PutUint64(b[i*8:], lane)
	}
}

func checksumFromBytes(b []byte) Checksum {
	var c Checksum
	for i := range c {
		c[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return c
}
