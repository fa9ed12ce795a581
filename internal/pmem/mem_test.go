package pmem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMem_PanicsOnBadSize(t *testing.T) {
	assert.Panics(t, func() { NewMem(100) })  // not a power of 2
	assert.Panics(t, func() { NewMem(128) })  // power of 2 but < BlockSize
	assert.NotPanics(t, func() { NewMem(BlockSize) })
}

func TestMem_CopyAndReadRoundtrip(t *testing.T) {
	m := NewMem(1024)
	data := make([]byte, BlockSize)
	for i := range data {
		data[i] = byte(i)
	}

	m.CopyNT256(256, data)
	got, err := m.ReadMCSafe(256, BlockSize)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMem_ZeroNT256(t *testing.T) {
	m := NewMem(1024)
	m.CopyNT256(0, make([]byte, BlockSize))
	one := make([]byte, BlockSize)
	for i := range one {
		one[i] = 0xFF
	}
	m.CopyNT256(0, one)

	m.ZeroNT256(0, BlockSize)
	got, err := m.ReadMCSafe(0, BlockSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, BlockSize), got)
}

func TestMem_UnalignedAccessPanics(t *testing.T) {
	m := NewMem(1024)
	assert.Panics(t, func() { m.CopyNT256(1, make([]byte, BlockSize)) })
	assert.Panics(t, func() { m.CopyNT256(0, make([]byte, 1)) })
	assert.Panics(t, func() { m.ZeroNT256(0, 1) })
}

func TestMem_OutOfBoundsPanics(t *testing.T) {
	m := NewMem(BlockSize)
	assert.Panics(t, func() { m.CopyNT256(BlockSize, make([]byte, BlockSize)) })
	assert.Panics(t, func() { _, _ = m.ReadMCSafe(0, BlockSize+1) })
}

func TestMem_InjectFault(t *testing.T) {
	m := NewMem(1024)
	m.CopyNT256(256, make([]byte, BlockSize))

	m.InjectFault(300)
	_, err := m.ReadMCSafe(256, BlockSize)
	assert.True(t, errors.Is(err, ErrMachineCheck))

	// fault fires once
	_, err = m.ReadMCSafe(256, BlockSize)
	assert.NoError(t, err)
}

func TestMem_BaseDistinctAcrossInstances(t *testing.T) {
	a := NewMem(BlockSize)
	b := NewMem(BlockSize)
	assert.NotEqual(t, a.Base(), b.Base())
}

func TestIsPowerOfTwo(t *testing.T) {
	cases := map[int]bool{
		0: false, 1: true, 2: true, 3: false, 4: true, 255: false, 256: true,
	}
	for n, want := range cases {
		assert.Equal(t, want, IsPowerOfTwo(n), "n=%d", n)
	}
}
