package prb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

func TestNewChunk_PanicsOnBadRegion(t *testing.T) {
	assert.Panics(t, func() { NewChunk(pmem.NewMem(768)) }, "768 is not a power of 2")
	assert.Panics(t, func() { NewChunk(pmem.NewMem(256)) }, "below two header slots")
	assert.NotPanics(t, func() { NewChunk(pmem.NewMem(512)) })
}

func TestChunk_IDsAreUniqueAndStable(t *testing.T) {
	a := NewChunk(pmem.NewMem(512))
	b := NewChunk(pmem.NewMem(512))
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.ID(), a.ID())
}

func TestChunk_ResetZeroesFirstBlockAndCursor(t *testing.T) {
	mem := pmem.NewMem(1024)
	c := NewChunk(mem)
	c.cur = 512
	c.maxTxg = 42
	mem.CopyNT256(0, bytesOf(0xFF, 256))

	c.reset()

	assert.Equal(t, 0, c.cur)
	assert.Equal(t, uint64(0), c.maxTxg)
	got, err := mem.ReadMCSafe(0, 256)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 256), got)
}

func TestChunk_Refcount(t *testing.T) {
	c := NewChunk(pmem.NewMem(512))
	assert.Equal(t, int32(0), c.refcountValue())
	c.bumpRefcount()
	c.bumpRefcount()
	assert.Equal(t, int32(2), c.refcountValue())
	assert.False(t, c.dropRefcount())
	assert.True(t, c.dropRefcount())
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
