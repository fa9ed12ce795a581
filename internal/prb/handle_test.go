package prb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

func TestCreateLogIfNotExists_FirstCallTransitionsToLogging(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	h := p.SetupObjset(1)

	var hdr OnDiskHeader
	ok := h.CreateLogIfNotExists(&hdr)
	assert.True(t, ok)
	assert.Equal(t, HeaderLogging, hdr.State)
	assert.NotZero(t, hdr.Guid1)
	assert.NotZero(t, hdr.Guid2)
	assert.Equal(t, HandleLogging, h.State())
}

func TestCreateLogIfNotExists_SecondCallIsNoOp(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	h := p.SetupObjset(1)

	var hdr1, hdr2 OnDiskHeader
	require.True(t, h.CreateLogIfNotExists(&hdr1))
	ok := h.CreateLogIfNotExists(&hdr2)

	assert.False(t, ok)
	assert.Equal(t, hdr1.Guid1, hdr2.Guid1)
	assert.Equal(t, hdr1.Guid2, hdr2.Guid2)
}

func TestDestroyLog_TransitionsToDestroyedAndNozil(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	h := p.SetupObjset(1)
	var hdr OnDiskHeader
	require.True(t, h.CreateLogIfNotExists(&hdr))

	h.DestroyLog(&hdr)
	assert.Equal(t, HeaderNozil, hdr.State)
	assert.Equal(t, HandleDestroyed, h.State())
	assert.Zero(t, hdr.Guid1)
}

func TestDestroyLog_PanicsWhenAlreadyFreed(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	h := p.SetupObjset(1)
	p.TeardownObjset(h, false)

	var hdr OnDiskHeader
	assert.Panics(t, func() { h.DestroyLog(&hdr) })
}

func TestSetupObjset_PanicsOnDuplicate(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	p.SetupObjset(1)
	assert.Panics(t, func() { p.SetupObjset(1) })
}

func TestSetupObjset_PanicsOnZeroObjsetID(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	assert.Panics(t, func() { p.SetupObjset(0) })
}

func TestTeardownObjset_AllowsReSetup(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	h := p.SetupObjset(1)
	p.TeardownObjset(h, false)

	assert.NotPanics(t, func() { p.SetupObjset(1) })
}

func TestPRB_FreePanicsWithLiveHandles(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	p.SetupObjset(1)
	assert.Panics(t, func() { p.Free(false) })
}

func TestPRB_FreeReturnsRegionsWhenRequested(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	region := pmem.NewMem(512)
	p.AddChunkForWrite(region)

	regions := p.Free(true)
	require.Len(t, regions, 1)
	assert.Equal(t, region, regions[0])
}

func TestPRB_FreeWithoutChunksReturnsNil(t *testing.T) {
	p := New(WithCommitters(1), WithMetricsRegisterer(nil))
	assert.Nil(t, p.Free(false))
}

func TestNew_PanicsWithoutCommitters(t *testing.T) {
	assert.Panics(t, func() { New(WithMetricsRegisterer(nil)) })
}
