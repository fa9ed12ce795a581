package prb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzfs/zfs-sub013/internal/pmem"
)

// acceptAllStore is a ClaimStore that never needs an entry claimed, used by
// every test that isn't specifically exercising space-accounting claim
// behavior.
type acceptAllStore struct{}

func (acceptAllStore) NeedsStoreClaim(ReplayNode) (bool, error) { return false, nil }
func (acceptAllStore) Claim(ReplayNode) error                   { return nil }

// TestClaimReplay_SingleWriteSingleReplay is scenario S1.
func TestClaimReplay_SingleWriteSingleReplay(t *testing.T) {
	region := pmem.NewMem(4096)

	p1 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p1.AddChunkForWrite(region)
	h1 := p1.SetupObjset(7)
	var hdr OnDiskHeader
	require.True(t, h1.CreateLogIfNotExists(&hdr))
	require.NoError(t, h1.WriteEntry(context.Background(), 3, false, bytesOf(0xAA, 17)))

	// Simulate a crash: drop all in-DRAM state, keep PMEM + hdr.
	p2 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p2.AddChunkForClaim(region)
	h2 := p2.SetupObjset(7)

	require.NoError(t, h2.Claim(hdr, 1, acceptAllStore{}))
	assert.Equal(t, HandleReplaying, h2.State())

	var calls int
	var lastBody []byte
	err := h2.Replay(&hdr, func(e ReplayNode, out *OnDiskHeader) error {
		calls++
		lastBody = e.Body
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, bytesOf(0xAA, 17), lastBody)

	h2.ReplayDone(&hdr)
	assert.Equal(t, HeaderNozil, hdr.State)
	assert.Equal(t, HandleDestroyed, h2.State())
}

// TestClaimReplay_MissingEntryDetected is scenario S3's second half: after
// A(new_gen=false) then B(new_gen=true), zeroing A's header makes replay
// return MissingEntries at B.
func TestClaimReplay_MissingEntryDetected(t *testing.T) {
	region := pmem.NewMem(4096)

	p1 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p1.AddChunkForWrite(region)
	h1 := p1.SetupObjset(7)
	var hdr OnDiskHeader
	require.True(t, h1.CreateLogIfNotExists(&hdr))
	require.NoError(t, h1.WriteEntry(context.Background(), 3, false, []byte{1})) // A
	require.NoError(t, h1.WriteEntry(context.Background(), 3, true, []byte{2}))  // B, new gen

	// Destroy A by zeroing its header in place.
	region.ZeroNT256(0, 256)
	region.Drain()

	p2 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p2.AddChunkForClaim(region)
	h2 := p2.SetupObjset(7)
	require.NoError(t, h2.Claim(hdr, 1, acceptAllStore{}))

	err := h2.Replay(&hdr, func(ReplayNode, *OnDiskHeader) error { return nil })
	var structErr *ReplayStructuralError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, ReplayErrMissingEntries, structErr.Kind)
}

// TestClaimReplay_CrashBetweenPhase1AndPhase2 is the claim/replay half of
// scenario S6: a partially written entry (header never published) delivers
// zero replay callbacks.
func TestClaimReplay_CrashBetweenPhase1AndPhase2(t *testing.T) {
	region := pmem.NewMem(4096)

	p1 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p1.AddChunkForWrite(region)
	h1 := p1.SetupObjset(7)
	var hdr OnDiskHeader
	require.True(t, h1.CreateLogIfNotExists(&hdr))
	require.NoError(t, h1.WriteEntry(context.Background(), 1, false, bytesOf(0x55, 1024)))

	region.ZeroNT256(0, 256)
	region.Drain()

	p2 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p2.AddChunkForClaim(region)
	h2 := p2.SetupObjset(7)
	require.NoError(t, h2.Claim(hdr, 1, acceptAllStore{}))

	var calls int
	err := h2.Replay(&hdr, func(ReplayNode, *OnDiskHeader) error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestClaimReplay_NeedsClaimingDuringReplayBlocksResume(t *testing.T) {
	region := pmem.NewMem(4096)

	p1 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p1.AddChunkForWrite(region)
	h1 := p1.SetupObjset(7)
	var hdr OnDiskHeader
	require.True(t, h1.CreateLogIfNotExists(&hdr))
	require.NoError(t, h1.WriteEntry(context.Background(), 3, false, []byte{1}))

	hdr.State = HeaderReplaying
	hdr.ReplayState = &ReplayStatePhys{ClaimTxg: 1}

	p2 := New(WithCommitters(2), WithMetricsRegisterer(nil))
	p2.AddChunkForClaim(region)
	h2 := p2.SetupObjset(7)

	needsClaim := claimStoreFunc{
		needsClaim: func(ReplayNode) (bool, error) { return true, nil },
		claim:      func(ReplayNode) error { return nil },
	}
	err := h2.Claim(hdr, 1, needsClaim)
	assert.ErrorIs(t, err, ErrClaimNeedsClaimingDuringReplay)
}

type claimStoreFunc struct {
	needsClaim func(ReplayNode) (bool, error)
	claim      func(ReplayNode) error
}

func (c claimStoreFunc) NeedsStoreClaim(n ReplayNode) (bool, error) { return c.needsClaim(n) }
func (c claimStoreFunc) Claim(n ReplayNode) error                   { return c.claim(n) }
