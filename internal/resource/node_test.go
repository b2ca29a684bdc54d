package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/pkg/core"
)

func TestNewNode_DeterministicID(t *testing.T) {
	n := NewNode(core.Position{X: 10.4, Y: 19.6}, core.Rare)
	assert.Equal(t, "res_10_20_2", n.ID)
	assert.Equal(t, Available, n.State())
}

func TestNode_ClaimOnlyWhenAvailable(t *testing.T) {
	n := NewNode(core.Position{}, core.Common)
	require.NoError(t, n.Claim("p1", "Ann"))
	assert.Equal(t, BeingGathered, n.State())

	id, name := n.Claimant()
	assert.Equal(t, "p1", id)
	assert.Equal(t, "Ann", name)

	err := n.Claim("p2", "Bob")
	assert.ErrorIs(t, err, ErrNotAvailable)
	id, _ = n.Claimant()
	assert.Equal(t, "p1", id)
}

func TestNode_AdvanceRequiresClaimant(t *testing.T) {
	n := NewNode(core.Position{}, core.Uncommon)
	_, err := n.Advance("p1", time.Second)
	assert.ErrorIs(t, err, ErrNotClaimant)

	n.ObserveClaim("p2", "Bob")
	_, err = n.Advance("p1", time.Second)
	assert.ErrorIs(t, err, ErrNotClaimant)
	assert.Zero(t, n.GatherElapsed())
}

func TestNode_FullCycle(t *testing.T) {
	n := NewNode(core.Position{}, core.Common)
	require.NoError(t, n.Claim("p1", "Ann"))

	done, err := n.Advance("p1", 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done)
	assert.InDelta(t, 0.5, n.GatherProgress(), 1e-9)

	done, err = n.Advance("p1", 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, Depleted, n.State())
	id, _ := n.Claimant()
	assert.Empty(t, id)
	assert.Zero(t, n.GatherElapsed())

	for i := 0; i < 9; i++ {
		assert.False(t, n.Update(time.Second), "refilled early at %ds", i+1)
	}
	assert.True(t, n.Update(time.Second))
	assert.Equal(t, Available, n.State())
	assert.Zero(t, n.RefillElapsed())
}

func TestNode_UpdateIgnoredOutsideDepleted(t *testing.T) {
	n := NewNode(core.Position{}, core.Common)
	assert.False(t, n.Update(time.Hour))
	n.ObserveClaim("p1", "Ann")
	assert.False(t, n.Update(time.Hour))
	assert.Equal(t, BeingGathered, n.State())
}

func TestNode_ReleaseClearsClaim(t *testing.T) {
	n := NewNode(core.Position{}, core.Epic)
	require.NoError(t, n.Claim("p1", "Ann"))
	_, _ = n.Advance("p1", time.Second)
	n.Release()

	assert.Equal(t, Available, n.State())
	assert.Zero(t, n.GatherElapsed())
	id, name := n.Claimant()
	assert.Empty(t, id)
	assert.Empty(t, name)
}

func TestNode_DepleteWithElapsedRefill(t *testing.T) {
	n := NewNode(core.Position{}, core.Common)
	n.Deplete(4 * time.Second)
	assert.Equal(t, Depleted, n.State())
	assert.Equal(t, 4*time.Second, n.RefillElapsed())
	assert.InDelta(t, 0.4, n.RefillProgress(), 1e-9)

	n.Deplete(10 * time.Second)
	assert.Equal(t, Available, n.State())
}

func TestNode_AcceptRecordOrdering(t *testing.T) {
	n := NewNode(core.Position{}, core.Common)

	assert.True(t, n.AcceptRecord(100, "a"))
	assert.False(t, n.AcceptRecord(100, "a"), "echo")
	assert.False(t, n.AcceptRecord(99, "z"), "older")
	assert.True(t, n.AcceptRecord(100, "b"), "tie broken by claimant")
	assert.False(t, n.AcceptRecord(100, "a"))
	assert.True(t, n.AcceptRecord(101, ""))
	assert.Equal(t, int64(101), n.LastUpdated())
}

// every reachable state keeps exactly one state and only its own timer
func TestNode_TimersOnlyInTheirState(t *testing.T) {
	n := NewNode(core.Position{}, core.Rare)
	check := func() {
		t.Helper()
		switch n.State() {
		case Available:
			assert.Zero(t, n.GatherElapsed())
			assert.Zero(t, n.RefillElapsed())
		case BeingGathered:
			assert.Zero(t, n.RefillElapsed())
			assert.LessOrEqual(t, n.GatherElapsed(), n.Rarity.GatherDuration())
		case Depleted:
			assert.Zero(t, n.GatherElapsed())
			assert.LessOrEqual(t, n.RefillElapsed(), n.Rarity.RefillDuration())
		}
	}

	check()
	require.NoError(t, n.Claim("p", "P"))
	check()
	for i := 0; i < 4; i++ {
		_, _ = n.Advance("p", time.Second)
		check()
	}
	for i := 0; i < 60; i++ {
		n.Update(time.Second)
		check()
	}
	n.ObserveClaim("q", "Q")
	check()
	n.Deplete(time.Second)
	check()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "being_gathered", BeingGathered.String())
	assert.Equal(t, "state(7)", State(7).String())
}
