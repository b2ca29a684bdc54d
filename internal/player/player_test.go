package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/pkg/core"
)

func testPlayer() *Local {
	return New(Identity{ID: "p1", DisplayName: "Ann", Color: "#fff"}, core.Position{}, 10)
}

func TestLocal_MoveAndArrive(t *testing.T) {
	p := testPlayer()
	at := time.UnixMilli(5000)
	target := p.MoveTo(core.Position{X: 25, Y: 0}, at)
	assert.Equal(t, int64(5000), target.Timestamp)
	assert.True(t, p.IsMoving())
	require.NotNil(t, p.Target())

	assert.False(t, p.Update(time.Second))
	assert.InDelta(t, 10.0, p.Position().X, 1e-9)
	assert.False(t, p.Update(time.Second))
	assert.True(t, p.Update(time.Second))
	assert.Equal(t, core.Position{X: 25, Y: 0}, p.Position())
	assert.False(t, p.IsMoving())
	assert.Nil(t, p.Target())

	assert.False(t, p.Update(time.Second))
}

func TestLocal_MovingAndGatheringExclusive(t *testing.T) {
	p := testPlayer()
	p.MoveTo(core.Position{X: 1}, time.Now())
	assert.ErrorIs(t, p.StartGathering("n1"), ErrMoving)

	p.Update(time.Second)
	require.NoError(t, p.StartGathering("n1"))
	assert.True(t, p.IsGathering())
	assert.ErrorIs(t, p.StartGathering("n2"), ErrGathering)

	p.MoveTo(core.Position{X: 5}, time.Now())
	assert.False(t, p.IsGathering())
	assert.Empty(t, p.GatheringNode())
}

func TestLocal_Inventory(t *testing.T) {
	p := testPlayer()
	p.AddToInventory(core.Common, 2)
	p.AddToInventory(core.Epic, 1)

	inv := p.Inventory()
	inv[core.Common] = 99
	assert.Equal(t, 2, p.Count(core.Common))
	assert.Equal(t, 120, p.ShardTotal())
}

func TestLocal_Record(t *testing.T) {
	p := testPlayer()
	now := time.UnixMilli(1234)
	rec := p.Record(now)
	assert.False(t, rec.IsMoving)
	assert.Nil(t, rec.TargetPosition)
	assert.Equal(t, int64(1234), rec.LastUpdated)
	assert.Equal(t, "Ann", rec.DisplayName)

	p.MoveTo(core.Position{X: 3, Y: 4}, now)
	rec = p.Record(now)
	assert.True(t, rec.IsMoving)
	require.NotNil(t, rec.TargetPosition)
	assert.Equal(t, 3.0, rec.TargetPosition.X)
}
