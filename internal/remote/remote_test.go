package remote

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/pkg/core"
)

var t0 = time.UnixMilli(10_000_000)

func moving(from, to core.Position, stamp time.Time) core.PlayerRecord {
	return core.PlayerRecord{
		Position:       from,
		TargetPosition: &core.TargetPosition{X: to.X, Y: to.Y, Timestamp: core.Millis(stamp)},
		IsMoving:       true,
		DisplayName:    "Bob",
		Color:          "#00f",
		LastUpdated:    core.Millis(stamp),
	}
}

func resting(at core.Position, stamp time.Time) core.PlayerRecord {
	return core.PlayerRecord{Position: at, DisplayName: "Bob", Color: "#00f", LastUpdated: core.Millis(stamp)}
}

func TestApply_IgnoresSelfAndOlderRecords(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	assert.False(t, v.Apply("me", resting(core.Position{}, t0), t0))
	assert.Equal(t, 0, v.Len())

	require.True(t, v.Apply("bob", resting(core.Position{X: 1}, t0), t0))
	assert.False(t, v.Apply("bob", resting(core.Position{X: 2}, t0), t0), "same stamp")
	assert.False(t, v.Apply("bob", resting(core.Position{X: 3}, t0.Add(-time.Second)), t0), "older stamp")

	s, ok := v.Get("bob")
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Authoritative.X)
	assert.Equal(t, "Bob", s.DisplayName)
}

func TestApply_DropsRecordsStaleOnArrival(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	old := t0.Add(-6 * time.Minute)
	assert.False(t, v.Apply("ghost", resting(core.Position{}, old), t0))
	assert.Equal(t, 0, v.Len())
}

func TestTick_ConvergesWithoutOvershoot(t *testing.T) {
	tests := []struct {
		distance float64
		speed    float64
	}{
		{distance: 20, speed: 10},
		{distance: 23, speed: 10},
		{distance: 100, speed: 7},
		{distance: 4, speed: 10},
	}

	for _, tt := range tests {
		v := NewView(Config{Speed: tt.speed}, "me")
		target := core.Position{X: tt.distance * 0.6, Y: tt.distance * 0.8}
		require.True(t, v.Apply("bob", moving(core.Position{}, target, t0), t0))

		limit := int(math.Ceil(tt.distance / tt.speed))
		prev := tt.distance
		arrivedAt := -1
		for sec := 1; sec <= limit+2; sec++ {
			v.Tick(time.Second, t0.Add(time.Duration(sec)*time.Second))
			s, _ := v.Get("bob")
			left := s.Simulated.DistanceTo(target)
			assert.LessOrEqual(t, left, prev+1e-9, "moved away from target")
			assert.LessOrEqual(t, s.Simulated.DistanceTo(core.Position{}), tt.distance+1e-9, "overshot")
			prev = left
			if !s.IsMoving && arrivedAt < 0 {
				arrivedAt = sec
				assert.Equal(t, target, s.Simulated)
			}
			if s.IsMoving {
				assert.GreaterOrEqual(t, left, DefaultSnapThreshold, "still moving inside snap threshold")
			}
		}
		assert.Positive(t, arrivedAt, "never arrived, d=%v", tt.distance)
		assert.LessOrEqual(t, arrivedAt, limit, "d=%v s=%v", tt.distance, tt.speed)
	}
}

func TestTick_ExactStepCount(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	target := core.Position{X: 30}
	require.True(t, v.Apply("bob", moving(core.Position{}, target, t0), t0))

	for sec := 1; sec <= 2; sec++ {
		v.Tick(time.Second, t0)
		s, _ := v.Get("bob")
		assert.True(t, s.IsMoving, "stopped early at %ds", sec)
	}
	v.Tick(time.Second, t0)
	s, _ := v.Get("bob")
	assert.False(t, s.IsMoving)
	assert.Equal(t, target, s.Simulated)
}

func TestTick_StaysAtTargetAfterArrival(t *testing.T) {
	v := NewView(Config{Speed: 100}, "me")
	target := core.Position{X: 200}
	require.True(t, v.Apply("bob", moving(core.Position{}, target, t0), t0))

	for sec := 1; sec <= 5; sec++ {
		v.Tick(time.Second, t0.Add(time.Duration(sec)*time.Second))
	}
	s, _ := v.Get("bob")
	assert.False(t, s.IsMoving)
	assert.Nil(t, s.Target)
	assert.Equal(t, target, s.Simulated)
	assert.Equal(t, target, s.Authoritative)

	// a late heartbeat carrying a mid-path position still wins
	require.True(t, v.Apply("bob", resting(core.Position{X: 150}, t0.Add(6*time.Second)), t0.Add(6*time.Second)))
	s, _ = v.Get("bob")
	assert.Equal(t, core.Position{X: 150}, s.Simulated)
}

func TestApply_NewTargetKeepsSimulatedPosition(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	require.True(t, v.Apply("bob", moving(core.Position{}, core.Position{X: 100}, t0), t0))
	v.Tick(time.Second, t0)
	v.Tick(time.Second, t0)

	// the owner reports an authoritative position far from our simulation
	rec := moving(core.Position{X: 50}, core.Position{X: 100, Y: 50}, t0.Add(time.Second))
	require.True(t, v.Apply("bob", rec, t0.Add(time.Second)))
	s, _ := v.Get("bob")
	assert.InDelta(t, 20, s.Simulated.X, 1e-9)
	assert.Equal(t, 50.0, s.Authoritative.X)
	assert.True(t, s.IsMoving)
}

func TestApply_StopSnapsToAuthoritative(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	require.True(t, v.Apply("bob", moving(core.Position{}, core.Position{X: 100}, t0), t0))
	v.Tick(time.Second, t0)

	require.True(t, v.Apply("bob", resting(core.Position{X: 42, Y: 7}, t0.Add(time.Second)), t0.Add(time.Second)))
	s, _ := v.Get("bob")
	assert.Equal(t, core.Position{X: 42, Y: 7}, s.Simulated)
	assert.False(t, s.IsMoving)
	assert.Nil(t, s.Target)

	v.Tick(time.Second, t0.Add(2*time.Second))
	s, _ = v.Get("bob")
	assert.Equal(t, core.Position{X: 42, Y: 7}, s.Simulated)
}

func TestTick_EvictsStalePlayers(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	require.True(t, v.Apply("bob", resting(core.Position{}, t0), t0))
	require.True(t, v.Apply("eve", resting(core.Position{}, t0), t0.Add(time.Minute)))

	assert.Empty(t, v.Tick(time.Second, t0.Add(5*time.Minute)))
	assert.Equal(t, []string{"bob"}, v.Tick(time.Second, t0.Add(5*time.Minute+time.Millisecond)))
	assert.Equal(t, 1, v.Len())

	players := v.Players()
	require.Len(t, players, 1)
	assert.Equal(t, "eve", players[0].ID)
}

func TestRemove(t *testing.T) {
	v := NewView(Config{Speed: 10}, "me")
	v.Apply("bob", resting(core.Position{}, t0), t0)
	v.Remove("bob")
	_, ok := v.Get("bob")
	assert.False(t, ok)
}
