package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/pkg/core"
)

func TestWriteOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{
		Path: path,
		Status: func() Status {
			return Status{
				PlayerID:  "p-1",
				Position:  core.Position{X: 3, Y: 4},
				Shards:    35,
				Inventory: map[string]int{"COMMON": 1, "UNCOMMON": 1},
				Nodes:     map[string]int{"available": 2},
			}
		},
	})
	require.NoError(t, s.WriteOnce())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "p-1", got.PlayerID)
	assert.Equal(t, 35, got.Shards)
	assert.Equal(t, 1, got.Inventory["UNCOMMON"])
	assert.Equal(t, core.Position{X: 3, Y: 4}, got.Position)
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	var calls atomic.Int32
	s := NewService(Dependencies{
		Path:     path,
		Interval: 5 * time.Millisecond,
		Status: func() Status {
			return Status{Writes: int(calls.Add(1))}
		},
	})

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int(calls.Load()), got.Writes)
}
