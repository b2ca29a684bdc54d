package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/internal/storage"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

type recorder struct {
	mu    sync.Mutex
	snaps []storage.Snapshot
}

func (r *recorder) fn(s storage.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Path
	}
	return out
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Init())

	snap, err := b.Read(ctx, "players/p1")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, b.Write(ctx, "players/p1", json.RawMessage(`{"v":1}`)))
	require.NoError(t, b.Write(ctx, "players/p1", json.RawMessage(`{"v":2}`)))
	require.NoError(t, b.Write(ctx, "players/p2", json.RawMessage(`{"v":3}`)))

	snap, err = b.Read(ctx, "players/p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(snap.Value))

	snap, err = b.Read(ctx, "players")
	require.NoError(t, err)
	assert.Len(t, snap.Children, 2)
	assert.Nil(t, snap.Value)
}

func TestWrite_Rejects(t *testing.T) {
	ctx := context.Background()
	b := New()

	assert.ErrorIs(t, b.Write(ctx, "players", json.RawMessage(`{}`)), storage.ErrInvalidPath)
	assert.Error(t, b.Write(ctx, "players/p1", json.RawMessage(`{`)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, b.Write(cancelled, "players/p1", json.RawMessage(`{}`)), context.Canceled)
}

func TestSubscribe_ReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Write(ctx, "resources/r1", json.RawMessage(`1`)))

	rec := &recorder{}
	unsub, err := b.Subscribe("resources", rec.fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"resources/r1"}, rec.paths())

	require.NoError(t, b.Write(ctx, "resources/r2", json.RawMessage(`2`)))
	require.NoError(t, b.Write(ctx, "players/p1", json.RawMessage(`3`)))
	assert.Equal(t, []string{"resources/r1", "resources/r2"}, rec.paths())

	// identical rewrites are not changes
	require.NoError(t, b.Write(ctx, "resources/r2", json.RawMessage(`2`)))
	assert.Len(t, rec.paths(), 2)

	unsub()
	require.NoError(t, b.Write(ctx, "resources/r3", json.RawMessage(`4`)))
	assert.Len(t, rec.paths(), 2)
}

func TestSubscribe_Document(t *testing.T) {
	ctx := context.Background()
	b := New()

	rec := &recorder{}
	_, err := b.Subscribe("players/p1", rec.fn)
	require.NoError(t, err)
	assert.Empty(t, rec.paths())

	require.NoError(t, b.Write(ctx, "players/p2", json.RawMessage(`1`)))
	require.NoError(t, b.Write(ctx, "players/p1", json.RawMessage(`2`)))
	assert.Equal(t, []string{"players/p1"}, rec.paths())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Close())

	_, err := b.Read(ctx, "players")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Write(ctx, "players/p", json.RawMessage(`1`)), storage.ErrClosed)
	_, err = b.Subscribe("players", func(storage.Snapshot) {})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestReadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Write(ctx, "players/p1", json.RawMessage(`{"a":1}`)))

	snap, err := b.Read(ctx, "players/p1")
	require.NoError(t, err)
	snap.Value[2] = 'X'

	snap, err = b.Read(ctx, "players/p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(snap.Value))
}

func TestWrite_DeliversInApplyOrder(t *testing.T) {
	ctx := context.Background()
	b := New()

	var mu sync.Mutex
	var last string
	_, err := b.Subscribe("players/p1", func(s storage.Snapshot) {
		mu.Lock()
		last = string(s.Value)
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				value, _ := json.Marshal(map[string]int{"w": w, "i": i})
				assert.NoError(t, b.Write(ctx, "players/p1", value))
			}
		}(w)
	}
	wg.Wait()

	snap, err := b.Read(ctx, "players/p1")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(snap.Value), last, "subscriber must end on the stored value")
}

func TestWrite_FromCallbackQueuesBehindCurrentChange(t *testing.T) {
	ctx := context.Background()
	b := New()

	rec := &recorder{}
	_, err := b.Subscribe("resources", func(s storage.Snapshot) {
		rec.fn(s)
		if s.Path == "resources/r1" {
			assert.NoError(t, b.Write(ctx, "resources/r2", json.RawMessage(`2`)))
			assert.Equal(t, []string{"resources/r1"}, rec.paths())
		}
	})
	require.NoError(t, err)

	require.NoError(t, b.Write(ctx, "resources/r1", json.RawMessage(`1`)))
	assert.Equal(t, []string{"resources/r1", "resources/r2"}, rec.paths())
}
