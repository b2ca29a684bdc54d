// Package memory is an in-process storage backend: a map per collection with
// last-write-wins writes and synchronous change fan-out.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shardfall/shardfall/internal/storage"
)

type change struct {
	path storage.Path
	snap storage.Snapshot
}

// Backend keeps every document in memory. Changes reach subscribers in the
// order writes were applied; one writer at a time drains the pending list, so
// a callback that writes again queues behind the change it is handling.
type Backend struct {
	mu         sync.RWMutex
	docs       map[string]map[string]json.RawMessage // collection -> key -> value
	subs       *storage.Subscribers
	closed     bool
	pending    []change
	delivering bool
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{
		docs: make(map[string]map[string]json.RawMessage),
		subs: storage.NewSubscribers(),
	}
}

// Init is a no-op.
func (b *Backend) Init() error {
	return nil
}

// Close drops all subscriptions. Later calls fail with storage.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.subs.Clear()
	return nil
}

// Read returns the document or, for collection paths, every child.
func (b *Backend) Read(ctx context.Context, path string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	p, err := storage.ParsePath(path)
	if err != nil {
		return storage.Snapshot{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.Snapshot{}, storage.ErrClosed
	}
	return b.snapshotLocked(p), nil
}

func (b *Backend) snapshotLocked(p storage.Path) storage.Snapshot {
	snap := storage.Snapshot{Path: p.String()}
	coll := b.docs[p.Collection]
	if p.IsCollection() {
		if len(coll) > 0 {
			snap.Children = make(map[string]json.RawMessage, len(coll))
			for k, v := range coll {
				snap.Children[k] = clone(v)
			}
		}
		return snap
	}
	if v, ok := coll[p.Key]; ok {
		snap.Value = clone(v)
	}
	return snap
}

// Write replaces the document at path and notifies subscribers.
func (b *Backend) Write(ctx context.Context, path string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := storage.ParsePath(path)
	if err != nil {
		return err
	}
	if p.IsCollection() {
		return storage.ErrInvalidPath
	}
	if !json.Valid(value) {
		return fmt.Errorf("write %s: value is not valid JSON", path)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return storage.ErrClosed
	}
	coll, ok := b.docs[p.Collection]
	if !ok {
		coll = make(map[string]json.RawMessage)
		b.docs[p.Collection] = coll
	}
	if prev, ok := coll[p.Key]; ok && bytes.Equal(prev, value) {
		b.mu.Unlock()
		return nil
	}
	coll[p.Key] = clone(value)
	b.pending = append(b.pending, change{path: p, snap: storage.Snapshot{Path: p.String(), Value: clone(value)}})
	if b.delivering {
		b.mu.Unlock()
		return nil
	}
	b.delivering = true
	b.mu.Unlock()

	b.deliver()
	return nil
}

// deliver notifies pending changes in order until none are left.
func (b *Backend) deliver() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.pending = nil
			b.delivering = false
			b.mu.Unlock()
			return
		}
		next := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		b.subs.Notify(next.path, next.snap)
	}
}

// Subscribe replays the current state to fn before returning, then streams changes.
func (b *Backend) Subscribe(path string, fn storage.ChangeFunc) (storage.Unsubscribe, error) {
	p, err := storage.ParsePath(path)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	initial := b.snapshotLocked(p)
	unsub := b.subs.Add(p, fn)
	b.mu.RUnlock()

	storage.Replay(initial, fn)
	return unsub, nil
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
