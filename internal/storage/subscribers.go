package storage

import (
	"sync"
)

type subscriber struct {
	id   uint64
	path Path
	fn   ChangeFunc
}

// Subscribers is a registry of path subscriptions used by backends to fan
// out changes. Callbacks run on the notifying goroutine, outside any lock.
type Subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber
}

// NewSubscribers creates an empty registry.
func NewSubscribers() *Subscribers {
	return &Subscribers{subs: make(map[uint64]subscriber)}
}

// Add registers fn for path.
func (s *Subscribers) Add(path Path, fn ChangeFunc) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = subscriber{id: id, path: path, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Len returns the number of live subscriptions.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Notify delivers a document change to subscribers of the document and of its collection.
func (s *Subscribers) Notify(path Path, snap Snapshot) {
	s.mu.RLock()
	var targets []ChangeFunc
	for _, sub := range s.subs {
		if sub.path.Collection != path.Collection {
			continue
		}
		if sub.path.IsCollection() || sub.path.Key == path.Key {
			targets = append(targets, sub.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range targets {
		fn(snap)
	}
}

// Clear drops every subscription.
func (s *Subscribers) Clear() {
	s.mu.Lock()
	s.subs = make(map[uint64]subscriber)
	s.mu.Unlock()
}

// Replay delivers an initial read to fn, one snapshot per child for collections.
func Replay(snap Snapshot, fn ChangeFunc) {
	p, err := ParsePath(snap.Path)
	if err != nil {
		return
	}
	if !p.IsCollection() {
		if snap.Value != nil {
			fn(snap)
		}
		return
	}
	for key, value := range snap.Children {
		fn(Snapshot{Path: Path{Collection: p.Collection, Key: key}.String(), Value: value})
	}
}
