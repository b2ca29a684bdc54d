// Package storage defines the shared key-value store every client reads,
// writes and subscribes to, plus the helpers its backends share.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a backend after Close.
	ErrClosed = errors.New("storage closed")
	// ErrInvalidPath is returned for paths that are not "collection" or "collection/key".
	ErrInvalidPath = errors.New("invalid path")
	// ErrDisconnected is returned by remote backends while the link is down.
	ErrDisconnected = errors.New("storage disconnected")
)

// Snapshot is the value at a path at the time it was read or changed.
type Snapshot struct {
	Path     string
	Value    json.RawMessage            // nil when nothing is stored at Path
	Children map[string]json.RawMessage // direct children when Path is a collection
}

// Exists reports whether the snapshot carries any data.
func (s Snapshot) Exists() bool {
	return s.Value != nil || len(s.Children) > 0
}

// Key returns the last segment of the path.
func (s Snapshot) Key() string {
	if i := strings.LastIndexByte(s.Path, '/'); i >= 0 {
		return s.Path[i+1:]
	}
	return s.Path
}

// ChangeFunc receives snapshots for a subscription. Collection subscriptions
// receive one snapshot per changed child, with Path set to the child path.
type ChangeFunc func(Snapshot)

// Unsubscribe cancels a subscription. It is safe to call more than once.
type Unsubscribe func()

// Backend is the interface all store implementations must satisfy.
// Writes are last-write-wins per path; there are no transactions.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	Read(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, value json.RawMessage) error
	// Subscribe delivers the current value(s) at path and then every change.
	Subscribe(path string, fn ChangeFunc) (Unsubscribe, error)
}

// Path is a parsed store path.
type Path struct {
	Collection string
	Key        string // empty for collection paths
}

// ParsePath splits "collection" or "collection/key".
func ParsePath(p string) (Path, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return Path{Collection: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return Path{Collection: parts[0], Key: parts[1]}, nil
	default:
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
}

// IsCollection reports whether the path names a whole collection.
func (p Path) IsCollection() bool {
	return p.Key == ""
}

func (p Path) String() string {
	if p.Key == "" {
		return p.Collection
	}
	return p.Collection + "/" + p.Key
}
