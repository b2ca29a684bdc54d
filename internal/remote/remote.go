// Package remote simulates other players between their sparse store updates.
package remote

import (
	"sort"
	"time"

	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/pkg/core"
)

const (
	DefaultSnapThreshold = 5.0
	DefaultStaleAfter    = 5 * time.Minute
)

// Config tunes the simulation. Speed must equal the local movement speed.
type Config struct {
	Speed         float64
	SnapThreshold float64
	StaleAfter    time.Duration
}

// Snapshot is one remote player as last reported and as simulated now.
type Snapshot struct {
	ID          string
	DisplayName string
	Color       string

	Authoritative core.Position
	Target        *core.TargetPosition
	IsMoving      bool
	LastUpdated   int64     // record stamp
	ObservedAt    time.Time // local clock when the record arrived

	Simulated core.Position
}

// View holds every remote player this client knows about. It is owned by
// the event loop.
type View struct {
	cfg     Config
	selfID  string
	players map[string]*Snapshot
}

// NewView creates an empty view that ignores records for selfID.
func NewView(cfg Config, selfID string) *View {
	if cfg.SnapThreshold <= 0 {
		cfg.SnapThreshold = DefaultSnapThreshold
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &View{cfg: cfg, selfID: selfID, players: make(map[string]*Snapshot)}
}

// Apply merges a player record observed at observedAt. Records not strictly
// newer than the applied one are dropped, as are records already older than
// the staleness window. The simulated position only jumps when the record
// says the player stopped.
func (v *View) Apply(id string, rec core.PlayerRecord, observedAt time.Time) bool {
	if id == v.selfID {
		return false
	}
	s, known := v.players[id]
	if known && rec.LastUpdated <= s.LastUpdated {
		return false
	}
	if !known && observedAt.Sub(time.UnixMilli(rec.LastUpdated)) > v.cfg.StaleAfter {
		return false
	}
	if !known {
		s = &Snapshot{ID: id, Simulated: rec.Position}
		v.players[id] = s
	}

	s.DisplayName = rec.DisplayName
	s.Color = rec.Color
	s.Authoritative = rec.Position
	s.Target = rec.TargetPosition
	s.IsMoving = rec.IsMoving && rec.TargetPosition != nil
	s.LastUpdated = rec.LastUpdated
	s.ObservedAt = observedAt
	if !s.IsMoving {
		s.Target = nil
		s.Simulated = rec.Position
	}
	return true
}

// Remove drops a player, for example when its record was deleted.
func (v *View) Remove(id string) {
	delete(v.players, id)
}

// Tick advances every moving player by dt and evicts players with no update
// observed for the staleness window. It returns the evicted ids.
func (v *View) Tick(dt time.Duration, now time.Time) []string {
	var evicted []string
	for id, s := range v.players {
		if now.Sub(s.ObservedAt) > v.cfg.StaleAfter {
			delete(v.players, id)
			evicted = append(evicted, id)
			continue
		}
		v.advance(s, dt)
	}
	sort.Strings(evicted)
	return evicted
}

func (v *View) advance(s *Snapshot, dt time.Duration) {
	if !s.IsMoving || s.Target == nil {
		s.Simulated = s.Authoritative
		return
	}
	target := s.Target.Position()
	if s.Simulated.DistanceTo(target) < v.cfg.SnapThreshold {
		v.arrive(s, target)
		return
	}
	next, remaining := geo.Step(s.Simulated, target, v.cfg.Speed*dt.Seconds())
	s.Simulated = next
	if remaining < v.cfg.SnapThreshold {
		v.arrive(s, target)
	}
}

// arrive makes the target the resting position until the next record.
func (v *View) arrive(s *Snapshot, target core.Position) {
	s.Simulated = target
	s.Authoritative = target
	s.Target = nil
	s.IsMoving = false
}

// Get returns a copy of one player.
func (v *View) Get(id string) (Snapshot, bool) {
	s, ok := v.players[id]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Players returns copies of every player ordered by id.
func (v *View) Players() []Snapshot {
	out := make([]Snapshot, 0, len(v.players))
	for _, s := range v.players {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *View) Len() int {
	return len(v.players)
}
