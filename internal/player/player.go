// Package player models the locally controlled player.
package player

import (
	"errors"
	"time"

	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/pkg/core"
)

var (
	// ErrMoving is returned when gathering is started while the player moves.
	ErrMoving = errors.New("player is moving")
	// ErrGathering is returned when gathering is started twice.
	ErrGathering = errors.New("player is already gathering")
)

// Local is the player driven by this client's input. A target exists exactly
// while the player is moving, and moving and gathering never overlap.
type Local struct {
	identity Identity
	speed    float64 // world units per second

	position  core.Position
	target    *core.TargetPosition
	gathering string // node id, empty when idle
	inventory map[core.Rarity]int
}

// New places a player with the given identity at start.
func New(identity Identity, start core.Position, speed float64) *Local {
	return &Local{
		identity:  identity,
		speed:     speed,
		position:  start,
		inventory: make(map[core.Rarity]int),
	}
}

func (p *Local) ID() string          { return p.identity.ID }
func (p *Local) DisplayName() string { return p.identity.DisplayName }
func (p *Local) Color() string       { return p.identity.Color }

func (p *Local) Position() core.Position {
	return p.position
}

// Target returns the current movement target, nil when standing still.
func (p *Local) Target() *core.TargetPosition {
	if p.target == nil {
		return nil
	}
	t := *p.target
	return &t
}

func (p *Local) IsMoving() bool {
	return p.target != nil
}

func (p *Local) IsGathering() bool {
	return p.gathering != ""
}

// GatheringNode returns the id of the node being gathered, or "".
func (p *Local) GatheringNode() string {
	return p.gathering
}

// MoveTo sets a new movement target stamped at and stops any gathering.
func (p *Local) MoveTo(dest core.Position, at time.Time) core.TargetPosition {
	p.gathering = ""
	t := core.TargetPosition{X: dest.X, Y: dest.Y, Timestamp: core.Millis(at)}
	p.target = &t
	return t
}

// StartGathering marks the player as gathering nodeID.
func (p *Local) StartGathering(nodeID string) error {
	if p.IsMoving() {
		return ErrMoving
	}
	if p.gathering != "" && p.gathering != nodeID {
		return ErrGathering
	}
	p.gathering = nodeID
	return nil
}

func (p *Local) StopGathering() {
	p.gathering = ""
}

// Update moves the player toward its target and reports whether it arrived
// during this step.
func (p *Local) Update(dt time.Duration) (arrived bool) {
	if p.target == nil {
		return false
	}
	next, remaining := geo.Step(p.position, p.target.Position(), p.speed*dt.Seconds())
	p.position = next
	if remaining > 0 {
		return false
	}
	p.target = nil
	return true
}

// AddToInventory adds n units of the given tier.
func (p *Local) AddToInventory(r core.Rarity, n int) {
	p.inventory[r] += n
}

// Count returns the units held of one tier.
func (p *Local) Count(r core.Rarity) int {
	return p.inventory[r]
}

// Inventory returns a copy of the per-tier counts.
func (p *Local) Inventory() map[core.Rarity]int {
	out := make(map[core.Rarity]int, len(p.inventory))
	for r, n := range p.inventory {
		out[r] = n
	}
	return out
}

// ShardTotal is the summed shard value of everything held.
func (p *Local) ShardTotal() int {
	total := 0
	for r, n := range p.inventory {
		total += r.ShardValue() * n
	}
	return total
}

// Record builds the store record describing the player at now.
func (p *Local) Record(now time.Time) core.PlayerRecord {
	return core.PlayerRecord{
		Position:       p.position,
		TargetPosition: p.Target(),
		IsMoving:       p.IsMoving(),
		DisplayName:    p.identity.DisplayName,
		Color:          p.identity.Color,
		LastUpdated:    core.Millis(now),
	}
}
