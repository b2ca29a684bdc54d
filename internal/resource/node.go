// Package resource holds the harvestable nodes of the world and their
// gather/refill state machine.
package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/shardfall/shardfall/pkg/core"
)

// State is the lifecycle state of a node. Exactly one holds at a time.
type State int

const (
	Available State = iota
	BeingGathered
	Depleted
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case BeingGathered:
		return "being_gathered"
	case Depleted:
		return "depleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotAvailable is returned when claiming a node that is not Available.
	ErrNotAvailable = errors.New("resource not available")
	// ErrNotClaimant is returned when gather progress comes from someone other than the claimant.
	ErrNotClaimant = errors.New("not the claimant of this resource")
)

// Node is one harvestable resource. It is owned by the event loop and is not
// safe for concurrent use.
type Node struct {
	ID       string
	Position core.Position
	Rarity   core.Rarity

	state        State
	claimantID   string
	claimantName string

	gatherElapsed time.Duration // BeingGathered only
	refillElapsed time.Duration // Depleted only

	// newest record applied, for ordering remote updates
	lastUpdated  int64
	lastClaimant string
}

// NewNode creates an Available node with its deterministic id.
func NewNode(pos core.Position, rarity core.Rarity) *Node {
	return &Node{
		ID:       core.ResourceID(pos, rarity),
		Position: pos,
		Rarity:   rarity,
	}
}

func (n *Node) State() State {
	return n.state
}

// Claimant returns who holds the node while it is BeingGathered.
func (n *Node) Claimant() (id, name string) {
	return n.claimantID, n.claimantName
}

func (n *Node) GatherElapsed() time.Duration {
	return n.gatherElapsed
}

func (n *Node) RefillElapsed() time.Duration {
	return n.refillElapsed
}

// GatherProgress is gatherElapsed as a fraction of the gather duration.
func (n *Node) GatherProgress() float64 {
	if n.state != BeingGathered {
		return 0
	}
	return float64(n.gatherElapsed) / float64(n.Rarity.GatherDuration())
}

// RefillProgress is refillElapsed as a fraction of the refill duration.
func (n *Node) RefillProgress() float64 {
	if n.state != Depleted {
		return 0
	}
	return float64(n.refillElapsed) / float64(n.Rarity.RefillDuration())
}

// LastUpdated is the timestamp of the newest record applied to the node.
func (n *Node) LastUpdated() int64 {
	return n.lastUpdated
}

// Claim moves an Available node to BeingGathered for the given player.
func (n *Node) Claim(playerID, playerName string) error {
	if n.state != Available {
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, n.ID, n.state)
	}
	n.setGathered(playerID, playerName)
	return nil
}

// ObserveClaim records that someone holds the node, whatever state it was in.
func (n *Node) ObserveClaim(playerID, playerName string) {
	n.setGathered(playerID, playerName)
}

func (n *Node) setGathered(playerID, playerName string) {
	n.state = BeingGathered
	n.claimantID = playerID
	n.claimantName = playerName
	n.gatherElapsed = 0
	n.refillElapsed = 0
}

// Release makes the node Available and clears the claimant.
func (n *Node) Release() {
	n.state = Available
	n.claimantID = ""
	n.claimantName = ""
	n.gatherElapsed = 0
	n.refillElapsed = 0
}

// Deplete marks the node empty with elapsed refill time already spent. A
// refill that has already elapsed leaves the node Available.
func (n *Node) Deplete(elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= n.Rarity.RefillDuration() {
		n.Release()
		return
	}
	n.state = Depleted
	n.claimantID = ""
	n.claimantName = ""
	n.gatherElapsed = 0
	n.refillElapsed = elapsed
}

// Advance adds dt of gather progress for playerID. When the gather duration
// is reached the node becomes Depleted and completed is true.
func (n *Node) Advance(playerID string, dt time.Duration) (completed bool, err error) {
	if n.state != BeingGathered || n.claimantID != playerID {
		return false, fmt.Errorf("%w: %s", ErrNotClaimant, n.ID)
	}
	n.gatherElapsed += dt
	if n.gatherElapsed < n.Rarity.GatherDuration() {
		return false, nil
	}
	n.Deplete(0)
	return true, nil
}

// Update advances the refill timer and reports whether the node became Available.
func (n *Node) Update(dt time.Duration) (refilled bool) {
	if n.state != Depleted {
		return false
	}
	n.refillElapsed += dt
	if n.refillElapsed < n.Rarity.RefillDuration() {
		return false
	}
	n.Release()
	return true
}

// AcceptRecord decides whether a store record stamped ts by claimant is newer
// than what the node has already applied, and remembers it if so. Records
// with equal stamps are ordered by claimant id so every client picks the same
// one; an echo of the applied record is rejected.
func (n *Node) AcceptRecord(ts int64, claimant string) bool {
	switch {
	case ts > n.lastUpdated:
	case ts == n.lastUpdated && claimant > n.lastClaimant:
	default:
		return false
	}
	n.lastUpdated = ts
	n.lastClaimant = claimant
	return true
}
