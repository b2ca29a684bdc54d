package game

import (
	"sort"
	"time"

	"github.com/shardfall/shardfall/internal/monitor"
	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/pkg/core"
)

// NodeView is one node as a renderer draws it.
type NodeView struct {
	ID       string
	Position core.Position
	Rarity   core.Rarity
	State    resource.State
	Claimant string  // display name while someone gathers it
	Progress float64 // gather progress while being gathered, refill progress while depleted
}

// PlayerView is a player as a renderer draws it.
type PlayerView struct {
	ID          string
	DisplayName string
	Color       string
	Position    core.Position
	Moving      bool
}

// View is everything a renderer needs for one frame.
type View struct {
	Self           PlayerView
	Target         *core.TargetPosition
	Gathering      string
	GatherProgress float64
	Inventory      map[core.Rarity]int
	Shards         int
	Nodes          []NodeView
	Remotes        []PlayerView
	Notice         string // last user-facing message, such as who holds a node
}

// View snapshots the session for rendering.
func (s *Session) View() View {
	if !s.started {
		return View{}
	}
	v := View{
		Self: PlayerView{
			ID:          s.player.ID(),
			DisplayName: s.player.DisplayName(),
			Color:       s.player.Color(),
			Position:    s.player.Position(),
			Moving:      s.player.IsMoving(),
		},
		Target:    s.player.Target(),
		Gathering: s.player.GatheringNode(),
		Inventory: s.player.Inventory(),
		Shards:    s.player.ShardTotal(),
		Notice:    s.notice,
	}
	if active := s.coord.Active(); active != nil {
		v.GatherProgress = active.GatherProgress()
	}

	nodes := s.registry.All()
	v.Nodes = make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		nv := NodeView{ID: n.ID, Position: n.Position, Rarity: n.Rarity, State: n.State()}
		switch nv.State {
		case resource.BeingGathered:
			_, nv.Claimant = n.Claimant()
			nv.Progress = n.GatherProgress()
		case resource.Depleted:
			nv.Progress = n.RefillProgress()
		}
		v.Nodes = append(v.Nodes, nv)
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].ID < v.Nodes[j].ID })

	for _, p := range s.view.Players() {
		v.Remotes = append(v.Remotes, PlayerView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Color:       p.Color,
			Position:    p.Simulated,
			Moving:      p.IsMoving,
		})
	}
	return v
}

// Status returns the last status snapshot. Safe from any goroutine.
func (s *Session) Status() monitor.Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return monitor.Status{PlayerID: s.identity.ID, DisplayName: s.identity.DisplayName}
}

func (s *Session) refreshStatus(now time.Time) {
	s.lastStatus = now
	inv := make(map[string]int)
	for r, n := range s.player.Inventory() {
		inv[r.String()] = n
	}
	nodes := make(map[string]int)
	for state, n := range s.registry.Counts() {
		nodes[state.String()] = n
	}
	s.status.Store(&monitor.Status{
		Time:          now,
		PlayerID:      s.identity.ID,
		DisplayName:   s.identity.DisplayName,
		Position:      s.player.Position(),
		Moving:        s.player.IsMoving(),
		Gathering:     s.player.GatheringNode(),
		Shards:        s.player.ShardTotal(),
		Inventory:     inv,
		RemotePlayers: s.view.Len(),
		Nodes:         nodes,
		Writes:        s.pub.Writes(),
	})
}
