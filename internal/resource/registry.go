package resource

import (
	"time"

	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/pkg/core"
)

// Registry is the client's set of nodes with spatial lookup. Nodes never
// move, so the index is built once.
type Registry struct {
	nodes []*Node
	byID  map[string]*Node
	index *geo.Index
}

// NewRegistry indexes nodes. A node whose id is already present is dropped.
func NewRegistry(nodes []*Node) *Registry {
	r := &Registry{byID: make(map[string]*Node, len(nodes))}
	points := make([]core.Position, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := r.byID[n.ID]; dup {
			continue
		}
		r.byID[n.ID] = n
		r.nodes = append(r.nodes, n)
		points = append(points, n.Position)
	}
	r.index = geo.NewIndex(points)
	return r
}

func (r *Registry) Len() int {
	return len(r.nodes)
}

func (r *Registry) Get(id string) (*Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// All returns the nodes in load order. The slice must not be modified.
func (r *Registry) All() []*Node {
	return r.nodes
}

// Nearest returns the node closest to pos that filter accepts (nil accepts all).
func (r *Registry) Nearest(pos core.Position, filter func(*Node) bool) (*Node, bool) {
	id, ok := r.index.Nearest(pos, func(i int) bool {
		return filter == nil || filter(r.nodes[i])
	})
	if !ok {
		return nil, false
	}
	return r.nodes[id], true
}

// InRange returns every node within radius of pos.
func (r *Registry) InRange(pos core.Position, radius float64) []*Node {
	ids := r.index.Within(pos, radius)
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.nodes[id])
	}
	return out
}

// Update advances every refill timer and returns the nodes that refilled.
func (r *Registry) Update(dt time.Duration) []*Node {
	var refilled []*Node
	for _, n := range r.nodes {
		if n.Update(dt) {
			refilled = append(refilled, n)
		}
	}
	return refilled
}

// Counts returns how many nodes are in each state.
func (r *Registry) Counts() map[State]int {
	counts := map[State]int{Available: 0, BeingGathered: 0, Depleted: 0}
	for _, n := range r.nodes {
		counts[n.state]++
	}
	return counts
}
