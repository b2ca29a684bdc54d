package game

import (
	"math/rand/v2"
	"time"

	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/internal/resource"
)

// Bot is a headless input layer: it walks to the nearest available node,
// gathers it, and wanders when nothing is available.
type Bot struct {
	s        *Session
	rng      *rand.Rand
	cooldown time.Duration

	attempted string
	skip      map[string]time.Time // nodes not worth retrying until then
}

func NewBot(s *Session, seed uint64, cooldown time.Duration) *Bot {
	return &Bot{
		s:        s,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cooldown: cooldown,
		skip:     make(map[string]time.Time),
	}
}

// Step decides the next input. Call it once per frame after Session.Tick.
func (b *Bot) Step() {
	s := b.s
	if !s.started || s.player.IsMoving() || s.Busy() {
		return
	}
	now := s.clock()
	if b.attempted != "" {
		// whatever happened, the node is not ours to gather again right away
		b.skip[b.attempted] = now.Add(b.cooldown)
		b.attempted = ""
	}

	pos := s.player.Position()
	node, ok := s.registry.Nearest(pos, func(n *resource.Node) bool {
		return n.State() == resource.Available && !now.Before(b.skip[n.ID])
	})
	if !ok {
		b.wander()
		return
	}
	if !geo.Within(pos, node.Position, s.cfg.Game.GatherRange) {
		_ = s.SetTarget(node.Position.X, node.Position.Y)
		return
	}
	if err := s.AttemptGather(node.ID); err != nil {
		s.log.Debug("bot gather refused", "node", node.ID, "error", err)
		b.skip[node.ID] = now.Add(b.cooldown)
		return
	}
	b.attempted = node.ID
}

func (b *Bot) wander() {
	w := b.s.cfg.World
	_ = b.s.SetTarget(b.rng.Float64()*w.Width, b.rng.Float64()*w.Height)
}
