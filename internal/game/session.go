// Package game wires the local player, the resource registry, the gather
// coordinator, the remote view and the publisher into one session that runs
// on the event loop.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shardfall/shardfall/internal/config"
	"github.com/shardfall/shardfall/internal/gather"
	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/internal/loop"
	"github.com/shardfall/shardfall/internal/monitor"
	"github.com/shardfall/shardfall/internal/player"
	"github.com/shardfall/shardfall/internal/publish"
	"github.com/shardfall/shardfall/internal/remote"
	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/pkg/core"
)

// PickRadius is how far from a node a GatherAt point may land and still pick it.
const PickRadius = 32.0

// statusEvery throttles how often Tick refreshes the published status.
const statusEvery = 250 * time.Millisecond

var (
	ErrNoNode     = errors.New("no resource at that point")
	ErrNotStarted = errors.New("session not started")
)

// PlayerCounter is implemented by event sinks that also track how many remote
// players are visible.
type PlayerCounter interface {
	RemotePlayers(playerID string, n int)
}

type Config struct {
	Game    config.GameConfig
	World   config.WorldConfig
	Publish config.PublishConfig
	Timeout time.Duration  // per store call
	Spawn   *core.Position // nil spawns at the world center
}

type Dependencies struct {
	Store    storage.Backend
	Loop     loop.Executor
	Identity player.Identity
	Events   gather.Events
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Session must be driven from the loop, except for Start, Status and
// RemoteCount.
type Session struct {
	cfg    Config
	store  storage.Backend
	exec   loop.Executor
	events gather.Events
	clock  func() time.Time
	log    *slog.Logger

	identity player.Identity
	player   *player.Local
	registry *resource.Registry
	coord    *gather.Coordinator
	view     *remote.View
	pub      *publish.Publisher

	source  WorldSource
	unsubs  []storage.Unsubscribe
	started bool
	notice  string

	remoteCount atomic.Int64
	status      atomic.Pointer[monitor.Status]
	lastStatus  time.Time
}

func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Store == nil || deps.Loop == nil {
		return nil, fmt.Errorf("game: store and loop are required")
	}
	if deps.Identity.ID == "" {
		return nil, fmt.Errorf("game: identity has no id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if deps.Events == nil {
		deps.Events = gather.NopEvents{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		store:    deps.Store,
		exec:     deps.Loop,
		events:   deps.Events,
		clock:    deps.Clock,
		log:      deps.Logger.With("component", "session"),
		identity: deps.Identity,
		view: remote.NewView(remote.Config{
			Speed:         cfg.Game.MoveSpeed,
			SnapThreshold: cfg.Game.SnapThreshold,
			StaleAfter:    cfg.Game.StaleAfter,
		}, deps.Identity.ID),
	}, nil
}

// Start loads the world, subscribes to the store and publishes the player.
// It does blocking store I/O, so call it before the loop runs or off it.
// Store failures degrade the session instead of failing it.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	w := s.loadWorld(ctx)
	s.source = w.source
	s.registry = resource.NewRegistry(w.nodes)

	spawn := core.Position{X: s.cfg.World.Width / 2, Y: s.cfg.World.Height / 2}
	if s.cfg.Spawn != nil {
		spawn = *s.cfg.Spawn
	}
	s.player = player.New(s.identity, spawn, s.cfg.Game.MoveSpeed)

	var err error
	s.coord, err = gather.New(gather.Config{
		GatherRange: s.cfg.Game.GatherRange,
		ClaimGrace:  s.cfg.Game.ClaimGrace,
		Timeout:     s.cfg.Timeout,
	}, gather.Dependencies{
		Store:    s.store,
		Runner:   s.exec,
		Registry: s.registry,
		Player:   s.player,
		Events:   s.events,
		Clock:    s.clock,
		Logger:   s.log,
	})
	if err != nil {
		return err
	}
	s.pub, err = publish.New(publish.Config{
		Interval:  s.cfg.Publish.Interval,
		Heartbeat: s.cfg.Publish.Heartbeat,
		Timeout:   s.cfg.Timeout,
	}, s.store, s.exec, s.player, s.clock, s.log)
	if err != nil {
		return err
	}

	for id, rec := range w.records {
		s.coord.ApplyRecord(id, rec)
	}
	if w.seed {
		if err := s.seedWorld(ctx); err != nil {
			s.log.Warn("seeding resources failed", "error", err)
		}
	}
	s.started = true

	s.subscribe(core.PlayersCollection, s.onPlayer)
	s.subscribe(core.ResourcesCollection, s.onResource)
	s.pub.Publish()
	s.refreshStatus(s.clock())

	s.log.Info("session started",
		"player", s.identity.ID,
		"name", s.identity.DisplayName,
		"world", string(s.source),
		"nodes", s.registry.Len(),
	)
	return nil
}

// subscribe hands every change to fn on the loop. A failed subscription
// leaves the session running on local state.
func (s *Session) subscribe(path string, fn func(storage.Snapshot)) {
	unsub, err := s.store.Subscribe(path, func(snap storage.Snapshot) {
		s.exec.Post(func() { fn(snap) })
	})
	if err != nil {
		s.log.Warn("subscribe failed", "path", path, "error", err)
		return
	}
	s.unsubs = append(s.unsubs, unsub)
}

func (s *Session) onPlayer(snap storage.Snapshot) {
	id := snap.Key()
	if snap.Value == nil {
		s.view.Remove(id)
		s.countRemotes()
		return
	}
	rec, err := core.DecodePlayerRecord(snap.Value)
	if err != nil {
		s.log.Debug("dropping player record", "player", id, "error", err)
		return
	}
	if s.view.Apply(id, rec, s.clock()) {
		s.countRemotes()
	}
}

func (s *Session) onResource(snap storage.Snapshot) {
	if snap.Value == nil {
		return
	}
	id := snap.Key()
	rec, err := core.DecodeResourceRecord(snap.Value)
	if err != nil {
		s.log.Warn("dropping resource record", "node", id, "error", err)
		return
	}
	s.coord.ApplyRecord(id, rec)
}

func (s *Session) countRemotes() {
	n := s.view.Len()
	if s.remoteCount.Swap(int64(n)) == int64(n) {
		return
	}
	if c, ok := s.events.(PlayerCounter); ok {
		c.RemotePlayers(s.identity.ID, n)
	}
}

// Tick advances the session by one frame.
func (s *Session) Tick(dt time.Duration) {
	if !s.started {
		return
	}
	now := s.clock()
	s.coord.OnRefilled(s.registry.Update(dt))
	s.coord.Update(dt)
	if s.player.Update(dt) {
		s.pub.OnArrived()
	}
	if evicted := s.view.Tick(dt, now); len(evicted) > 0 {
		s.log.Debug("evicted stale players", "players", evicted)
		s.countRemotes()
	}
	s.pub.Tick()
	if now.Sub(s.lastStatus) >= statusEvery {
		s.refreshStatus(now)
	}
}

// SetTarget moves the player toward (x, y), abandoning any gather.
func (s *Session) SetTarget(x, y float64) error {
	if !s.started {
		return ErrNotStarted
	}
	s.coord.Abandon()
	s.player.MoveTo(core.Position{X: x, Y: y}, s.clock())
	s.pub.OnTargetSet()
	s.notice = ""
	return nil
}

// AttemptGather starts a claim on nodeID. The outcome arrives later on the
// loop and shows up in View.
func (s *Session) AttemptGather(nodeID string) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := s.coord.BeginGather(nodeID, s.onCheck); err != nil {
		s.notice = s.describe(nodeID, err)
		return err
	}
	s.notice = ""
	return nil
}

// GatherAt attempts the nearest node within PickRadius of (x, y).
func (s *Session) GatherAt(x, y float64) error {
	if !s.started {
		return ErrNotStarted
	}
	at := core.Position{X: x, Y: y}
	node, ok := s.registry.Nearest(at, func(n *resource.Node) bool {
		return geo.Within(at, n.Position, PickRadius)
	})
	if !ok {
		return fmt.Errorf("%w: (%.0f, %.0f)", ErrNoNode, x, y)
	}
	return s.AttemptGather(node.ID)
}

func (s *Session) onCheck(res gather.CheckResult, err error) {
	switch {
	case errors.Is(err, gather.ErrAbandoned):
	case err != nil:
		s.log.Warn("claim failed", "error", err)
	case res.Depleted:
		s.notice = "That resource is depleted"
	case !res.Claimed():
		s.notice = fmt.Sprintf("Already being gathered by %s", res.RejectedByName)
	}
}

func (s *Session) describe(nodeID string, err error) string {
	switch {
	case errors.Is(err, gather.ErrOutOfRange):
		return "Too far away to gather"
	case errors.Is(err, gather.ErrMoving):
		return "Stop moving to gather"
	case errors.Is(err, gather.ErrBusy):
		return "Already gathering"
	case errors.Is(err, resource.ErrNotAvailable):
		if node, ok := s.registry.Get(nodeID); ok && node.State() == resource.BeingGathered {
			_, name := node.Claimant()
			return fmt.Sprintf("Already being gathered by %s", name)
		}
		return "That resource is depleted"
	default:
		return err.Error()
	}
}

// Stop releases any claim and unsubscribes. Writes it starts still go
// through the loop's runner.
func (s *Session) Stop() {
	if !s.started {
		return
	}
	s.coord.Abandon()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.started = false
	s.log.Info("session stopped", "shards", s.player.ShardTotal())
}

// Player exposes the local player for input layers.
func (s *Session) Player() *player.Local { return s.player }

// Registry exposes the node registry for input layers.
func (s *Session) Registry() *resource.Registry { return s.registry }

// Source reports where the world layout came from.
func (s *Session) Source() WorldSource { return s.source }

// Busy reports whether a claim is in flight or a gather is running.
func (s *Session) Busy() bool {
	return s.coord.Pending() != "" || s.coord.Active() != nil
}

// RemoteCount is safe to call from any goroutine.
func (s *Session) RemoteCount() int64 {
	return s.remoteCount.Load()
}
