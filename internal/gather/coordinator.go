// Package gather runs the optimistic claim protocol for the local player:
// check the shared record, claim, gather, then deplete or release, and
// reconcile against whatever the store reports afterwards.
package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shardfall/shardfall/internal/geo"
	"github.com/shardfall/shardfall/internal/loop"
	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/pkg/core"
)

var (
	ErrOutOfRange  = errors.New("resource out of gather range")
	ErrBusy        = errors.New("already gathering or claiming")
	ErrMoving      = errors.New("cannot gather while moving")
	ErrUnknownNode = errors.New("unknown resource")
	// ErrAbandoned is passed to a BeginGather callback whose claim was
	// abandoned before the check came back.
	ErrAbandoned = errors.New("claim abandoned")
)

// Store is the part of the shared store the coordinator talks to.
type Store interface {
	Read(ctx context.Context, path string) (storage.Snapshot, error)
	Write(ctx context.Context, path string, value json.RawMessage) error
}

// Gatherer is the local player as seen by the coordinator.
type Gatherer interface {
	ID() string
	DisplayName() string
	Position() core.Position
	IsMoving() bool
	StartGathering(nodeID string) error
	StopGathering()
	AddToInventory(r core.Rarity, n int)
}

// Events receives notable protocol outcomes, for telemetry.
type Events interface {
	GatherCompleted(playerID string, node *resource.Node)
	ClaimRejected(playerID string, node *resource.Node, by string)
	ClaimLost(playerID string, node *resource.Node, to string)
}

// NopEvents ignores everything.
type NopEvents struct{}

func (NopEvents) GatherCompleted(string, *resource.Node)       {}
func (NopEvents) ClaimRejected(string, *resource.Node, string) {}
func (NopEvents) ClaimLost(string, *resource.Node, string)     {}

// Config tunes the protocol.
type Config struct {
	GatherRange float64
	ClaimGrace  time.Duration // added to the gather duration before a foreign claim expires
	Timeout     time.Duration // per store call
}

// Dependencies are the collaborators of a Coordinator.
type Dependencies struct {
	Store    Store
	Runner   loop.Runner
	Registry *resource.Registry
	Player   Gatherer
	Events   Events
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Coordinator must only be used from the event loop; store calls run through
// the Runner and their results come back on the loop.
type Coordinator struct {
	cfg      Config
	store    Store
	runner   loop.Runner
	registry *resource.Registry
	player   Gatherer
	events   Events
	clock    func() time.Time
	log      *slog.Logger

	pending string // node with a check in flight
	seq     uint64 // bumped whenever a pending check is invalidated
	active  *resource.Node

	// nodes this client depleted; it writes them back when they refill
	refills map[string]struct{}
}

// New validates deps and builds a coordinator.
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Store == nil || deps.Runner == nil || deps.Registry == nil || deps.Player == nil {
		return nil, fmt.Errorf("gather: store, runner, registry and player are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if deps.Events == nil {
		deps.Events = NopEvents{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    deps.Store,
		runner:   deps.Runner,
		registry: deps.Registry,
		player:   deps.Player,
		events:   deps.Events,
		clock:    deps.Clock,
		log:      deps.Logger.With("component", "gather"),
		refills:  make(map[string]struct{}),
	}, nil
}

// Active returns the node being gathered, if any.
func (c *Coordinator) Active() *resource.Node {
	return c.active
}

// Pending returns the id of the node whose claim check is in flight, or "".
func (c *Coordinator) Pending() string {
	return c.pending
}

// Check reads the node's record and evaluates a claim against it. A store
// failure or an undecodable record lets the claim through. Safe to call off
// the loop.
func (c *Coordinator) Check(ctx context.Context, nodeID string) CheckResult {
	now := c.clock()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	snap, err := c.store.Read(ctx, core.ResourcePath(nodeID))
	if err != nil {
		c.log.Warn("claim check failed, allowing gather", "node", nodeID, "error", err)
		return CheckResult{Outcome: CheckClaimed, FailedOpen: true}
	}
	if snap.Value == nil {
		return Evaluate(nil, c.player.ID(), now, c.cfg.ClaimGrace)
	}
	rec, err := core.DecodeResourceRecord(snap.Value)
	if err != nil {
		c.log.Warn("unreadable resource record, allowing gather", "node", nodeID, "error", err)
		return CheckResult{Outcome: CheckClaimed, FailedOpen: true}
	}
	return Evaluate(&rec, c.player.ID(), now, c.cfg.ClaimGrace)
}

// BeginGather starts a claim on nodeID. Precondition failures are returned
// right away; otherwise done is called on the loop once the check resolved,
// with a nil error whether the claim was granted or rejected.
func (c *Coordinator) BeginGather(nodeID string, done func(CheckResult, error)) error {
	node, ok := c.registry.Get(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if err := c.precondition(node); err != nil {
		return err
	}
	if done == nil {
		done = func(CheckResult, error) {}
	}

	c.seq++
	seq := c.seq
	c.pending = node.ID
	c.runner.Go(func() func() {
		res := c.Check(context.Background(), node.ID)
		return func() { c.resolve(seq, node, res, done) }
	})
	return nil
}

func (c *Coordinator) precondition(node *resource.Node) error {
	if c.active != nil || c.pending != "" {
		return ErrBusy
	}
	if c.player.IsMoving() {
		return ErrMoving
	}
	if node.State() != resource.Available {
		return fmt.Errorf("%w: %s is %s", resource.ErrNotAvailable, node.ID, node.State())
	}
	if !geo.Within(c.player.Position(), node.Position, c.cfg.GatherRange) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, node.ID)
	}
	return nil
}

// resolve applies a check result on the loop.
func (c *Coordinator) resolve(seq uint64, node *resource.Node, res CheckResult, done func(CheckResult, error)) {
	if seq != c.seq || c.pending != node.ID {
		done(res, ErrAbandoned)
		return
	}
	c.pending = ""
	now := c.clock()
	self := c.player.ID()

	if !res.Claimed() {
		if res.Record != nil && node.AcceptRecord(res.Record.LastUpdated, res.Record.Claimant()) {
			c.applyToNode(node, res.Record, now)
		}
		c.events.ClaimRejected(self, node, res.RejectedBy)
		c.log.Info("claim rejected", "node", node.ID, "by", res.RejectedByName, "depleted", res.Depleted)
		done(res, nil)
		return
	}

	// the subscription may have moved the node on while the check was out
	if node.State() != resource.Available {
		id, name := node.Claimant()
		res = CheckResult{
			Outcome:        CheckRejected,
			RejectedBy:     id,
			RejectedByName: name,
			Depleted:       node.State() == resource.Depleted,
		}
		c.events.ClaimRejected(self, node, id)
		done(res, nil)
		return
	}
	if c.player.IsMoving() || !geo.Within(c.player.Position(), node.Position, c.cfg.GatherRange) {
		done(res, ErrAbandoned)
		return
	}

	if err := node.Claim(self, c.player.DisplayName()); err != nil {
		done(res, err)
		return
	}
	if err := c.player.StartGathering(node.ID); err != nil {
		node.Release()
		done(res, err)
		return
	}
	c.active = node
	c.publish(node, now)
	c.log.Debug("claimed", "node", node.ID, "failedOpen", res.FailedOpen)
	done(res, nil)
}

// Update advances the active gather by dt, abandoning it when the player
// moved or left gather range, and expires stale foreign claims.
func (c *Coordinator) Update(dt time.Duration) {
	now := c.clock()
	c.expireClaims(now)

	node := c.active
	if node == nil {
		return
	}
	if c.player.IsMoving() || !geo.Within(c.player.Position(), node.Position, c.cfg.GatherRange) {
		c.Abandon()
		return
	}

	completed, err := node.Advance(c.player.ID(), dt)
	if err != nil {
		c.log.Warn("lost the active node", "node", node.ID, "error", err)
		c.active = nil
		c.player.StopGathering()
		return
	}
	if !completed {
		return
	}

	c.active = nil
	c.player.StopGathering()
	c.player.AddToInventory(node.Rarity, 1)
	c.refills[node.ID] = struct{}{}
	c.publish(node, now)
	c.events.GatherCompleted(c.player.ID(), node)
	c.log.Info("gathered", "node", node.ID, "rarity", node.Rarity.String())
}

// Abandon drops a pending claim and releases the active node. Local state is
// cleared before the release write is even attempted.
func (c *Coordinator) Abandon() {
	if c.pending != "" {
		c.pending = ""
		c.seq++
	}
	node := c.active
	if node == nil {
		return
	}
	c.active = nil
	node.Release()
	c.player.StopGathering()
	c.publish(node, c.clock())
	c.log.Debug("abandoned", "node", node.ID)
}

// ApplyRecord reconciles a node with a record delivered by the store. Records
// not newer than what the node already applied are ignored.
func (c *Coordinator) ApplyRecord(nodeID string, rec core.ResourceRecord) {
	node, ok := c.registry.Get(nodeID)
	if !ok {
		c.log.Debug("record for unknown resource", "node", nodeID)
		return
	}
	if !node.AcceptRecord(rec.LastUpdated, rec.Claimant()) {
		return
	}
	now := c.clock()
	if rec.IsGathered {
		delete(c.refills, node.ID)
	}
	if node != c.active {
		c.applyToNode(node, &rec, now)
		return
	}

	self := c.player.ID()
	switch {
	case rec.IsBeingGathered && rec.Claimant() == self:
	case rec.IsBeingGathered || rec.IsGathered:
		// a later write from someone else won the race
		c.active = nil
		c.player.StopGathering()
		c.applyToNode(node, &rec, now)
		c.events.ClaimLost(self, node, rec.Claimant())
		c.log.Info("claim lost", "node", node.ID, "to", rec.ClaimantName())
	default:
		// an older release landed after our claim; put the claim back
		c.publish(node, now)
	}
}

// applyToNode sets the node to the state rec describes.
func (c *Coordinator) applyToNode(node *resource.Node, rec *core.ResourceRecord, now time.Time) {
	switch {
	case rec.IsGathered:
		node.Deplete(now.Sub(time.UnixMilli(rec.LastUpdated)))
	case rec.IsBeingGathered && rec.Claimant() != c.player.ID() && !ClaimExpired(rec, now, c.cfg.ClaimGrace):
		node.ObserveClaim(rec.Claimant(), rec.ClaimantName())
	default:
		node.Release()
	}
}

// expireClaims frees nodes whose foreign claim has outlived the gather
// duration plus grace, which happens when the claimant vanished.
func (c *Coordinator) expireClaims(now time.Time) {
	for _, node := range c.registry.All() {
		if node.State() != resource.BeingGathered || node == c.active {
			continue
		}
		since := now.Sub(time.UnixMilli(node.LastUpdated()))
		if since > node.Rarity.GatherDuration()+c.cfg.ClaimGrace {
			id, _ := node.Claimant()
			node.Release()
			c.log.Debug("foreign claim expired", "node", node.ID, "claimant", id)
		}
	}
}

// OnRefilled writes back nodes this client depleted once they refill.
func (c *Coordinator) OnRefilled(nodes []*resource.Node) {
	now := c.clock()
	for _, node := range nodes {
		if _, ok := c.refills[node.ID]; !ok {
			continue
		}
		delete(c.refills, node.ID)
		c.publish(node, now)
	}
}

// Record describes node's current local state as a store record stamped now.
func (c *Coordinator) Record(node *resource.Node, now time.Time) core.ResourceRecord {
	rec := core.ResourceRecord{
		Position:        node.Position,
		Rarity:          node.Rarity,
		IsBeingGathered: node.State() == resource.BeingGathered,
		IsGathered:      node.State() == resource.Depleted,
		LastUpdated:     core.Millis(now),
	}
	if rec.IsBeingGathered {
		id, name := node.Claimant()
		rec.GatheringPlayerID = core.StringPtr(id)
		rec.GatheringPlayerName = core.StringPtr(name)
	}
	if rec.IsGathered {
		// backdate so readers derive the same refill progress
		rec.LastUpdated -= node.RefillElapsed().Milliseconds()
	}
	return rec
}

// publish stamps node with a record newer than any it has seen and writes it
// off the loop. Write failures are logged; local state stays as it is.
func (c *Coordinator) publish(node *resource.Node, now time.Time) {
	rec := c.Record(node, now)
	if rec.LastUpdated <= node.LastUpdated() {
		rec.LastUpdated = node.LastUpdated() + 1
	}
	node.AcceptRecord(rec.LastUpdated, rec.Claimant())
	value, err := core.EncodeRecord(rec)
	if err != nil {
		c.log.Error("encoding resource record", "node", node.ID, "error", err)
		return
	}
	path := core.ResourcePath(node.ID)
	c.runner.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		if err := c.store.Write(ctx, path, value); err != nil {
			c.log.Warn("resource write failed", "path", path, "error", err)
		}
		return nil
	})
}
