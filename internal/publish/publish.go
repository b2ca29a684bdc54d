// Package publish writes the local player's record to the shared store:
// immediately on a new target or arrival, then throttled while moving and as
// a heartbeat while idle.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/shardfall/shardfall/internal/loop"
	"github.com/shardfall/shardfall/pkg/core"
)

// Writer is the part of the shared store the publisher needs.
type Writer interface {
	Write(ctx context.Context, path string, value json.RawMessage) error
}

// Source describes the player being published.
type Source interface {
	ID() string
	IsMoving() bool
	Record(now time.Time) core.PlayerRecord
}

type Config struct {
	Interval  time.Duration // minimum gap between position writes while moving
	Heartbeat time.Duration // idle republish period, 0 disables
	Timeout   time.Duration
}

// Publisher is owned by the event loop.
type Publisher struct {
	cfg     Config
	store   Writer
	runner  loop.Runner
	src     Source
	clock   func() time.Time
	log     *slog.Logger
	limiter *rate.Limiter

	lastWrite time.Time
	writes    int
}

// New creates a publisher. A nil clock means time.Now.
func New(cfg Config, store Writer, runner loop.Runner, src Source, clock func() time.Time, logger *slog.Logger) (*Publisher, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("publish interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		src:     src,
		clock:   clock,
		log:     logger.With("component", "publish"),
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
	}, nil
}

// OnTargetSet publishes a freshly chosen movement target.
func (p *Publisher) OnTargetSet() {
	p.force("target")
}

// OnArrived publishes the resting position the player converged on.
func (p *Publisher) OnArrived() {
	p.force("arrived")
}

// Publish writes the current record unconditionally.
func (p *Publisher) Publish() {
	p.force("manual")
}

func (p *Publisher) force(reason string) {
	now := p.clock()
	// spend the token so the next throttled write waits a full interval
	p.limiter.AllowN(now, 1)
	p.write(now, reason)
}

// Tick runs once per frame and decides whether a throttled write is due.
func (p *Publisher) Tick() {
	now := p.clock()
	if p.src.IsMoving() {
		if p.limiter.AllowN(now, 1) {
			p.write(now, "moving")
		}
		return
	}
	if p.cfg.Heartbeat > 0 && now.Sub(p.lastWrite) >= p.cfg.Heartbeat {
		p.write(now, "heartbeat")
	}
}

// Writes returns how many records were sent so far.
func (p *Publisher) Writes() int {
	return p.writes
}

func (p *Publisher) write(now time.Time, reason string) {
	value, err := core.EncodeRecord(p.src.Record(now))
	if err != nil {
		p.log.Error("encoding player record", "error", err)
		return
	}
	p.lastWrite = now
	p.writes++
	path := core.PlayerPath(p.src.ID())
	p.runner.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		if err := p.store.Write(ctx, path, value); err != nil {
			p.log.Warn("player write failed", "reason", reason, "error", err)
		}
		return nil
	})
}
