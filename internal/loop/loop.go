package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// maxFrame caps the delta handed to a frame after a stall so simulations do not jump.
const maxFrame = 250 * time.Millisecond

// TickFunc advances the simulation by dt. It always runs on the loop goroutine.
type TickFunc func(dt time.Duration)

// Runner executes work off the loop and applies its result on the loop.
// work runs elsewhere; the func it returns (if non-nil) runs on the loop.
type Runner interface {
	Go(work func() func())
}

// Loop is a single-threaded cooperative event loop. Every posted closure and
// every frame tick runs on the goroutine that called Run, so state owned by the
// loop needs no locking.
type Loop struct {
	inbox    chan func()
	interval time.Duration
	tick     TickFunc
	logger   *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
	inflight sync.WaitGroup

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	frames    metric.Int64Counter
}

// New creates a loop that ticks every interval and buffers up to size posted closures.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(interval time.Duration, size int, tick TickFunc, logger *slog.Logger) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("loop interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		inbox:    make(chan func(), size),
		interval: interval,
		tick:     tick,
		logger:   logger,
		stopped:  make(chan struct{}),
	}

	m := meter()
	var err error

	l.queueSize, err = m.Int64ObservableGauge(
		"loop.queue.size",
		metric.WithDescription("Closures waiting to run on the loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(l.queueSize, int64(len(l.inbox)))
			return nil
		},
		l.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	l.processed, err = m.Int64Counter(
		"loop.closures.processed",
		metric.WithDescription("Total posted closures run"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	l.dropped, err = m.Int64Counter(
		"loop.closures.dropped",
		metric.WithDescription("Closures posted after the loop stopped"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	l.frames, err = m.Int64Counter(
		"loop.frames",
		metric.WithDescription("Total frames ticked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	return l, nil
}

// Post queues fn to run on the loop. It blocks while the inbox is full and
// returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		l.dropped.Add(context.Background(), 1)
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.stopped:
		l.dropped.Add(context.Background(), 1)
		return false
	}
}

// Go runs work on its own goroutine and posts the returned closure back.
func (l *Loop) Go(work func() func()) {
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		if apply := work(); apply != nil {
			l.Post(apply)
		}
	}()
}

// Pending returns the number of queued closures.
func (l *Loop) Pending() int {
	return len(l.inbox)
}

// Run processes posted closures and frame ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer l.stop()

	l.logger.Info("loop started", "interval", l.interval)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopping", "pending", len(l.inbox))
			return ctx.Err()
		case fn := <-l.inbox:
			l.run(fn)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > maxFrame {
				dt = maxFrame
			}
			if l.tick != nil {
				l.tick(dt)
			}
			l.frames.Add(ctx, 1)
		}
	}
}

// Drain runs every closure queued right now on the calling goroutine and
// returns how many ran. Used after Run returned and by tests that drive
// frames by hand.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case fn := <-l.inbox:
			l.run(fn)
			n++
		default:
			return n
		}
	}
}

// Wait blocks until all work started with Go has finished.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("posted closure panicked", "panic", r)
		}
	}()
	fn()
	l.processed.Add(context.Background(), 1)
}
