package loop

import "sync"

// Executor is a Runner that also accepts closures to run on the loop.
// *Loop, Inline and *Deferred all satisfy it.
type Executor interface {
	Runner
	Post(fn func()) bool
}

// Inline runs work and its result immediately on the caller's goroutine.
type Inline struct{}

// Go implements Runner.
func (Inline) Go(work func() func()) {
	if apply := work(); apply != nil {
		apply()
	}
}

// Post runs fn right away.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Deferred holds work until Flush, so callers control exactly when results
// land relative to other events.
type Deferred struct {
	mu    sync.Mutex
	works []func() func()
}

// Go implements Runner.
func (d *Deferred) Go(work func() func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.works = append(d.works, work)
}

// Post queues fn behind the works already waiting.
func (d *Deferred) Post(fn func()) bool {
	d.Go(func() func() { return fn })
	return true
}

// Len returns how many works are waiting.
func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.works)
}

// Step runs the oldest waiting work and applies its result. It reports
// false when nothing was waiting.
func (d *Deferred) Step() bool {
	d.mu.Lock()
	if len(d.works) == 0 {
		d.mu.Unlock()
		return false
	}
	work := d.works[0]
	d.works = d.works[1:]
	d.mu.Unlock()

	if apply := work(); apply != nil {
		apply()
	}
	return true
}

// Flush runs all waiting works in order, applying each result before the
// next work starts. Works queued during Flush run in the same call.
func (d *Deferred) Flush() int {
	n := 0
	for d.Step() {
		n++
	}
	return n
}
