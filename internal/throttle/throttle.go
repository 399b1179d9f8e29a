// Package throttle coalesces high-frequency updates into at most one
// forward per interval.
package throttle

import (
	"sync"
	"time"
)

// Throttler is a trailing-edge throttle: Push stores the latest value and
// arms a timer; when the timer fires only the newest value is forwarded.
// Flush forwards a pending value immediately. After Close every pending or
// future forward is dropped.
type Throttler[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	forward  func(T)
	clock    Clock

	pending T
	has     bool
	timer   Timer
	// seq identifies the armed timer; a fire whose seq no longer matches
	// was superseded by Flush or Cancel and does nothing.
	seq    uint64
	closed bool

	onForward func(flushed bool)
}

// Option configures a Throttler.
type Option func(*options)

type options struct {
	clock     Clock
	onForward func(flushed bool)
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithForwardHook registers a callback run after every forward. flushed is
// true when the forward came from Flush rather than the timer.
func WithForwardHook(fn func(flushed bool)) Option {
	return func(o *options) { o.onForward = fn }
}

// New returns a throttler forwarding to forward at most once per interval.
func New[T any](interval time.Duration, forward func(T), opts ...Option) *Throttler[T] {
	o := options{clock: RealClock}
	for _, opt := range opts {
		opt(&o)
	}
	return &Throttler[T]{
		interval:  interval,
		forward:   forward,
		clock:     o.clock,
		onForward: o.onForward,
	}
}

// Push records v as the latest value. Earlier unforwarded values are
// discarded.
func (t *Throttler[T]) Push(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending, t.has = v, true
	if t.timer != nil {
		return
	}
	t.seq++
	seq := t.seq
	t.timer = t.clock.AfterFunc(t.interval, func() { t.fire(seq) })
}

func (t *Throttler[T]) fire(seq uint64) {
	t.mu.Lock()
	if t.closed || seq != t.seq || !t.has {
		t.mu.Unlock()
		return
	}
	v := t.take()
	t.mu.Unlock()

	t.forward(v)
	if t.onForward != nil {
		t.onForward(false)
	}
}

// take clears the pending value and the armed timer. Caller holds mu.
func (t *Throttler[T]) take() T {
	v := t.pending
	var zero T
	t.pending, t.has = zero, false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
	return v
}

// Flush forwards the pending value now, if any, and reports whether it did.
// The forward runs on the caller's goroutine before Flush returns.
func (t *Throttler[T]) Flush() bool {
	t.mu.Lock()
	if t.closed || !t.has {
		t.mu.Unlock()
		return false
	}
	v := t.take()
	t.mu.Unlock()

	t.forward(v)
	if t.onForward != nil {
		t.onForward(true)
	}
	return true
}

// Cancel drops the pending value without forwarding it.
func (t *Throttler[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.has || t.timer != nil {
		t.take()
	}
}

// Pending reports whether a value is waiting to be forwarded.
func (t *Throttler[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.has
}

// Close cancels any pending value and turns later calls into no-ops.
func (t *Throttler[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.take()
	t.closed = true
}
