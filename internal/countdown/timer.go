// Package countdown implements the checkout reservation timer.
//
// A Timer renders its remaining time as MM:SS and then decrements, once per
// interval. When the count is already zero the tick renders "00:00" and raises
// the expired flag. Stop is the only way to cancel it and is safe to call more
// than once.
package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultSeconds is the length of the checkout reservation window.
	DefaultSeconds = 600
	// DefaultInterval is the tick period.
	DefaultInterval = time.Second

	expiredDisplay = "00:00"
)

// State is a point-in-time view of the timer.
type State struct {
	Display   string `json:"display"`
	Remaining int    `json:"remaining"`
	Expired   bool   `json:"expired"`
	Stopped   bool   `json:"stopped"`
}

// Option configures a Timer.
type Option func(*Timer)

// WithInterval overrides the tick period.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// OnExpire registers a callback run once, on the tick that raises the expired flag.
func OnExpire(fn func()) Option {
	return func(t *Timer) {
		if fn != nil {
			t.onExpire = append(t.onExpire, fn)
		}
	}
}

// Timer is a one-shot countdown. The zero value is not usable; call New.
type Timer struct {
	mu        sync.Mutex
	remaining int
	display   string
	expired   bool
	stopped   bool
	subs      map[int]chan State
	nextSub   int

	interval  time.Duration
	onExpire  []func()
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// New creates a stopped-until-started timer counting down from seconds.
func New(seconds int, opts ...Option) *Timer {
	if seconds < 0 {
		seconds = 0
	}
	t := &Timer{
		remaining: seconds,
		display:   FormatClock(seconds),
		interval:  DefaultInterval,
		subs:      make(map[int]chan State),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FormatClock renders seconds as zero padded MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Start renders the initial value and begins ticking. Subsequent calls are no-ops.
// The timer stops itself when ctx is done.
func (t *Timer) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.Tick()
		go t.run(ctx)
	})
}

func (t *Timer) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick performs one render-then-decrement step and returns the resulting state.
// It does nothing once the timer has been stopped.
func (t *Timer) Tick() State {
	t.mu.Lock()
	if t.stopped {
		st := t.stateLocked()
		t.mu.Unlock()
		return st
	}

	t.display = FormatClock(t.remaining)
	fire := false
	if t.remaining > 0 {
		t.remaining--
	} else {
		t.display = expiredDisplay
		if !t.expired {
			t.expired = true
			fire = true
		}
	}
	st := t.stateLocked()
	for _, ch := range t.subs {
		offer(ch, st)
	}
	t.mu.Unlock()

	if fire {
		for _, fn := range t.onExpire {
			fn()
		}
	}
	return st
}

// Stop cancels the tick source. Calling it again is a no-op.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)

		t.mu.Lock()
		t.stopped = true
		st := t.stateLocked()
		subs := t.subs
		t.subs = make(map[int]chan State)
		t.mu.Unlock()

		for _, ch := range subs {
			offer(ch, st)
			close(ch)
		}
	})
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Subscribe returns a channel receiving the state after every render. Slow
// readers only see the latest state. The channel is closed when the timer stops
// or the returned cancel func is called.
func (t *Timer) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	t.mu.Lock()
	ch <- t.stateLocked()
	if t.stopped {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

func (t *Timer) stateLocked() State {
	return State{
		Display:   t.display,
		Remaining: t.remaining,
		Expired:   t.expired,
		Stopped:   t.stopped,
	}
}

// offer delivers st without blocking, replacing an unread older state.
// The caller guarantees ch is not closed concurrently.
func offer(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
