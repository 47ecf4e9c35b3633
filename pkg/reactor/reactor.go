// Package reactor runs timers and posted callbacks on one goroutine. The
// plotter's fixed-rate tick is a reactor timer; work handed over from other
// goroutines is posted with RegisterAsyncCallback so it runs between ticks.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

var ErrReactorClosed = errors.New("reactor: reactor closed")

// TimerCallback is called with the event time and returns the next wake
// time, or NEVER to stop.
type TimerCallback func(eventtime float64) float64

// Timer is a registered timer.
type Timer struct {
	id       uint64
	callback TimerCallback
	mu       sync.Mutex
	waketime float64
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion carries the result of a posted callback.
type Completion struct {
	result interface{}
	done   chan struct{}
	once   sync.Once
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Test reports whether the completion has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete stores result and wakes waiters. Only the first call counts.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until the completion is done or ctx ends.
func (c *Completion) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reactor dispatches timers and async callbacks.
type Reactor struct {
	mu       sync.Mutex
	timers   []*Timer
	nextID   uint64
	nextWake float64

	async chan func(eventtime float64)

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	start   time.Time
}

// New creates a stopped reactor.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		nextWake: NEVER,
		async:    make(chan func(float64), 256),
		ctx:      ctx,
		cancel:   cancel,
		start:    time.Now(),
	}
}

// Monotonic returns seconds since the reactor was created.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.start).Seconds()
}

// Done is closed once End has been called.
func (r *Reactor) Done() <-chan struct{} {
	return r.ctx.Done()
}

// RegisterTimer adds a timer first firing at waketime.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t := &Timer{id: r.nextID, callback: callback, waketime: waketime}
	r.timers = append(r.timers, t)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.poke()
	return t
}

// UnregisterTimer removes t.
func (r *Reactor) UnregisterTimer(t *Timer) {
	t.mu.Lock()
	t.waketime = NEVER
	t.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.timers {
		if other.id == t.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// poke wakes the dispatch loop without queueing work. Caller holds r.mu.
func (r *Reactor) poke() {
	select {
	case r.async <- nil:
	default:
	}
}

// RegisterAsyncCallback posts fn to run on the reactor goroutine. It is
// safe to call from any goroutine; the returned completion receives fn's
// result. After End the completion is never completed.
func (r *Reactor) RegisterAsyncCallback(fn func(eventtime float64) interface{}) (*Completion, error) {
	if r.ctx.Err() != nil {
		return nil, ErrReactorClosed
	}
	c := newCompletion()
	select {
	case r.async <- func(eventtime float64) { c.Complete(fn(eventtime)) }:
		return c, nil
	case <-r.ctx.Done():
		return nil, ErrReactorClosed
	}
}

// Pause sleeps until waketime or End.
func (r *Reactor) Pause(waketime float64) float64 {
	now := r.Monotonic()
	if waketime <= now {
		return now
	}
	if waketime >= NEVER {
		<-r.ctx.Done()
		return r.Monotonic()
	}
	select {
	case <-time.After(seconds(waketime - now)):
	case <-r.ctx.Done():
	}
	return r.Monotonic()
}

// Run starts the dispatch loop in a goroutine.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatchLoop()
}

// End stops the dispatch loop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		eventtime := r.Monotonic()
		delay := r.checkTimers(eventtime)
		if delay > 1 {
			delay = 1
		}

		timer := time.NewTimer(seconds(delay))
		select {
		case fn := <-r.async:
			timer.Stop()
			if fn != nil {
				fn(r.Monotonic())
			}
		case <-timer.C:
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// checkTimers fires due timers and returns the delay until the next one.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	if eventtime < r.nextWake {
		delay := r.nextWake - eventtime
		r.mu.Unlock()
		return delay
	}
	timers := append([]*Timer(nil), r.timers...)
	r.nextWake = NEVER
	r.mu.Unlock()

	next := NEVER
	for _, t := range timers {
		t.mu.Lock()
		if eventtime >= t.waketime {
			t.mu.Unlock()

			w := t.callback(eventtime)

			t.mu.Lock()
			t.waketime = w
		}
		if t.waketime < next {
			next = t.waketime
		}
		t.mu.Unlock()
	}

	r.mu.Lock()
	if next < r.nextWake {
		r.nextWake = next
	}
	delay := r.nextWake - eventtime
	r.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	return delay
}
