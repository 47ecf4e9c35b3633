package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonotonic(t *testing.T) {
	r := New()
	defer r.End()

	t1 := r.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := r.Monotonic()
	if t2-t1 < 0.009 {
		t.Errorf("Monotonic advanced %f, want >= 0.01", t2-t1)
	}
}

func TestTimerFiresOnce(t *testing.T) {
	r := New()
	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(50 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", called.Load())
	}
}

func TestTimerRepeat(t *testing.T) {
	r := New()
	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		if called.Add(1) < 3 {
			return eventtime + 0.01
		}
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(150 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 3 {
		t.Errorf("callback ran %d times, want 3", called.Load())
	}
}

func TestTimerRegisteredWhileRunning(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	// the loop is parked on its one second ceiling; registering must wake it
	time.Sleep(20 * time.Millisecond)
	fired := make(chan struct{})
	r.RegisterTimer(func(float64) float64 {
		close(fired)
		return NEVER
	}, NOW)

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer registered after Run did not fire promptly")
	}
}

func TestUnregisterTimer(t *testing.T) {
	r := New()
	var called atomic.Int32
	timer := r.RegisterTimer(func(float64) float64 {
		called.Add(1)
		return NEVER
	}, r.Monotonic()+0.05)
	r.UnregisterTimer(timer)

	r.Run()
	time.Sleep(100 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 0 {
		t.Errorf("unregistered timer ran %d times", called.Load())
	}
	if timer.Waketime() != NEVER {
		t.Errorf("Waketime = %f, want NEVER", timer.Waketime())
	}
}

func TestAsyncCallback(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	c, err := r.RegisterAsyncCallback(func(eventtime float64) interface{} {
		return "done"
	})
	if err != nil {
		t.Fatalf("RegisterAsyncCallback: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res != "done" {
		t.Errorf("result = %v", res)
	}
	if !c.Test() {
		t.Error("Test should report completion")
	}
}

func TestAsyncCallbackAfterEnd(t *testing.T) {
	r := New()
	r.End()
	if _, err := r.RegisterAsyncCallback(func(float64) interface{} { return nil }); err != ErrReactorClosed {
		t.Errorf("err = %v, want ErrReactorClosed", err)
	}
}

func TestCompletionWaitContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	c.Complete(1)
	c.Complete(2)
	if res, _ := c.Wait(context.Background()); res != 1 {
		t.Errorf("result = %v, first Complete should win", res)
	}
}

func TestPause(t *testing.T) {
	r := New()
	defer r.End()

	waketime := r.Monotonic() + 0.05
	if got := r.Pause(waketime); got < waketime {
		t.Errorf("Pause returned early: %f < %f", got, waketime)
	}
	now := r.Monotonic()
	if got := r.Pause(now - 1); got < now {
		t.Errorf("Pause in the past = %f, want >= %f", got, now)
	}
}
