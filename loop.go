package deferq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrLoopRunning is returned by Run when the loop is already running.
var ErrLoopRunning = errors.New("deferq: loop is already running")

// Loop drives a Scheduler: it waits for the next expiration,
// takes the expired callbacks and executes them sequentially
// on the goroutine that called Run.
type Loop struct {
	lock    sync.Mutex
	sched   *Scheduler
	log     *zap.Logger
	wake    chan struct{}
	running atomic.Bool
}

// NewLoop creates a loop driving s.
// The loop takes exclusive ownership of s, it must not be used directly
// afterwards. If log == nil then logging is disabled.
func NewLoop(s *Scheduler, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		sched: s,
		log:   log,
		wake:  make(chan struct{}, 1),
	}
}

// Register registers fn for execution after delay.
// The returned CancelFunc is safe to call from any goroutine.
func (l *Loop) Register(delay time.Duration, fn func()) CancelFunc {
	l.lock.Lock()
	cancel := l.sched.Register(delay, fn)
	l.lock.Unlock()

	l.notify()
	return l.guard(cancel)
}

// RegisterAbs registers fn for execution at the given time.
// The returned CancelFunc is safe to call from any goroutine.
func (l *Loop) RegisterAbs(at time.Time, fn func()) CancelFunc {
	l.lock.Lock()
	cancel := l.sched.RegisterAbs(at, fn)
	l.lock.Unlock()

	l.notify()
	return l.guard(cancel)
}

// AdvanceTime advances the scheduler's current time by the given duration.
func (l *Loop) AdvanceTime(by time.Duration) (newOffset time.Duration) {
	l.lock.Lock()
	newOffset = l.sched.AdvanceTime(by)
	l.lock.Unlock()

	l.notify()
	return newOffset
}

// Now returns the scheduler's current time.
func (l *Loop) Now() time.Time {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.sched.Now()
}

// Len returns the number of registrations held by the scheduler.
func (l *Loop) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.sched.Len()
}

// Run executes expired callbacks until ctx is done
// and returns the context's error.
// A panic in a callback is recovered and logged.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	l.log.Debug("loop started")
	defer l.log.Debug("loop stopped")

	// t is armed for the earliest expiration, if any.
	var t Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.lock.Lock()
		now := l.sched.Now()
		fns := l.sched.TakeExpiredAt(now)
		timeout, pending := l.sched.NextTimeoutAt(now)
		l.lock.Unlock()

		if len(fns) > 0 {
			l.log.Debug("executing expired callbacks",
				zap.Int("callbacks", len(fns)))
			for _, fn := range fns {
				l.execute(fn)
			}
			// Callbacks may have registered more due work.
			continue
		}

		switch {
		case pending && t == nil:
			t = l.sched.clock.AfterFunc(timeout, l.notify)
		case pending:
			t.Reset(timeout)
		case t != nil:
			t.Stop()
		}
		select {
		case <-ctx.Done():
		case <-l.wake:
		}
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("callback panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}

// notify wakes the loop up without blocking.
func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) guard(cancel CancelFunc) CancelFunc {
	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		cancel()
	}
}
