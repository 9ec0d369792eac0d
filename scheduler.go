package deferq

import (
	"time"

	"github.com/romshark/deferq/internal/queue"

	"github.com/segmentio/ksuid"
)

// Key is the queue position of a registration.
type Key = queue.Key

type QueueReader interface {
	Len() int
	Front() (Key, *Registration, bool)
	Scan(
		after Key,
		fn func(Key, *Registration) bool,
	) (afterFound bool)
}

type QueueWriter interface {
	Push(Key, *Registration) (pushedAtFront bool)
	PopFront() (Key, *Registration, bool)
}

type QueueReadWriter interface {
	QueueReader
	QueueWriter
}

// New creates a new scheduler with the given time offset.
func New(timeOffset time.Duration) *Scheduler {
	return NewWith(timeOffset, nil, nil)
}

// NewWith is similar to New but replaces the default clock
// and queue implementation.
// If c == nil then standard time package is used by default.
// If q == nil then deferq/internal/queue.Queue is used by default.
func NewWith(
	timeOffset time.Duration,
	c Clock,
	q QueueReadWriter,
) *Scheduler {
	if c == nil {
		c = systemClock{}
	}
	if q == nil {
		q = queue.New[*Registration]()
	}
	return &Scheduler{
		clock:      c,
		queue:      q,
		timeOffset: timeOffset,
	}
}

// Scheduler keeps deferred callbacks ordered by expiration.
//
// A Scheduler must not be used from multiple goroutines
// without external synchronization. See Loop.
type Scheduler struct {
	clock      Clock
	timeOffset time.Duration
	queue      QueueReadWriter
	seq        uint64
}

// Now returns the current time of the scheduler considering the offset.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now().Add(s.timeOffset)
}

// Register registers fn to expire after delay.
// A negative delay yields a registration that is already due.
// Panics if fn is nil.
func (s *Scheduler) Register(delay time.Duration, fn func()) CancelFunc {
	return s.RegisterAbs(s.Now().Add(delay), fn)
}

// RegisterAbs registers fn to expire at the given time.
// Registrations with equal expiration are taken in registration order.
// Panics if fn is nil.
func (s *Scheduler) RegisterAbs(at time.Time, fn func()) CancelFunc {
	if fn == nil {
		panic("deferq: nil callback")
	}
	s.seq++
	r := &Registration{
		id:  ksuid.New(),
		key: Key{Due: at, Seq: s.seq},
		fn:  fn,
	}
	s.queue.Push(r.key, r)
	return r.cancel
}

// TakeExpired removes all registrations that expired by now and returns
// the callbacks of those that weren't cancelled in order of expiration.
// The callbacks are not executed.
func (s *Scheduler) TakeExpired() []func() {
	return s.TakeExpiredAt(s.Now())
}

// TakeExpiredAt is similar to TakeExpired but uses now
// instead of the scheduler's current time.
func (s *Scheduler) TakeExpiredAt(now time.Time) (fns []func()) {
	for {
		k, _, ok := s.queue.Front()
		if !ok || k.Due.After(now) {
			return fns
		}
		_, r, _ := s.queue.PopFront()
		r.state = Removed
		if r.fn != nil {
			fns = append(fns, r.fn)
		}
	}
}

// NextTimeout returns the time left until the earliest registration
// expires, or zero if it's overdue.
// Returns false if there are no registrations.
func (s *Scheduler) NextTimeout() (time.Duration, bool) {
	return s.NextTimeoutAt(s.Now())
}

// NextTimeoutAt is similar to NextTimeout but uses now
// instead of the scheduler's current time.
func (s *Scheduler) NextTimeoutAt(now time.Time) (time.Duration, bool) {
	k, _, ok := s.queue.Front()
	if !ok {
		return 0, false
	}
	if d := k.Due.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// AdvanceTime advances the current time by the given duration.
func (s *Scheduler) AdvanceTime(by time.Duration) (newOffset time.Duration) {
	s.timeOffset += by
	return s.timeOffset
}

// AdvanceToNext advances the current time to the expiration of the
// earliest registration. Does nothing if there are no registrations
// or the earliest is already due.
func (s *Scheduler) AdvanceToNext() (newOffset, advancedBy time.Duration) {
	k, _, ok := s.queue.Front()
	if !ok {
		return s.timeOffset, 0
	}
	if by := k.Due.Sub(s.Now()); by > 0 {
		s.timeOffset += by
		return s.timeOffset, by
	}
	return s.timeOffset, 0
}

// Offset returns the scheduler's time offset.
func (s *Scheduler) Offset() time.Duration {
	return s.timeOffset
}

// Len returns the number of registrations in the queue
// including cancelled ones that haven't expired yet.
func (s *Scheduler) Len() int {
	return s.queue.Len()
}

// Scan scans all registrations after the given one executing fn for each
// until either the end of the queue is reached or fn returns false.
// Starts from the front of the queue if after is nil.
// Returns false if after isn't in the queue, otherwise returns true.
func (s *Scheduler) Scan(
	after *Registration,
	fn func(*Registration) bool,
) (ok bool) {
	var k Key
	if after != nil {
		k = after.key
	}
	return s.queue.Scan(k, func(_ Key, r *Registration) bool {
		return fn(r)
	})
}
