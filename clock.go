package deferq

import "time"

type Timer interface {
	Stop() bool
	Reset(time.Duration) bool
}

// Clock is the source of monotonic time used by a Scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(time.Duration, func()) Timer
}

// systemClock reads time.Now which carries a monotonic clock reading.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
