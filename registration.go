package deferq

import (
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// State is the lifecycle state of a Registration.
type State int8

const (
	// Pending registrations are waiting for their expiration.
	Pending State = iota

	// Cancelled registrations will never fire but still occupy
	// the queue until their expiration passes.
	Cancelled

	// Removed registrations were taken off the queue,
	// either fired or dropped after cancellation.
	Removed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Cancelled:
		return "cancelled"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("State(%d)", int8(s))
}

// CancelFunc cancels the registration it was returned for.
// Calling it more than once, or after the callback was
// taken by TakeExpired, does nothing.
type CancelFunc func()

// Registration is a pending deferred callback.
type Registration struct {
	id    ksuid.KSUID
	key   Key
	fn    func()
	state State
}

// ID returns the unique identifier of the registration.
func (r *Registration) ID() ksuid.KSUID { return r.id }

// Due returns the expiration time of the registration.
func (r *Registration) Due() time.Time { return r.key.Due }

func (r *Registration) State() State { return r.state }

func (r *Registration) String() string {
	return fmt.Sprintf("%s (%s, due %s)", r.id, r.state, r.key.Due.Format(time.RFC3339Nano))
}

// cancel clears the callback without touching the queue.
// The entry is dropped once TakeExpired reaches it.
func (r *Registration) cancel() {
	r.fn = nil
	if r.state == Pending {
		r.state = Cancelled
	}
}
