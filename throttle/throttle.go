// Package throttle defines the core types and the contract for the
// sliding-window abuse limiter.
package throttle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned when an ActionKey has an empty actor or action.
	ErrInvalidKey = errors.New("throttle: invalid action key")

	// ErrInvalidPolicy is returned when a Policy has a non-positive quota or window.
	ErrInvalidPolicy = errors.New("throttle: invalid policy")
)

// ActionKey identifies what is being limited: one actor performing one kind
// of action, e.g. ("user-42", "create_review"). Comparable, safe as a map key.
type ActionKey struct {
	ActorID    string
	ActionType string
}

// Validate reports ErrInvalidKey when either field is empty.
func (k ActionKey) Validate() error {
	if k.ActorID == "" || k.ActionType == "" {
		return ErrInvalidKey
	}
	return nil
}

func (k ActionKey) String() string {
	return k.ActorID + ":" + k.ActionType
}

// Policy is the quota governing one action type: at most MaxAttempts admitted
// attempts within any trailing Window. Policies are supplied by the caller on
// every check; the limiter never stores or mutates them.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Validate reports ErrInvalidPolicy when MaxAttempts < 1 or Window <= 0.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of a check. Exhausting a quota is not an error:
// it is a normal Decision with Admitted == false.
type Decision struct {
	// Admitted is true when the attempt is within quota.
	Admitted bool

	// Remaining is the number of further attempts the actor could make right
	// now without being denied. Zero when denied.
	Remaining int

	// RetryAfter is how long until the oldest counted attempt ages out of the
	// window. Zero when admitted.
	RetryAfter time.Duration
}

// Limiter is the rate-limiting contract.
//
// The caller supplies now on every check so the limiter stays deterministic
// under test; now must be non-decreasing per key for exact guarantees, and a
// monotonic clock is recommended.
type Limiter interface {
	// CheckAndRecord decides whether key may act now under policy and, when
	// admitted, records the attempt. Atomic per key: concurrent calls for the
	// same key observe some total order.
	CheckAndRecord(ctx context.Context, key ActionKey, policy Policy, now time.Time) (Decision, error)

	// Peek computes the same Decision CheckAndRecord would return, without
	// recording anything or mutating any state.
	Peek(ctx context.Context, key ActionKey, policy Policy, now time.Time) (Decision, error)

	// Reset clears all recorded attempts for key. Resetting an unknown key is
	// a no-op, not an error.
	Reset(ctx context.Context, key ActionKey) error

	// Close releases background resources. Idempotent.
	Close() error
}
