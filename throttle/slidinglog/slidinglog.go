// Package slidinglog implements throttle.Limiter with an in-memory sliding
// window log: one timestamp per admitted attempt, evicted as it ages out of
// the trailing window. Unlike a fixed-window counter this gives an exact
// guarantee of at most MaxAttempts admissions in any trailing window-length
// interval, at O(MaxAttempts) space per active key.
package slidinglog

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	"github.com/throttleguard/throttle/throttle"
)

const defaultSweepInterval = time.Minute

// entry is the attempt log for one ActionKey. Its mutex serializes the
// read-evict-count-append sequence so admission stays atomic per key.
type entry struct {
	mu sync.Mutex

	// log holds admitted-attempt timestamps, non-decreasing in insertion
	// order as long as the caller's clock is.
	log []time.Time

	// window is the widest policy window seen for this key; the sweeper uses
	// it to decide when the whole entry has gone idle.
	window time.Duration

	// gone marks an entry removed from the registry by Reset or the sweeper.
	// A caller holding a stale pointer must re-fetch instead of mutating it.
	gone bool
}

// Limiter is the in-memory sliding-window-log limiter. Construct with New;
// the zero value is not usable. Call Close to stop the background sweeper.
type Limiter struct {
	mu      sync.RWMutex
	entries map[throttle.ActionKey]*entry

	sweepEvery time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithSweepInterval sets how often idle attempt logs are swept out.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepEvery = d
		}
	}
}

// WithClock overrides the limiter's own clock, used for idle-entry
// collection and for the admission checks made by UnaryServerInterceptor.
// Direct Check calls always use the caller-supplied now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger attaches a logger for sweep activity. Silent by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter and starts its sweeper. All counters start empty:
// nothing carries over across process restarts.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries:    make(map[throttle.ActionKey]*entry),
		sweepEvery: defaultSweepInterval,
		now:        time.Now,
		logger:     zerolog.Nop(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.sweepLoop()

	return l
}

// CheckAndRecord implements throttle.Limiter.
func (l *Limiter) CheckAndRecord(ctx context.Context, key throttle.ActionKey, policy throttle.Policy, now time.Time) (throttle.Decision, error) {
	if err := key.Validate(); err != nil {
		return throttle.Decision{}, err
	}
	if err := policy.Validate(); err != nil {
		return throttle.Decision{}, err
	}

	for {
		e := l.entry(key)
		e.mu.Lock()
		if e.gone {
			// Lost a race with Reset or the sweeper; the registry has moved on.
			e.mu.Unlock()
			continue
		}

		if policy.Window > e.window {
			e.window = policy.Window
		}
		e.evict(now, policy.Window)

		if len(e.log) >= policy.MaxAttempts {
			retryAfter := oldestOf(e.log).Add(policy.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
			e.mu.Unlock()
			return throttle.Decision{Admitted: false, Remaining: 0, RetryAfter: retryAfter}, nil
		}

		e.log = append(e.log, now)
		remaining := policy.MaxAttempts - len(e.log)
		e.mu.Unlock()
		return throttle.Decision{Admitted: true, Remaining: remaining}, nil
	}
}

// Peek implements throttle.Limiter. It never creates an entry and never
// persists an eviction, so any number of peeks leaves the limiter exactly as
// it was.
func (l *Limiter) Peek(ctx context.Context, key throttle.ActionKey, policy throttle.Policy, now time.Time) (throttle.Decision, error) {
	if err := key.Validate(); err != nil {
		return throttle.Decision{}, err
	}
	if err := policy.Validate(); err != nil {
		return throttle.Decision{}, err
	}

	l.mu.RLock()
	e := l.entries[key]
	l.mu.RUnlock()

	if e == nil {
		return throttle.Decision{Admitted: true, Remaining: policy.MaxAttempts - 1}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-policy.Window)
	count := 0
	var oldest time.Time
	for _, ts := range e.log {
		if !ts.After(cutoff) {
			continue
		}
		if count == 0 || ts.Before(oldest) {
			oldest = ts
		}
		count++
	}

	if count >= policy.MaxAttempts {
		retryAfter := oldest.Add(policy.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return throttle.Decision{Admitted: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return throttle.Decision{Admitted: true, Remaining: policy.MaxAttempts - count - 1}, nil
}

// Reset implements throttle.Limiter: administrative unblock for one key.
func (l *Limiter) Reset(ctx context.Context, key throttle.ActionKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(key)
	return nil
}

// Attempts returns a copy of the timestamps currently recorded for key,
// oldest first. The copy is deep so callers cannot reach into live state.
func (l *Limiter) Attempts(ctx context.Context, key throttle.ActionKey) ([]time.Time, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	e := l.entries[key]
	l.mu.RUnlock()

	if e == nil {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var snapshot []time.Time
	if err := copier.Copy(&snapshot, e.log); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Size reports how many keys currently have an attempt log.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close stops the sweeper. Idempotent.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// entry returns the live log for key, creating it on first use.
func (l *Limiter) entry(key throttle.ActionKey) *entry {
	l.mu.RLock()
	e := l.entries[key]
	l.mu.RUnlock()
	if e != nil {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e = l.entries[key]; e == nil {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// remove unconditionally marks the entry dead and drops it from the
// registry. Caller must hold l.mu; locks are always taken
// registry-then-entry, never the reverse.
func (l *Limiter) remove(key throttle.ActionKey) {
	e := l.entries[key]
	if e == nil {
		return
	}
	e.mu.Lock()
	e.gone = true
	e.log = nil
	e.mu.Unlock()
	delete(l.entries, key)
}

// oldestOf returns the earliest timestamp in a non-empty log. The log is
// only non-decreasing while the caller's clock is; after backward skew the
// earliest slot to reopen may sit anywhere in it.
func oldestOf(log []time.Time) time.Time {
	oldest := log[0]
	for _, ts := range log[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest
}

// evict drops timestamps at or before now-window. The window is half-open
// (now-window, now]: an attempt made exactly one window ago is expired. When
// the clock has run backward the cutoff recedes with it, so nothing is
// evicted on an apparent negative age.
func (e *entry) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := e.log[:0]
	for _, ts := range e.log {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.log = kept
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// sweep removes logs whose newest timestamp has aged out of that key's
// window, bounding memory to actors active within the trailing window.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	swept := 0
	for key, e := range l.entries {
		e.mu.Lock()
		// Decide and remove in the same hold: a racing check that already
		// fetched this entry must observe gone, not append into a dropped log.
		if len(e.log) == 0 || !e.log[len(e.log)-1].After(now.Add(-e.window)) {
			e.gone = true
			e.log = nil
			delete(l.entries, key)
			swept++
		}
		e.mu.Unlock()
	}

	if swept > 0 {
		l.logger.Debug().Int("swept", swept).Int("tracked", len(l.entries)).Msg("swept idle attempt logs")
	}
}

var _ throttle.Limiter = (*Limiter)(nil)
