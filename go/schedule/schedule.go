package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// A Schedule represents a sequence of points in time when an action should be performed.
type Schedule interface {
	// Next returns the earliest instant in time greater than `afterTime` which
	// satisfies the schedule.
	Next(afterTime time.Time) time.Time
}

type periodicSchedule struct {
	period time.Duration
	jitter time.Duration
}

// NewPeriodicSchedule creates a schedule which fires at a fixed interval. An
// optional `seed` adds a stable per-seed offset to every firing, so that many
// schedules created from distinct seeds don't all wake at the same instant.
func NewPeriodicSchedule(period time.Duration, seed []byte) Schedule {
	return &periodicSchedule{period: period, jitter: jitterFor(period, seed)}
}

func (s *periodicSchedule) Next(after time.Time) time.Time {
	return after.Add(s.period + s.jitter)
}

type backoffSchedule struct {
	current time.Duration
	max     time.Duration
	jitter  time.Duration
}

// NewBackoffSchedule creates a schedule whose interval doubles on every
// firing, starting from `initial` and capped at `max`. Like periodic
// schedules an optional `seed` adds a stable per-seed offset. The returned
// schedule is stateful and must not be shared between concurrent pollers.
func NewBackoffSchedule(initial, max time.Duration, seed []byte) Schedule {
	return &backoffSchedule{current: initial, max: max, jitter: jitterFor(initial, seed)}
}

func (s *backoffSchedule) Next(after time.Time) time.Time {
	var next = after.Add(s.current + s.jitter)
	s.current = min(s.current*2, s.max)
	return next
}

// Hash the seed bytes and scale the result to a duration within a tenth of
// the base period, so jitter spreads wakeups without materially changing the
// polling cadence. A nil seed means no jitter, which is useful for tests.
func jitterFor(period time.Duration, seed []byte) time.Duration {
	if seed == nil || period < 10 {
		return 0
	}
	return time.Duration(int64(xxhash.Sum64(seed)>>1)) % (period / 10)
}

// Policy is a reusable description of a polling cadence. It is a plain value
// so it can be embedded in configuration and shared freely; each poller calls
// New to get its own stateful Schedule.
type Policy struct {
	// Interval is the initial delay between polls.
	Interval time.Duration
	// MaxInterval caps the backoff growth. When it equals Interval the
	// resulting schedule is periodic.
	MaxInterval time.Duration
}

func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", p.Interval)
	}
	if p.MaxInterval < p.Interval {
		return fmt.Errorf("max poll interval %v cannot be less than the poll interval %v", p.MaxInterval, p.Interval)
	}
	return nil
}

// New builds a fresh Schedule following the policy, with jitter derived
// from `seed`.
func (p Policy) New(seed []byte) Schedule {
	if p.MaxInterval <= p.Interval {
		return NewPeriodicSchedule(p.Interval, seed)
	}
	return NewBackoffSchedule(p.Interval, p.MaxInterval, seed)
}

// WaitForNext sleeps until the next scheduled execution time, or until the
// context is cancelled.
func WaitForNext(ctx context.Context, s Schedule, after time.Time) error {
	var d = time.Until(s.Next(after))
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
