package lease

import (
	"context"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

// TryStartHWTestRun acquires the global hardware self-test run lease
// (vlab:hwtest:running), mutually excluding overlapping test sweeps.
// Grounded on testboards.py's RUN_TTL setnx guard.
func (l *Leases) TryStartHWTestRun(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.db.SetNX(ctx, store.K.HWTestRunning(), "1", ttl)
}

// EndHWTestRun releases the global run lease early, once a sweep
// finishes well inside its TTL.
func (l *Leases) EndHWTestRun(ctx context.Context) error {
	return l.db.Del(ctx, store.K.HWTestRunning())
}

// HWTestTriggered reports whether an operator has requested an
// out-of-cycle test run via the observability API.
func (l *Leases) HWTestTriggered(ctx context.Context) (bool, error) {
	_, ok, err := l.db.Get(ctx, store.K.HWTestTrigger())
	return ok, err
}

// ClearHWTestTrigger consumes the trigger flag once a run has started.
func (l *Leases) ClearHWTestTrigger(ctx context.Context) error {
	return l.db.Del(ctx, store.K.HWTestTrigger())
}

// HWTestTriggerTTL bounds how long a self-test trigger can sit
// unconsumed before it self-clears, matching spec.md §4.6's `setex
// hwtest.trigger 300s`.
const HWTestTriggerTTL = 300 * time.Second

// SetHWTestTrigger requests an out-of-cycle hardware self-test sweep.
func (l *Leases) SetHWTestTrigger(ctx context.Context) error {
	return l.db.SetEX(ctx, store.K.HWTestTrigger(), "1", HWTestTriggerTTL)
}

// TryMarkTesting claims serial for the duration of its self-test, TTL
// bounded so a crashed test sweep cannot strand a board forever.
// Grounded on testboards.py's per-board TEST_TTL marker.
func (l *Leases) TryMarkTesting(ctx context.Context, serial string, ttl time.Duration) (bool, error) {
	return l.db.SetNX(ctx, store.K.HWTestTesting(serial), "1", ttl)
}

// ClearTesting releases the per-board testing marker once the test
// finishes, ahead of its TTL.
func (l *Leases) ClearTesting(ctx context.Context, serial string) error {
	return l.db.Del(ctx, store.K.HWTestTesting(serial))
}

// RecordHWTestResult stamps serial's hardware self-test outcome.
// status is "pass" or "fail"; a "fail" status overrides Snapshot's
// computed board status to StatusHWTestFailed.
func (l *Leases) RecordHWTestResult(ctx context.Context, serial, status, message string, at time.Time) error {
	if err := l.db.Set(ctx, store.K.HWTestStatus(serial), status); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.HWTestTime(serial), epoch(at)); err != nil {
		return err
	}
	return l.db.Set(ctx, store.K.HWTestMessage(serial), message)
}
