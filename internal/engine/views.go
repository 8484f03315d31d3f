package engine

import (
	"time"

	"github.com/lox/fairdice/internal/ledger"
)

// Read accessors for the aggregation layer. All are pure snapshots with no
// side effects; eligibility and time-remaining values are evaluated against
// the clock at call time, mirroring the lazily-evaluated transitions.

// RecordOf returns a copy of the identity's game record.
func (e *Engine) RecordOf(identity string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// LastResult returns the identity's most recent settlement.
func (e *Engine) LastResult(identity string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[identity]
	if !ok {
		return Result{}, false
	}
	return *res, true
}

// SequenceOf returns the identity's game counter.
func (e *Engine) SequenceOf(identity string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok {
		return 0
	}
	return rec.Sequence
}

// CanCommit reports whether a new commit would be accepted.
func (e *Engine) CanCommit(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	return !ok || rec.State == Idle
}

// CanReveal reports whether the identity is inside an open reveal window.
func (e *Engine) CanReveal(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return false
	}
	now := e.clock.Now()
	return !now.Before(rec.RevealStart) && now.Before(rec.RevealDeadline)
}

// CanRetry reports whether a randomness retry would be accepted.
func (e *Engine) CanRetry(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return false
	}
	if rec.RetryCount >= e.cfg.MaxRetries {
		return false
	}
	return !e.clock.Now().Before(rec.RequestTime.Add(e.cfg.RetryTimeout))
}

// CanCancelExpired reports whether an expired-cancel would be accepted.
func (e *Engine) CanCancelExpired(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return false
	}
	return !e.clock.Now().Before(rec.RevealDeadline)
}

// CanCancelStuck reports whether a stuck-cancel would be accepted.
func (e *Engine) CanCancelStuck(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return false
	}
	return !e.clock.Now().Before(rec.RequestTime.Add(e.cfg.StuckTimeout))
}

// RevealOpensIn returns the time until the reveal window opens, zero if it has
// opened or no game is committed.
func (e *Engine) RevealOpensIn(identity string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return 0
	}
	return e.until(rec.RevealStart)
}

// RevealClosesIn returns the time until the reveal deadline, zero if it has
// passed or no game is committed.
func (e *Engine) RevealClosesIn(identity string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return 0
	}
	return e.until(rec.RevealDeadline)
}

// RetryAvailableIn returns the time until the outstanding request may be
// retried, zero if it already can be or no request is outstanding.
func (e *Engine) RetryAvailableIn(identity string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return 0
	}
	return e.until(rec.RequestTime.Add(e.cfg.RetryTimeout))
}

// StuckCancelAvailableIn returns the time until a stuck-cancel becomes
// possible, zero if it already is or no request is outstanding.
func (e *Engine) StuckCancelAvailableIn(identity string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return 0
	}
	return e.until(rec.RequestTime.Add(e.cfg.StuckTimeout))
}

func (e *Engine) until(t time.Time) time.Duration {
	d := t.Sub(e.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns the ledger counters.
func (e *Engine) Snapshot() ledger.Snapshot {
	return e.ledger.Snapshot()
}

// WithdrawableOf returns the identity's pull-payment credit.
func (e *Engine) WithdrawableOf(identity string) uint64 {
	return e.ledger.WithdrawableOf(identity)
}
