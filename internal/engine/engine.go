// Package engine implements the commit-reveal settlement state machine: one
// reusable game record per identity, the funds-reservation discipline around
// the asynchronous randomness request, and the timeout escape hatches that
// keep funds live when the participant or the randomness service goes silent.
//
// The engine never moves funds itself. Every operation is bookkeeping against
// the ledger; participants pull their winnings and refunds out through the
// service layer.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/fairdice/internal/hashmix"
	"github.com/lox/fairdice/internal/ledger"
	"github.com/lox/fairdice/internal/vrf"
)

// Config holds the rules of the game and the timing thresholds.
type Config struct {
	// Stake is the exact amount a commit must pay. No over- or
	// under-payment is accepted.
	Stake uint64

	// FeeBps is the protocol fee in basis points, charged against the
	// stake at commit time regardless of outcome.
	FeeBps uint64

	// PayoutMultiplier sets the prize as a multiple of the stake.
	PayoutMultiplier uint64

	// DieSides is the size of the guess domain.
	DieSides uint8

	// Cooldown is how long after commit the reveal window opens.
	Cooldown time.Duration

	// RevealWindow is how long the reveal window stays open.
	RevealWindow time.Duration

	// RetryTimeout is how old an outstanding randomness request must be
	// before it may be retried.
	RetryTimeout time.Duration

	// StuckTimeout is how old an outstanding request must be before the
	// participant can force-cancel with a full refund. Must exceed
	// RetryTimeout.
	StuckTimeout time.Duration

	// MaxRetries bounds randomness retries per game.
	MaxRetries int

	// Request carries the parameters for each randomness request.
	Request vrf.RequestConfig

	// Salt binds commitments to this deployment.
	Salt hashmix.Salt
}

// DefaultConfig returns the standard table rules.
func DefaultConfig() Config {
	return Config{
		Stake:            1000,
		FeeBps:           100,
		PayoutMultiplier: 5,
		DieSides:         6,
		Cooldown:         60 * time.Second,
		RevealWindow:     5 * time.Minute,
		RetryTimeout:     2 * time.Minute,
		StuckTimeout:     time.Hour,
		MaxRetries:       3,
		Request: vrf.RequestConfig{
			CallbackBudget: 200_000,
			Confirmations:  3,
			Words:          1,
		},
	}
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	if c.Stake == 0 {
		return fmt.Errorf("stake must be positive")
	}
	if c.FeeBps > 10_000 {
		return fmt.Errorf("fee %d bps exceeds 100%%", c.FeeBps)
	}
	if c.PayoutMultiplier == 0 {
		return fmt.Errorf("payout multiplier must be positive")
	}
	if c.DieSides < 2 {
		return fmt.Errorf("die must have at least 2 sides, got %d", c.DieSides)
	}
	if c.Cooldown <= 0 || c.RevealWindow <= 0 {
		return fmt.Errorf("cooldown and reveal window must be positive")
	}
	if c.StuckTimeout <= c.RetryTimeout {
		return fmt.Errorf("stuck timeout %s must exceed retry timeout %s", c.StuckTimeout, c.RetryTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return c.Request.Validate()
}

// Fee is the amount charged against each stake.
func (c Config) Fee() uint64 {
	return c.Stake * c.FeeBps / 10_000
}

// Prize is the potential payout per game.
func (c Config) Prize() uint64 {
	return c.Stake * c.PayoutMultiplier
}

// Engine owns the per-identity game records and drives every transition.
// One mutex serialises all operations, so each transition completes fully
// before the next begins; the only asynchronous boundary is the randomness
// fulfilment, which re-enters through HandleFulfilled like any other
// operation.
type Engine struct {
	cfg    Config
	clock  quartz.Clock
	ledger *ledger.Ledger
	port   vrf.Port
	logger *log.Logger

	mu       sync.Mutex
	records  map[string]*Record
	issued   map[string][]uuid.UUID // handles issued for the identity's current game
	requests map[uuid.UUID]string
	results  map[string]*Result
	sinks    []Sink
}

// New creates an engine. The clock is injected so time-window behaviour is
// testable; all timeout checks are evaluated lazily at call time, there are no
// internal timers.
func New(cfg Config, clock quartz.Clock, led *ledger.Ledger, port vrf.Port, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		ledger:   led,
		port:     port,
		logger:   logger.WithPrefix("engine"),
		records:  make(map[string]*Record),
		issued:   make(map[string][]uuid.UUID),
		requests: make(map[uuid.UUID]string),
		results:  make(map[string]*Result),
	}, nil
}

// Subscribe registers an event sink. Sinks are invoked synchronously while the
// engine lock is held and must not call back into the engine.
func (e *Engine) Subscribe(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Engine) emit(ev Event) {
	for _, s := range e.sinks {
		s.OnEvent(ev)
	}
}

// record returns the identity's slot, creating the Idle slot on first use.
// Slots are reused across games, never deleted.
func (e *Engine) record(identity string) *Record {
	rec, ok := e.records[identity]
	if !ok {
		rec = &Record{}
		e.records[identity] = rec
	}
	return rec
}

// Commit opens a new game: stores the commitment, charges the fee, and fixes
// the reveal window. The stake must match the configured amount exactly.
func (e *Engine) Commit(identity string, commitment [32]byte, stake uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if commitment == ([32]byte{}) {
		return ErrZeroCommitment
	}
	if stake != e.cfg.Stake {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongStake, stake, e.cfg.Stake)
	}

	rec := e.record(identity)
	if rec.State != Idle {
		return ErrGameAlreadyActive
	}

	now := e.clock.Now()
	fee := e.cfg.Fee()

	e.ledger.Deposit(stake)
	e.ledger.ChargeFee(fee)

	rec.Commitment = commitment
	rec.CommitTime = now
	rec.RevealStart = now.Add(e.cfg.Cooldown)
	rec.RevealDeadline = rec.RevealStart.Add(e.cfg.RevealWindow)
	rec.FeeCharged = fee
	rec.Sequence++
	rec.State = Committed

	e.logger.Info("Commit accepted",
		"identity", identity,
		"sequence", rec.Sequence,
		"stake", stake,
		"fee", fee,
		"revealStart", rec.RevealStart,
		"revealDeadline", rec.RevealDeadline)

	e.emit(CommitEvent{
		At:             now,
		Identity:       identity,
		Sequence:       rec.Sequence,
		Commitment:     hex.EncodeToString(commitment[:]),
		Stake:          stake,
		Fee:            fee,
		RevealStart:    rec.RevealStart,
		RevealDeadline: rec.RevealDeadline,
	})
	e.emit(FeeChargedEvent{At: now, Identity: identity, Sequence: rec.Sequence, Amount: fee})
	return nil
}

// Reveal discloses the guess and secret, reserves the prize, and issues the
// randomness request. The reservation happens before the request leaves the
// engine, so two concurrent reveals can never both pass the availability check
// against the same headroom.
func (e *Engine) Reveal(ctx context.Context, identity string, guess uint8, secret [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if guess < 1 || guess > e.cfg.DieSides {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrInvalidGuess, guess, e.cfg.DieSides)
	}

	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return ErrNoActiveGame
	}

	now := e.clock.Now()
	if now.Before(rec.RevealStart) {
		return ErrCommitPhaseNotOver
	}
	if !now.Before(rec.RevealDeadline) {
		return ErrRevealPhaseOver
	}
	if hashmix.DeriveCommitment(identity, guess, secret, e.cfg.Salt, rec.Sequence) != rec.Commitment {
		return ErrInvalidReveal
	}

	prize := e.cfg.Prize()
	if err := e.ledger.ReserveForGame(prize); err != nil {
		return err
	}

	handle, err := e.port.Request(ctx, e.cfg.Request)
	if err != nil {
		e.ledger.ReleaseReservation(prize)
		return fmt.Errorf("issue randomness request: %w", err)
	}

	rec.Guess = guess
	rec.Secret = secret
	rec.RequestHandle = handle
	rec.RequestTime = now
	rec.State = AwaitingRandomness
	e.requests[handle] = identity
	e.issued[identity] = append(e.issued[identity], handle)

	e.logger.Info("Reveal accepted, awaiting randomness",
		"identity", identity,
		"sequence", rec.Sequence,
		"guess", guess,
		"handle", handle,
		"prize", prize)

	e.emit(RequestIssuedEvent{
		At:       now,
		Identity: identity,
		Sequence: rec.Sequence,
		Handle:   handle,
		Guess:    guess,
		Prize:    prize,
	})
	return nil
}

// Retry replaces an outstanding randomness request that has aged past the
// retry timeout. The superseded handle can never settle the game afterwards.
func (e *Engine) Retry(ctx context.Context, identity string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return ErrNotAwaitingRandomness
	}

	now := e.clock.Now()
	if now.Before(rec.RequestTime.Add(e.cfg.RetryTimeout)) {
		return ErrRequestNotTimedOut
	}
	if rec.RetryCount >= e.cfg.MaxRetries {
		return ErrMaxRetriesReached
	}

	handle, err := e.port.Request(ctx, e.cfg.Request)
	if err != nil {
		return fmt.Errorf("issue randomness request: %w", err)
	}

	old := rec.RequestHandle
	rec.RequestHandle = handle
	rec.RequestTime = now
	rec.RetryCount++
	e.requests[handle] = identity
	e.issued[identity] = append(e.issued[identity], handle)

	e.logger.Warn("Randomness request retried",
		"identity", identity,
		"oldHandle", old,
		"newHandle", handle,
		"retryCount", rec.RetryCount)

	e.emit(RetryEvent{
		At:         now,
		Identity:   identity,
		Sequence:   rec.Sequence,
		OldHandle:  old,
		NewHandle:  handle,
		RetryCount: rec.RetryCount,
	})
	return nil
}

// HandleFulfilled is the asynchronous entry point for the randomness service.
// It never fails and never mutates state on an anomalous delivery; each ignore
// path is reported through the event stream so operators can diagnose the
// external service without the delivery itself ever being treated as fatal.
func (e *Engine) HandleFulfilled(handle uuid.UUID, values [][32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	identity, ok := e.requests[handle]
	if !ok {
		e.logger.Warn("Ignoring fulfilment for unknown handle", "handle", handle)
		e.emit(CallbackIgnoredEvent{At: now, Handle: handle, Reason: IgnoreUnknownHandle})
		return
	}

	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		e.logger.Warn("Ignoring fulfilment for game not awaiting randomness", "handle", handle, "identity", identity)
		e.emit(CallbackIgnoredEvent{At: now, Identity: identity, Handle: handle, Reason: IgnoreInvalidState})
		return
	}

	if rec.RequestHandle != handle {
		e.logger.Warn("Ignoring fulfilment for superseded handle",
			"handle", handle, "current", rec.RequestHandle, "identity", identity)
		e.emit(CallbackIgnoredEvent{At: now, Identity: identity, Handle: handle, Reason: IgnoreStaleHandle})
		return
	}

	if len(values) == 0 {
		e.logger.Warn("Ignoring fulfilment with empty payload", "handle", handle, "identity", identity)
		e.emit(CallbackIgnoredEvent{At: now, Identity: identity, Handle: handle, Reason: IgnoreEmptyPayload})
		return
	}

	prize := e.cfg.Prize()
	e.ledger.ReleaseReservation(prize)

	entropy := hashmix.MixRandomness(values[0], rec.Secret, identity, handle, e.cfg.Salt)
	outcome := hashmix.Outcome(entropy, e.cfg.DieSides)
	won := outcome == rec.Guess

	var payout uint64
	if won {
		payout = prize
		e.ledger.CreditWithdrawable(identity, prize)
	}

	result := &Result{
		SettledAt:     now,
		RequestHandle: handle,
		Outcome:       outcome,
		Guess:         rec.Guess,
		Won:           won,
		Payout:        payout,
	}
	e.results[identity] = result

	sequence := rec.Sequence
	guess := rec.Guess
	e.clearRequests(identity)
	rec.reset()

	e.logger.Info("Game settled",
		"identity", identity,
		"sequence", sequence,
		"outcome", outcome,
		"guess", guess,
		"won", won,
		"payout", payout)

	e.emit(SettledEvent{
		At:       now,
		Identity: identity,
		Sequence: sequence,
		Handle:   handle,
		Outcome:  outcome,
		Guess:    guess,
		Won:      won,
		Payout:   payout,
	})
}

// CancelExpired abandons a committed game whose reveal window has passed.
// The refund is half the stake net of fee, floor division; the odd unit on an
// odd net stake stays in the pool.
func (e *Engine) CancelExpired(identity string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[identity]
	if !ok || rec.State != Committed {
		return 0, ErrNoActiveGame
	}

	now := e.clock.Now()
	if now.Before(rec.RevealDeadline) {
		return 0, ErrRevealNotExpired
	}

	refund := (e.cfg.Stake - rec.FeeCharged) / 2
	if refund > 0 {
		e.ledger.CreditWithdrawable(identity, refund)
	}

	sequence := rec.Sequence
	rec.reset()

	e.logger.Info("Expired game cancelled", "identity", identity, "sequence", sequence, "refund", refund)
	e.emit(CancelExpiredEvent{At: now, Identity: identity, Sequence: sequence, Refund: refund})
	return refund, nil
}

// CancelStuck abandons a game whose randomness request has been outstanding
// past the stuck timeout. The refund is the full stake net of fee because an
// unresponsive external service is not the participant's fault; the reserved
// prize returns to the pool.
func (e *Engine) CancelStuck(identity string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[identity]
	if !ok || rec.State != AwaitingRandomness {
		return 0, ErrNotAwaitingRandomness
	}

	now := e.clock.Now()
	if now.Before(rec.RequestTime.Add(e.cfg.StuckTimeout)) {
		return 0, ErrNotStuckYet
	}

	prize := e.cfg.Prize()
	e.ledger.ReleaseReservation(prize)

	refund := e.cfg.Stake - rec.FeeCharged
	if refund > 0 {
		e.ledger.CreditWithdrawable(identity, refund)
	}

	handle := rec.RequestHandle
	sequence := rec.Sequence
	e.clearRequests(identity)
	rec.reset()

	e.logger.Warn("Stuck game cancelled",
		"identity", identity,
		"sequence", sequence,
		"handle", handle,
		"refund", refund,
		"released", prize)

	e.emit(CancelStuckEvent{
		At:       now,
		Identity: identity,
		Sequence: sequence,
		Handle:   handle,
		Refund:   refund,
		Released: prize,
	})
	return refund, nil
}

// clearRequests removes every handle issued for the identity's current game
// from the fulfilment index. Called exactly when the game leaves
// AwaitingRandomness.
func (e *Engine) clearRequests(identity string) {
	for _, h := range e.issued[identity] {
		delete(e.requests, h)
	}
	delete(e.issued, identity)
}

var _ vrf.Consumer = (*Engine)(nil)

// Config returns the engine's rules.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetFeeBps updates the protocol fee rate. Applies to future commits only.
func (e *Engine) SetFeeBps(bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bps > 10_000 {
		return fmt.Errorf("fee %d bps exceeds 100%%", bps)
	}
	e.cfg.FeeBps = bps
	return nil
}

// SetRequestConfig updates the randomness request parameters after
// validation. Applies to future requests only.
func (e *Engine) SetRequestConfig(cfg vrf.RequestConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Request = cfg
	return nil
}

// IsCallerError reports whether err is one of the engine's synchronous
// precondition failures, as opposed to an infrastructure fault.
func IsCallerError(err error) bool {
	for _, target := range []error{
		ErrGameAlreadyActive, ErrNoActiveGame, ErrNotAwaitingRandomness,
		ErrZeroCommitment, ErrWrongStake, ErrInvalidGuess,
		ErrCommitPhaseNotOver, ErrRevealPhaseOver, ErrInvalidReveal,
		ErrRequestNotTimedOut, ErrMaxRetriesReached,
		ErrRevealNotExpired, ErrNotStuckYet,
		ledger.ErrPoolInsufficient, ledger.ErrNothingToWithdraw,
		vrf.ErrInvalidConfiguration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
