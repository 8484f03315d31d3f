// Package service wraps the game engine with the operational surface a
// deployment needs: pausing, pull-payment withdrawals through an external
// bank, protocol fee collection and an aggregated per-identity status view.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/ledger"
)

var (
	// ErrPaused is returned when a new game is attempted while paused.
	// Games already in flight are never blocked by a pause.
	ErrPaused = errors.New("new games are paused")

	// ErrNotFeeRecipient is returned when anyone but the configured fee
	// recipient tries to collect protocol fees.
	ErrNotFeeRecipient = errors.New("caller is not the fee recipient")
)

// GameService is the single entry point for participants and operators. It
// owns the pause flag and the fee recipient; everything else is delegated to
// the engine and ledger.
type GameService struct {
	engine       *engine.Engine
	ledger       *ledger.Ledger
	bank         ledger.Bank
	feeRecipient string
	logger       *log.Logger

	paused atomic.Bool
}

// New builds a GameService. feeRecipient is the only identity allowed to
// collect accrued protocol fees.
func New(eng *engine.Engine, led *ledger.Ledger, bank ledger.Bank, feeRecipient string, logger *log.Logger) *GameService {
	return &GameService{
		engine:       eng,
		ledger:       led,
		bank:         bank,
		feeRecipient: feeRecipient,
		logger:       logger.WithPrefix("service"),
	}
}

// Commit starts a new game. Blocked while paused; everything downstream of a
// commit must stay available so in-flight games can always finish.
func (s *GameService) Commit(identity string, commitment [32]byte, stake uint64) error {
	if s.paused.Load() {
		return ErrPaused
	}
	return s.engine.Commit(identity, commitment, stake)
}

// Reveal opens the committed guess. Deliberately available while paused.
func (s *GameService) Reveal(ctx context.Context, identity string, guess uint8, secret [32]byte) error {
	return s.engine.Reveal(ctx, identity, guess, secret)
}

// Retry replaces a timed-out randomness request. Available while paused.
func (s *GameService) Retry(ctx context.Context, identity string) error {
	return s.engine.Retry(ctx, identity)
}

// CancelExpired abandons an unrevealed game past its deadline. Available
// while paused.
func (s *GameService) CancelExpired(identity string) (uint64, error) {
	return s.engine.CancelExpired(identity)
}

// CancelStuck abandons a game with an unresponsive randomness request.
// Available while paused.
func (s *GameService) CancelStuck(identity string) (uint64, error) {
	return s.engine.CancelStuck(identity)
}

// Withdraw pays out the identity's full withdrawable credit through the bank.
// The credit is zeroed before the transfer is attempted and restored in full
// if the transfer fails, so a failing bank can never double-pay.
func (s *GameService) Withdraw(identity string) (uint64, error) {
	amount, err := s.ledger.DebitWithdrawable(identity)
	if err != nil {
		return 0, err
	}

	if err := s.bank.Transfer(identity, amount); err != nil {
		s.ledger.RestoreWithdrawable(identity, amount)
		s.logger.Error("Withdrawal transfer failed, credit restored",
			"identity", identity, "amount", amount, "error", err)
		return 0, fmt.Errorf("transfer %d to %s: %w", amount, identity, err)
	}

	s.logger.Info("Withdrawal paid", "identity", identity, "amount", amount)
	return amount, nil
}

// WithdrawFees pays all accrued protocol fees to the fee recipient. Only the
// fee recipient may call it. Same zero-then-transfer discipline as Withdraw.
func (s *GameService) WithdrawFees(identity string) (uint64, error) {
	if identity != s.feeRecipient {
		return 0, ErrNotFeeRecipient
	}

	amount, err := s.ledger.WithdrawFees()
	if err != nil {
		return 0, err
	}

	if err := s.bank.Transfer(s.feeRecipient, amount); err != nil {
		s.ledger.RestoreFees(amount)
		s.logger.Error("Fee transfer failed, fees restored", "amount", amount, "error", err)
		return 0, fmt.Errorf("transfer fees %d: %w", amount, err)
	}

	s.logger.Info("Fees collected", "recipient", s.feeRecipient, "amount", amount)
	return amount, nil
}

// Fund adds house liquidity to the prize pool.
func (s *GameService) Fund(amount uint64) {
	s.ledger.Deposit(amount)
	s.logger.Info("Pool funded", "amount", amount)
}

// Pause stops new commits. In-flight games, cancellations and withdrawals
// keep working.
func (s *GameService) Pause() {
	s.paused.Store(true)
	s.logger.Warn("New games paused")
}

// Resume lifts a pause.
func (s *GameService) Resume() {
	s.paused.Store(false)
	s.logger.Info("New games resumed")
}

// Paused reports whether new commits are blocked.
func (s *GameService) Paused() bool {
	return s.paused.Load()
}

// Status is the aggregated view of one identity plus the shared pool, shaped
// for a single read by clients.
type Status struct {
	Identity     string        `json:"identity"`
	State        string        `json:"state"`
	Sequence     uint64        `json:"sequence"`
	RetryCount   int           `json:"retryCount"`
	Withdrawable uint64        `json:"withdrawable"`
	CanCommit    bool          `json:"canCommit"`
	CanReveal    bool          `json:"canReveal"`
	CanRetry     bool          `json:"canRetry"`
	CanCancel    bool          `json:"canCancel"`
	RevealOpens  time.Duration `json:"revealOpensIn"`
	RevealCloses time.Duration `json:"revealClosesIn"`
	RetryIn      time.Duration `json:"retryAvailableIn"`
	StuckIn      time.Duration `json:"stuckCancelAvailableIn"`

	RequestHandle uuid.UUID      `json:"requestHandle,omitempty"`
	LastResult    *engine.Result `json:"lastResult,omitempty"`

	Pool   ledger.Snapshot `json:"pool"`
	Paused bool            `json:"paused"`
}

// Status assembles the full view for an identity.
func (s *GameService) Status(identity string) Status {
	st := Status{
		Identity:     identity,
		State:        engine.Idle.String(),
		Sequence:     s.engine.SequenceOf(identity),
		Withdrawable: s.engine.WithdrawableOf(identity),
		CanCommit:    s.engine.CanCommit(identity),
		CanReveal:    s.engine.CanReveal(identity),
		CanRetry:     s.engine.CanRetry(identity),
		CanCancel:    s.engine.CanCancelExpired(identity) || s.engine.CanCancelStuck(identity),
		RevealOpens:  s.engine.RevealOpensIn(identity),
		RevealCloses: s.engine.RevealClosesIn(identity),
		RetryIn:      s.engine.RetryAvailableIn(identity),
		StuckIn:      s.engine.StuckCancelAvailableIn(identity),
		Pool:         s.engine.Snapshot(),
		Paused:       s.paused.Load(),
	}

	if rec, ok := s.engine.RecordOf(identity); ok {
		st.State = rec.State.String()
		st.RetryCount = rec.RetryCount
		st.RequestHandle = rec.RequestHandle
	}
	if result, ok := s.engine.LastResult(identity); ok {
		st.LastResult = &result
	}
	return st
}

// Engine exposes the underlying engine for read access and event
// subscription.
func (s *GameService) Engine() *engine.Engine {
	return s.engine
}
