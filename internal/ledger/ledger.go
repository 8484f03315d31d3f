// Package ledger tracks the money side of the settlement engine: the total
// pool balance, accrued protocol fees, per-participant withdrawable credits,
// and the reservation counter for games that are waiting on external
// randomness. It does pure bookkeeping; actual fund movement happens in the
// caller, and only after the relevant internal counter has been zeroed.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNothingToWithdraw is returned when a withdrawal is attempted
	// against a zero credit balance.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")

	// ErrPoolInsufficient is returned when a reservation would exceed the
	// available pool.
	ErrPoolInsufficient = errors.New("prize pool insufficient")
)

// Snapshot is a consistent read of all ledger counters.
type Snapshot struct {
	Balance            uint64 `json:"balance"`
	Reserved           uint64 `json:"reserved"`
	Available          uint64 `json:"available"`
	PendingWithdrawals uint64 `json:"pendingWithdrawals"`
	FeesAccrued        uint64 `json:"feesAccrued"`
	InFlightReserve    uint64 `json:"inFlightReserve"`
}

// Ledger holds the aggregate counters shared by all in-flight games. All
// methods are safe for concurrent use; check-then-mutate operations
// (ReserveForGame in particular) are atomic with respect to each other, so two
// reveals can never both reserve against the same headroom.
type Ledger struct {
	mu                 sync.Mutex
	totalBalance       uint64
	pendingWithdrawals uint64
	feesAccrued        uint64
	inFlightReserve    uint64
	withdrawable       map[string]uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		withdrawable: make(map[string]uint64),
	}
}

// Deposit records funds entering the pool: participant stakes and external
// pool funding. It has no other effect.
func (l *Ledger) Deposit(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalBalance += amount
}

// ReserveForGame earmarks a potential payout for a game entering the
// awaiting-randomness state. The availability check and the reservation happen
// under one lock so concurrent reservations cannot overdraw the pool.
func (l *Ledger) ReserveForGame(amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available() < amount {
		return fmt.Errorf("%w: need %d, available %d", ErrPoolInsufficient, amount, l.available())
	}
	l.inFlightReserve += amount
	return nil
}

// ReleaseReservation returns an earmarked payout to the pool, on settlement or
// on a forced cancellation of a stuck game.
func (l *Ledger) ReleaseReservation(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.inFlightReserve {
		// Reservations are engine-controlled; an over-release means the
		// caller's accounting is broken. Clamp rather than underflow.
		amount = l.inFlightReserve
	}
	l.inFlightReserve -= amount
}

// CreditWithdrawable adds to a participant's pull-payment balance.
func (l *Ledger) CreditWithdrawable(identity string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withdrawable[identity] += amount
	l.pendingWithdrawals += amount
}

// DebitWithdrawable zeroes a participant's credit and removes it from the
// pool's accounting, returning the debited amount. The counter is zeroed
// before any funds move externally; if the external transfer then fails the
// caller restores the credit with RestoreWithdrawable.
func (l *Ledger) DebitWithdrawable(identity string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount := l.withdrawable[identity]
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	l.withdrawable[identity] = 0
	l.pendingWithdrawals -= amount
	l.totalBalance -= amount
	return amount, nil
}

// RestoreWithdrawable reinstates a debited credit after a failed external
// transfer, leaving the ledger exactly as it was before the debit.
func (l *Ledger) RestoreWithdrawable(identity string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withdrawable[identity] += amount
	l.pendingWithdrawals += amount
	l.totalBalance += amount
}

// ChargeFee accrues a protocol fee. The fee was part of an already-deposited
// stake, so only the accrual counter moves.
func (l *Ledger) ChargeFee(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feesAccrued += amount
}

// WithdrawFees zeroes the accrued fee counter and returns the amount owed to
// the fee recipient. Same zero-before-transfer contract as DebitWithdrawable.
func (l *Ledger) WithdrawFees() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount := l.feesAccrued
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	l.feesAccrued = 0
	l.totalBalance -= amount
	return amount, nil
}

// RestoreFees re-accrues fees after a failed external transfer.
func (l *Ledger) RestoreFees(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feesAccrued += amount
	l.totalBalance += amount
}

// WithdrawableOf returns a participant's current credit.
func (l *Ledger) WithdrawableOf(identity string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawable[identity]
}

// AvailablePool returns the headroom for new games.
func (l *Ledger) AvailablePool() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available()
}

// Snapshot returns a consistent copy of every counter.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Balance:            l.totalBalance,
		Reserved:           l.reserved(),
		Available:          l.available(),
		PendingWithdrawals: l.pendingWithdrawals,
		FeesAccrued:        l.feesAccrued,
		InFlightReserve:    l.inFlightReserve,
	}
}

func (l *Ledger) reserved() uint64 {
	return l.pendingWithdrawals + l.feesAccrued + l.inFlightReserve
}

func (l *Ledger) available() uint64 {
	r := l.reserved()
	if l.totalBalance < r {
		return 0
	}
	return l.totalBalance - r
}
