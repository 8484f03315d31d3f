package engine

import (
	"time"

	"github.com/google/uuid"
)

// State is the phase of an identity's current game.
type State int

const (
	// Idle means no game is in flight; the record slot is reusable.
	Idle State = iota

	// Committed means a commitment is stored and the participant must
	// reveal within the window.
	Committed

	// AwaitingRandomness means the reveal was accepted, the prize is
	// reserved, and a randomness request is outstanding.
	AwaitingRandomness
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Committed:
		return "committed"
	case AwaitingRandomness:
		return "awaiting_randomness"
	default:
		return "unknown"
	}
}

// Record is the per-identity game slot. One record exists per identity; it is
// reset in place between games rather than deleted, and the sequence number
// survives every reset.
type Record struct {
	Commitment     [32]byte
	CommitTime     time.Time
	RevealStart    time.Time
	RevealDeadline time.Time
	Guess          uint8
	Secret         [32]byte
	RequestHandle  uuid.UUID
	RequestTime    time.Time
	Sequence       uint64
	RetryCount     int
	FeeCharged     uint64
	State          State
}

// reset returns the record to Idle, preserving only the monotonic sequence
// counter.
func (r *Record) reset() {
	seq := r.Sequence
	*r = Record{Sequence: seq}
}

// Result is the most recent settlement for an identity. Only the latest is
// retained; full history lives in the event transcript.
type Result struct {
	SettledAt     time.Time `json:"settledAt"`
	RequestHandle uuid.UUID `json:"requestHandle"`
	Outcome       uint8     `json:"outcome"`
	Guess         uint8     `json:"guess"`
	Won           bool      `json:"won"`
	Payout        uint64    `json:"payout"`
}
