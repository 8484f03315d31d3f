package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a settlement engine event.
type EventType string

const (
	EventTypeCommit          EventType = "commit"
	EventTypeRequestIssued   EventType = "request_issued"
	EventTypeRetry           EventType = "retry"
	EventTypeSettled         EventType = "settled"
	EventTypeCancelExpired   EventType = "cancel_expired"
	EventTypeCancelStuck     EventType = "cancel_stuck"
	EventTypeCallbackIgnored EventType = "callback_ignored"
	EventTypeFeeCharged      EventType = "fee_charged"
)

// String returns the string representation of the event type.
func (et EventType) String() string {
	return string(et)
}

// IgnoreReason explains why a fulfilment callback was absorbed without
// touching state. These surface only through events, never as errors, so the
// external service is never penalised for a late or malformed delivery.
type IgnoreReason string

const (
	IgnoreUnknownHandle IgnoreReason = "unknown_handle"
	IgnoreInvalidState  IgnoreReason = "invalid_state"
	IgnoreStaleHandle   IgnoreReason = "stale_handle"
	IgnoreEmptyPayload  IgnoreReason = "empty_payload"
)

// Event is a record of one state transition or diagnostic. The stream of
// events is sufficient to reconstruct full game history externally; the engine
// itself only keeps the latest result per identity.
type Event interface {
	EventType() EventType
	Timestamp() time.Time
	// Who returns the identity the event concerns, or "" when it cannot be
	// attributed (an unknown-handle callback).
	Who() string
}

// Sink receives engine events. Delivery is synchronous and fire-and-forget;
// sinks must not call back into the engine.
type Sink interface {
	OnEvent(Event)
}

// CommitEvent records a new commitment.
type CommitEvent struct {
	At             time.Time `json:"at"`
	Identity       string    `json:"identity"`
	Sequence       uint64    `json:"sequence"`
	Commitment     string    `json:"commitment"`
	Stake          uint64    `json:"stake"`
	Fee            uint64    `json:"fee"`
	RevealStart    time.Time `json:"revealStart"`
	RevealDeadline time.Time `json:"revealDeadline"`
}

func (e CommitEvent) EventType() EventType { return EventTypeCommit }
func (e CommitEvent) Timestamp() time.Time { return e.At }
func (e CommitEvent) Who() string          { return e.Identity }

// RequestIssuedEvent records a randomness request leaving the engine, either
// at reveal time or on a retry.
type RequestIssuedEvent struct {
	At       time.Time `json:"at"`
	Identity string    `json:"identity"`
	Sequence uint64    `json:"sequence"`
	Handle   uuid.UUID `json:"handle"`
	Guess    uint8     `json:"guess"`
	Prize    uint64    `json:"prize"`
}

func (e RequestIssuedEvent) EventType() EventType { return EventTypeRequestIssued }
func (e RequestIssuedEvent) Timestamp() time.Time { return e.At }
func (e RequestIssuedEvent) Who() string          { return e.Identity }

// RetryEvent records a stale request being superseded.
type RetryEvent struct {
	At         time.Time `json:"at"`
	Identity   string    `json:"identity"`
	Sequence   uint64    `json:"sequence"`
	OldHandle  uuid.UUID `json:"oldHandle"`
	NewHandle  uuid.UUID `json:"newHandle"`
	RetryCount int       `json:"retryCount"`
}

func (e RetryEvent) EventType() EventType { return EventTypeRetry }
func (e RetryEvent) Timestamp() time.Time { return e.At }
func (e RetryEvent) Who() string          { return e.Identity }

// SettledEvent records a successful settlement.
type SettledEvent struct {
	At       time.Time `json:"at"`
	Identity string    `json:"identity"`
	Sequence uint64    `json:"sequence"`
	Handle   uuid.UUID `json:"handle"`
	Outcome  uint8     `json:"outcome"`
	Guess    uint8     `json:"guess"`
	Won      bool      `json:"won"`
	Payout   uint64    `json:"payout"`
}

func (e SettledEvent) EventType() EventType { return EventTypeSettled }
func (e SettledEvent) Timestamp() time.Time { return e.At }
func (e SettledEvent) Who() string          { return e.Identity }

// CancelExpiredEvent records a punitive cancellation of an unrevealed game.
type CancelExpiredEvent struct {
	At       time.Time `json:"at"`
	Identity string    `json:"identity"`
	Sequence uint64    `json:"sequence"`
	Refund   uint64    `json:"refund"`
}

func (e CancelExpiredEvent) EventType() EventType { return EventTypeCancelExpired }
func (e CancelExpiredEvent) Timestamp() time.Time { return e.At }
func (e CancelExpiredEvent) Who() string          { return e.Identity }

// CancelStuckEvent records a full-refund cancellation of a game whose
// randomness never arrived.
type CancelStuckEvent struct {
	At       time.Time `json:"at"`
	Identity string    `json:"identity"`
	Sequence uint64    `json:"sequence"`
	Handle   uuid.UUID `json:"handle"`
	Refund   uint64    `json:"refund"`
	Released uint64    `json:"released"`
}

func (e CancelStuckEvent) EventType() EventType { return EventTypeCancelStuck }
func (e CancelStuckEvent) Timestamp() time.Time { return e.At }
func (e CancelStuckEvent) Who() string          { return e.Identity }

// CallbackIgnoredEvent records a fulfilment that was absorbed without mutating
// state, with the distinguishing reason for operators.
type CallbackIgnoredEvent struct {
	At       time.Time    `json:"at"`
	Identity string       `json:"identity,omitempty"`
	Handle   uuid.UUID    `json:"handle"`
	Reason   IgnoreReason `json:"reason"`
}

func (e CallbackIgnoredEvent) EventType() EventType { return EventTypeCallbackIgnored }
func (e CallbackIgnoredEvent) Timestamp() time.Time { return e.At }
func (e CallbackIgnoredEvent) Who() string          { return e.Identity }

// FeeChargedEvent records a protocol fee accrual.
type FeeChargedEvent struct {
	At       time.Time `json:"at"`
	Identity string    `json:"identity"`
	Sequence uint64    `json:"sequence"`
	Amount   uint64    `json:"amount"`
}

func (e FeeChargedEvent) EventType() EventType { return EventTypeFeeCharged }
func (e FeeChargedEvent) Timestamp() time.Time { return e.At }
func (e FeeChargedEvent) Who() string          { return e.Identity }
