package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/ledger"
	"github.com/lox/fairdice/internal/service"
	"github.com/lox/fairdice/internal/transcript"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type AuthData struct {
	Identity string `json:"identity"`
	Token    string `json:"token,omitempty"`
}

type CommitData struct {
	// Commitment is the hex-encoded 32-byte commitment hash.
	Commitment string `json:"commitment"`
	Stake      uint64 `json:"stake"`
}

type RevealData struct {
	Guess uint8 `json:"guess"`
	// Secret is the hex-encoded 32-byte reveal secret.
	Secret string `json:"secret"`
}

type CancelData struct {
	// Mode is "expired" for an unrevealed game past its deadline or
	// "stuck" for a game whose randomness never arrived.
	Mode string `json:"mode"`
}

type HistoryData struct {
	Limit int `json:"limit,omitempty"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success  bool   `json:"success"`
	Identity string `json:"identity,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CommittedData struct {
	Sequence       uint64    `json:"sequence"`
	RevealOpensAt  time.Time `json:"revealOpensAt"`
	RevealClosesAt time.Time `json:"revealClosesAt"`
}

type RevealedData struct {
	RequestHandle uuid.UUID `json:"requestHandle"`
}

type RetriedData struct {
	RequestHandle uuid.UUID `json:"requestHandle"`
	RetryCount    int       `json:"retryCount"`
}

type CancelledData struct {
	Mode   string `json:"mode"`
	Refund uint64 `json:"refund"`
}

type WithdrawnData struct {
	Amount uint64 `json:"amount"`
}

type HistoryListData struct {
	Entries []transcript.Entry `json:"entries"`
}

// GameEventData wraps an engine event for broadcast to the identity it
// concerns.
type GameEventData struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// StatusReportData is the aggregated per-identity view; the shape is owned by
// the service layer.
type StatusReportData = service.Status

// decodeHash parses a hex-encoded 32-byte value.
func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// errorCode maps engine and service errors onto stable protocol codes so
// clients can branch without parsing message text.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrPaused):
		return "paused"
	case errors.Is(err, service.ErrNotFeeRecipient):
		return "not_fee_recipient"
	case errors.Is(err, engine.ErrGameAlreadyActive):
		return "game_already_active"
	case errors.Is(err, engine.ErrNoActiveGame):
		return "no_active_game"
	case errors.Is(err, engine.ErrNotAwaitingRandomness):
		return "not_awaiting_randomness"
	case errors.Is(err, engine.ErrZeroCommitment):
		return "zero_commitment"
	case errors.Is(err, engine.ErrWrongStake):
		return "wrong_stake"
	case errors.Is(err, engine.ErrInvalidGuess):
		return "invalid_guess"
	case errors.Is(err, engine.ErrCommitPhaseNotOver):
		return "commit_phase_not_over"
	case errors.Is(err, engine.ErrRevealPhaseOver):
		return "reveal_phase_over"
	case errors.Is(err, engine.ErrInvalidReveal):
		return "invalid_reveal"
	case errors.Is(err, engine.ErrRequestNotTimedOut):
		return "request_not_timed_out"
	case errors.Is(err, engine.ErrMaxRetriesReached):
		return "max_retries_reached"
	case errors.Is(err, engine.ErrRevealNotExpired):
		return "reveal_not_expired"
	case errors.Is(err, engine.ErrNotStuckYet):
		return "not_stuck_yet"
	case errors.Is(err, ledger.ErrPoolInsufficient):
		return "pool_insufficient"
	case errors.Is(err, ledger.ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	default:
		return "internal_error"
	}
}
