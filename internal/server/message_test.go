package server

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/ledger"
	"github.com/lox/fairdice/internal/service"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeCommitted, CommittedData{Sequence: 7})
	require.NoError(t, err)

	assert.Equal(t, MessageTypeCommitted, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var data CommittedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, uint64(7), data.Sequence)
}

func TestDecodeHash(t *testing.T) {
	_, err := decodeHash("zz")
	assert.Error(t, err)

	_, err = decodeHash("deadbeef")
	assert.Error(t, err)

	h, err := decodeHash(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), h[0])
	assert.Equal(t, byte(0xAB), h[31])
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{service.ErrPaused, "paused"},
		{service.ErrNotFeeRecipient, "not_fee_recipient"},
		{engine.ErrGameAlreadyActive, "game_already_active"},
		{engine.ErrNoActiveGame, "no_active_game"},
		{engine.ErrInvalidReveal, "invalid_reveal"},
		{engine.ErrRevealPhaseOver, "reveal_phase_over"},
		{engine.ErrMaxRetriesReached, "max_retries_reached"},
		{engine.ErrNotStuckYet, "not_stuck_yet"},
		{ledger.ErrPoolInsufficient, "pool_insufficient"},
		{ledger.ErrNothingToWithdraw, "nothing_to_withdraw"},
		{errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(tt.err), tt.err.Error())
	}

	// Wrapped errors still map.
	wrapped := errors.Join(errors.New("context"), engine.ErrWrongStake)
	assert.Equal(t, "wrong_stake", errorCode(wrapped))
}
