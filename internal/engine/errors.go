package engine

import "errors"

// Caller errors. Each failed operation returns one of these unchanged in
// meaning so callers can branch on the condition with errors.Is rather than
// parsing message text. No state is mutated when one of these is returned.
var (
	// ErrGameAlreadyActive rejects a commit while the identity has a game
	// in flight.
	ErrGameAlreadyActive = errors.New("a game is already active for this identity")

	// ErrNoActiveGame rejects reveal or expired-cancel when no committed
	// game exists.
	ErrNoActiveGame = errors.New("no committed game for this identity")

	// ErrNotAwaitingRandomness rejects retry or stuck-cancel when the game
	// is not waiting on the randomness service.
	ErrNotAwaitingRandomness = errors.New("game is not awaiting randomness")

	// ErrZeroCommitment rejects an all-zero commitment value.
	ErrZeroCommitment = errors.New("commitment must be non-zero")

	// ErrWrongStake rejects any stake that is not exactly the configured
	// amount.
	ErrWrongStake = errors.New("stake must match the configured amount exactly")

	// ErrInvalidGuess rejects a guess outside [1, die sides].
	ErrInvalidGuess = errors.New("guess outside the valid range")

	// ErrCommitPhaseNotOver rejects a reveal before the cooldown elapses.
	ErrCommitPhaseNotOver = errors.New("reveal window has not opened yet")

	// ErrRevealPhaseOver rejects a reveal after the deadline.
	ErrRevealPhaseOver = errors.New("reveal window has closed")

	// ErrInvalidReveal rejects a guess/secret pair that does not re-derive
	// the stored commitment.
	ErrInvalidReveal = errors.New("revealed guess and secret do not match commitment")

	// ErrRequestNotTimedOut rejects a retry before the outstanding request
	// has aged past the retry timeout.
	ErrRequestNotTimedOut = errors.New("randomness request has not timed out yet")

	// ErrMaxRetriesReached rejects a retry once the bounded retry budget is
	// exhausted, regardless of elapsed time.
	ErrMaxRetriesReached = errors.New("maximum randomness retries reached")

	// ErrRevealNotExpired rejects an expired-cancel before the reveal
	// deadline.
	ErrRevealNotExpired = errors.New("reveal window has not expired yet")

	// ErrNotStuckYet rejects a stuck-cancel before the stuck timeout.
	ErrNotStuckYet = errors.New("randomness request is not considered stuck yet")
)
