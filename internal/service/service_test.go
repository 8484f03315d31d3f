package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/hashmix"
	"github.com/lox/fairdice/internal/ledger"
	"github.com/lox/fairdice/internal/vrf"
)

const feeRecipient = "treasury"

// failingBank rejects every transfer after an optional number of successes.
type failingBank struct {
	inner *ledger.MemoryBank
	fail  bool
}

func (b *failingBank) Transfer(identity string, amount uint64) error {
	if b.fail {
		return errors.New("bank unavailable")
	}
	return b.inner.Transfer(identity, amount)
}

type rig struct {
	svc    *GameService
	engine *engine.Engine
	ledger *ledger.Ledger
	bank   *failingBank
	clock  *quartz.Mock
	sim    *vrf.Simulator
	cfg    engine.Config
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := log.New(io.Discard)

	cfg := engine.DefaultConfig()
	cfg.Salt = hashmix.Salt{Instance: "service-test", Network: "testnet"}

	led := ledger.New()
	clock := quartz.NewMock(t)
	sim := vrf.NewSimulator(clock, time.Millisecond, logger)

	eng, err := engine.New(cfg, clock, led, sim, logger)
	require.NoError(t, err)
	sim.SetConsumer(eng)

	bank := &failingBank{inner: ledger.NewMemoryBank()}
	svc := New(eng, led, bank, feeRecipient, logger)
	svc.Fund(10_000)

	return &rig{svc: svc, engine: eng, ledger: led, bank: bank, clock: clock, sim: sim, cfg: cfg}
}

// playToSettlement drives a full game through the simulator. The outcome is
// whatever the simulator's randomness produces.
func (r *rig) playToSettlement(t *testing.T, identity string) {
	t.Helper()
	ctx := context.Background()
	secret := [32]byte{0xAA}

	c := hashmix.DeriveCommitment(identity, 3, secret, r.cfg.Salt, r.engine.SequenceOf(identity)+1)
	require.NoError(t, r.svc.Commit(identity, c, r.cfg.Stake))

	r.clock.Advance(r.cfg.Cooldown)
	require.NoError(t, r.svc.Reveal(ctx, identity, 3, secret))

	r.clock.Advance(time.Millisecond).MustWait(ctx)
	_, ok := r.engine.LastResult(identity)
	require.True(t, ok)
}

func TestPauseBlocksCommitOnly(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	secret := [32]byte{0x01}

	// Alice gets a game in flight before the pause.
	c := hashmix.DeriveCommitment("alice", 3, secret, r.cfg.Salt, 1)
	require.NoError(t, r.svc.Commit("alice", c, r.cfg.Stake))

	r.svc.Pause()
	assert.True(t, r.svc.Paused())

	// New games are refused.
	c2 := hashmix.DeriveCommitment("bob", 3, secret, r.cfg.Salt, 1)
	err := r.svc.Commit("bob", c2, r.cfg.Stake)
	assert.ErrorIs(t, err, ErrPaused)

	// Alice's in-flight game proceeds normally.
	r.clock.Advance(r.cfg.Cooldown)
	require.NoError(t, r.svc.Reveal(ctx, "alice", 3, secret))
	r.clock.Advance(time.Millisecond).MustWait(ctx)
	_, ok := r.engine.LastResult("alice")
	assert.True(t, ok)

	r.svc.Resume()
	assert.False(t, r.svc.Paused())
	assert.NoError(t, r.svc.Commit("bob", c2, r.cfg.Stake))
}

func TestCancelsWorkWhilePaused(t *testing.T) {
	r := newRig(t)
	secret := [32]byte{0x02}

	c := hashmix.DeriveCommitment("alice", 3, secret, r.cfg.Salt, 1)
	require.NoError(t, r.svc.Commit("alice", c, r.cfg.Stake))

	r.svc.Pause()

	r.clock.Advance(r.cfg.Cooldown + r.cfg.RevealWindow)
	refund, err := r.svc.CancelExpired("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(495), refund)
}

func TestWithdraw(t *testing.T) {
	r := newRig(t)

	_, err := r.svc.Withdraw("alice")
	assert.ErrorIs(t, err, ledger.ErrNothingToWithdraw)

	r.ledger.CreditWithdrawable("alice", 500)

	amount, err := r.svc.Withdraw("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
	assert.Equal(t, uint64(500), r.bank.inner.BalanceOf("alice"))

	// Credit is gone; a second withdrawal finds nothing.
	_, err = r.svc.Withdraw("alice")
	assert.ErrorIs(t, err, ledger.ErrNothingToWithdraw)
}

func TestWithdrawRestoresCreditOnBankFailure(t *testing.T) {
	r := newRig(t)
	r.ledger.CreditWithdrawable("alice", 500)
	before := r.ledger.Snapshot()

	r.bank.fail = true
	_, err := r.svc.Withdraw("alice")
	require.Error(t, err)

	// Ledger state is exactly as before the attempt.
	assert.Equal(t, before, r.ledger.Snapshot())
	assert.Equal(t, uint64(500), r.ledger.WithdrawableOf("alice"))
	assert.Equal(t, uint64(0), r.bank.inner.BalanceOf("alice"))

	r.bank.fail = false
	amount, err := r.svc.Withdraw("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
}

func TestWithdrawFees(t *testing.T) {
	r := newRig(t)
	r.playToSettlement(t, "alice")

	// Only the fee recipient may collect.
	_, err := r.svc.WithdrawFees("alice")
	assert.ErrorIs(t, err, ErrNotFeeRecipient)

	amount, err := r.svc.WithdrawFees(feeRecipient)
	require.NoError(t, err)
	assert.Equal(t, r.cfg.Fee(), amount)
	assert.Equal(t, amount, r.bank.inner.BalanceOf(feeRecipient))
	assert.Equal(t, uint64(0), r.ledger.Snapshot().FeesAccrued)

	_, err = r.svc.WithdrawFees(feeRecipient)
	assert.ErrorIs(t, err, ledger.ErrNothingToWithdraw)
}

func TestWithdrawFeesRestoredOnBankFailure(t *testing.T) {
	r := newRig(t)
	r.playToSettlement(t, "alice")
	fee := r.cfg.Fee()

	r.bank.fail = true
	_, err := r.svc.WithdrawFees(feeRecipient)
	require.Error(t, err)
	assert.Equal(t, fee, r.ledger.Snapshot().FeesAccrued)

	r.bank.fail = false
	amount, err := r.svc.WithdrawFees(feeRecipient)
	require.NoError(t, err)
	assert.Equal(t, fee, amount)
}

func TestStatusProjection(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	secret := [32]byte{0x03}

	st := r.svc.Status("alice")
	assert.Equal(t, "idle", st.State)
	assert.True(t, st.CanCommit)
	assert.False(t, st.Paused)
	assert.Equal(t, uint64(10_000), st.Pool.Balance)
	assert.Nil(t, st.LastResult)

	c := hashmix.DeriveCommitment("alice", 3, secret, r.cfg.Salt, 1)
	require.NoError(t, r.svc.Commit("alice", c, r.cfg.Stake))

	st = r.svc.Status("alice")
	assert.Equal(t, "committed", st.State)
	assert.Equal(t, uint64(1), st.Sequence)
	assert.False(t, st.CanCommit)
	assert.Equal(t, r.cfg.Cooldown, st.RevealOpens)

	r.clock.Advance(r.cfg.Cooldown)
	require.NoError(t, r.svc.Reveal(ctx, "alice", 3, secret))

	st = r.svc.Status("alice")
	assert.Equal(t, "awaiting_randomness", st.State)
	assert.Equal(t, r.cfg.Prize(), st.Pool.InFlightReserve)
	assert.Equal(t, r.cfg.RetryTimeout, st.RetryIn)

	r.clock.Advance(time.Millisecond).MustWait(ctx)

	st = r.svc.Status("alice")
	assert.Equal(t, "idle", st.State)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, uint64(1), st.Sequence)
}
