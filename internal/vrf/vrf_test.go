package vrf

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() RequestConfig {
	return RequestConfig{
		CallbackBudget: 200_000,
		Confirmations:  3,
		Words:          1,
	}
}

func TestRequestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RequestConfig)
		wantErr bool
	}{
		{"valid", func(c *RequestConfig) {}, false},
		{"budget below floor", func(c *RequestConfig) { c.CallbackBudget = MinCallbackBudget - 1 }, true},
		{"budget at floor", func(c *RequestConfig) { c.CallbackBudget = MinCallbackBudget }, false},
		{"zero confirmations", func(c *RequestConfig) { c.Confirmations = 0 }, true},
		{"confirmations too high", func(c *RequestConfig) { c.Confirmations = 201 }, true},
		{"confirmations at max", func(c *RequestConfig) { c.Confirmations = 200 }, false},
		{"zero words", func(c *RequestConfig) { c.Words = 0 }, true},
		{"two words", func(c *RequestConfig) { c.Words = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type recordingConsumer struct {
	mu      sync.Mutex
	handles []uuid.UUID
	values  [][][32]byte
}

func (r *recordingConsumer) HandleFulfilled(handle uuid.UUID, values [][32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, handle)
	r.values = append(r.values, values)
}

func (r *recordingConsumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func TestSimulatorDeliversAfterLatency(t *testing.T) {
	clock := quartz.NewMock(t)
	sim := NewSimulator(clock, 2*time.Second, log.New(io.Discard))
	consumer := &recordingConsumer{}
	sim.SetConsumer(consumer)

	handle, err := sim.Request(context.Background(), validConfig())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, handle)
	assert.Equal(t, 0, consumer.count())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Advance(2 * time.Second).MustWait(ctx)

	require.Equal(t, 1, consumer.count())
	assert.Equal(t, handle, consumer.handles[0])
	require.Len(t, consumer.values[0], 1)
	assert.NotEqual(t, [32]byte{}, consumer.values[0][0])
}

func TestSimulatorRejectsInvalidConfig(t *testing.T) {
	clock := quartz.NewMock(t)
	sim := NewSimulator(clock, time.Second, log.New(io.Discard))
	sim.SetConsumer(&recordingConsumer{})

	cfg := validConfig()
	cfg.Words = 3
	handle, err := sim.Request(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Equal(t, uuid.Nil, handle)
}

func TestSimulatorDropRate(t *testing.T) {
	clock := quartz.NewMock(t)
	sim := NewSimulator(clock, time.Second, log.New(io.Discard))
	consumer := &recordingConsumer{}
	sim.SetConsumer(consumer)
	sim.SetDropRate(1.0)

	handle, err := sim.Request(context.Background(), validConfig())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, handle)

	// Nothing was scheduled, so the handle never resolves.
	clock.Advance(time.Hour)
	assert.Equal(t, 0, consumer.count())
}
