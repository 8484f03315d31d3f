package vrf

import (
	"context"
	crand "crypto/rand"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/fairdice/internal/randutil"
)

// Simulator is an in-process randomness service for the standalone server and
// integration tests. It validates requests like the real service, then
// delivers a fulfilment after a fixed latency on the injected clock. A
// non-zero drop rate makes a fraction of requests never deliver, which
// exercises the engine's retry and stuck-cancel paths.
type Simulator struct {
	clock    quartz.Clock
	latency  time.Duration
	dropRate float64
	logger   *log.Logger

	mu       sync.Mutex
	consumer Consumer
	rng      *rand.Rand
}

// NewSimulator creates a simulator delivering after the given latency.
func NewSimulator(clock quartz.Clock, latency time.Duration, logger *log.Logger) *Simulator {
	return &Simulator{
		clock:   clock,
		latency: latency,
		logger:  logger.WithPrefix("vrf-sim"),
		rng:     randutil.New(time.Now().UnixNano()),
	}
}

// SetConsumer wires the fulfilment target. Must be called before the first
// request; split from the constructor because the engine and the simulator
// reference each other.
func (s *Simulator) SetConsumer(c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = c
}

// SetSeed makes the drop decisions reproducible across runs.
func (s *Simulator) SetSeed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = randutil.New(seed)
}

// SetDropRate makes the given fraction of future requests never deliver.
func (s *Simulator) SetDropRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropRate = rate
}

// Request implements Port.
func (s *Simulator) Request(ctx context.Context, cfg RequestConfig) (uuid.UUID, error) {
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, err
	}

	handle := uuid.New()

	s.mu.Lock()
	consumer := s.consumer
	dropped := s.dropRate > 0 && s.rng.Float64() < s.dropRate
	s.mu.Unlock()

	if dropped {
		s.logger.Warn("Dropping randomness request, fulfilment will never arrive", "handle", handle)
		return handle, nil
	}

	s.clock.AfterFunc(s.latency, func() {
		var value [32]byte
		if _, err := crand.Read(value[:]); err != nil {
			s.logger.Error("Failed to sample randomness, dropping fulfilment", "handle", handle, "error", err)
			return
		}
		s.logger.Debug("Delivering fulfilment", "handle", handle)
		consumer.HandleFulfilled(handle, [][32]byte{value})
	})

	s.logger.Debug("Randomness requested", "handle", handle, "latency", s.latency)
	return handle, nil
}
