package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/fairdice/cmd/fairdice/shared"
	"github.com/lox/fairdice/internal/auth"
	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/ledger"
	"github.com/lox/fairdice/internal/server"
	"github.com/lox/fairdice/internal/service"
	"github.com/lox/fairdice/internal/transcript"
	"github.com/lox/fairdice/internal/vrf"
)

// ServeCmd runs the settlement server
type ServeCmd struct {
	Config string `kong:"default='fairdice.hcl',help='Path to HCL configuration file'"`
	Addr   string `kong:"help='Override listen address from the config file'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
}

func (c *ServeCmd) Run() error {
	logger := shared.SetupLogger(c.Debug)

	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	addr := cfg.GetServerAddress()
	if c.Addr != "" {
		addr = c.Addr
	}

	clock := quartz.NewReal()
	led := ledger.New()
	bank := ledger.NewMemoryBank()

	sim := vrf.NewSimulator(clock, cfg.SimulatedLatency(), logger)
	sim.SetDropRate(cfg.Randomness.DropRate)
	if cfg.Randomness.Seed != 0 {
		sim.SetSeed(cfg.Randomness.Seed)
	}

	eng, err := engine.New(cfg.EngineConfig(), clock, led, sim, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	sim.SetConsumer(eng)

	svc := service.New(eng, led, bank, cfg.Server.FeeRecipient, logger)
	if cfg.Game.InitialPool > 0 {
		svc.Fund(cfg.Game.InitialPool)
	}

	var journal *transcript.Journal
	if cfg.Journal.Enabled {
		journal, err = transcript.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		eng.Subscribe(journal)
	}

	var validator auth.Validator = auth.NewNoopValidator()
	if cfg.Server.AuthURL != "" {
		validator = auth.NewHTTPValidator(cfg.Server.AuthURL, cfg.Server.AuthAdminSecret)
	}

	srv := server.NewServer(addr, svc, journal, validator, logger)
	eng.Subscribe(srv)

	rules := eng.Config()
	logger.Info("Starting fairdice server",
		"address", addr,
		"stake", rules.Stake,
		"feeBps", rules.FeeBps,
		"prize", rules.Prize(),
		"dieSides", rules.DieSides,
		"cooldown", rules.Cooldown,
		"revealWindow", rules.RevealWindow,
		"feeRecipient", cfg.Server.FeeRecipient,
		"journal", cfg.Journal.Enabled)

	ctx := shared.SetupSignalHandler(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		return srv.Stop()
	})

	return g.Wait()
}
