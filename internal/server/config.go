package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/hashmix"
	"github.com/lox/fairdice/internal/vrf"
)

// ServerConfig represents the complete server configuration
type ServerConfig struct {
	Server     ServerSettings   `hcl:"server,block"`
	Game       GameSettings     `hcl:"game,block"`
	Randomness RandomnessConfig `hcl:"randomness,block"`
	Journal    JournalConfig    `hcl:"journal,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address      string `hcl:"address,optional"`
	Port         int    `hcl:"port,optional"`
	LogLevel     string `hcl:"log_level,optional"`
	LogFile      string `hcl:"log_file,optional"`
	FeeRecipient string `hcl:"fee_recipient,optional"`

	// AuthURL enables external token validation when set; connections then
	// authenticate with a token instead of a self-asserted identity.
	AuthURL         string `hcl:"auth_url,optional"`
	AuthAdminSecret string `hcl:"auth_admin_secret,optional"`
}

// GameSettings defines the wager rules
type GameSettings struct {
	Stake            uint64 `hcl:"stake,optional"`
	FeeBps           uint64 `hcl:"fee_bps,optional"`
	PayoutMultiplier uint64 `hcl:"payout_multiplier,optional"`
	DieSides         uint8  `hcl:"die_sides,optional"`
	CooldownSeconds  int64  `hcl:"cooldown_seconds,optional"`
	RevealSeconds    int64  `hcl:"reveal_window_seconds,optional"`
	RetrySeconds     int64  `hcl:"retry_timeout_seconds,optional"`
	StuckSeconds     int64  `hcl:"stuck_timeout_seconds,optional"`
	MaxRetries       int    `hcl:"max_retries,optional"`
	InitialPool      uint64 `hcl:"initial_pool,optional"`
	SaltInstance     string `hcl:"salt_instance,optional"`
	SaltNetwork      string `hcl:"salt_network,optional"`
}

// RandomnessConfig defines the external randomness request parameters
type RandomnessConfig struct {
	CallbackBudget uint64  `hcl:"callback_budget,optional"`
	Confirmations  int     `hcl:"confirmations,optional"`
	LatencySeconds int64   `hcl:"simulated_latency_seconds,optional"`
	DropRate       float64 `hcl:"simulated_drop_rate,optional"`
	Seed           int64   `hcl:"simulated_seed,optional"`
}

// JournalConfig defines the event journal
type JournalConfig struct {
	Path    string `hcl:"path,optional"`
	Enabled bool   `hcl:"enabled,optional"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:      "localhost",
			Port:         8080,
			LogLevel:     "info",
			LogFile:      "fairdice-server.log",
			FeeRecipient: "treasury",
		},
		Game: GameSettings{
			Stake:            1000,
			FeeBps:           100,
			PayoutMultiplier: 5,
			DieSides:         6,
			CooldownSeconds:  60,
			RevealSeconds:    300,
			RetrySeconds:     120,
			StuckSeconds:     3600,
			MaxRetries:       3,
			InitialPool:      100_000,
			SaltInstance:     "fairdice-dev",
			SaltNetwork:      "local",
		},
		Randomness: RandomnessConfig{
			CallbackBudget: 200_000,
			Confirmations:  3,
			LatencySeconds: 5,
			DropRate:       0,
		},
		Journal: JournalConfig{
			Path:    "fairdice-transcript.db",
			Enabled: true,
		},
	}
}

// LoadServerConfig loads server configuration from HCL file
func LoadServerConfig(filename string) (*ServerConfig, error) {
	// Missing file means defaults
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills zero values with the defaults
func (c *ServerConfig) applyDefaults() {
	def := DefaultServerConfig()

	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	if c.Server.LogFile == "" {
		c.Server.LogFile = def.Server.LogFile
	}
	if c.Server.FeeRecipient == "" {
		c.Server.FeeRecipient = def.Server.FeeRecipient
	}

	if c.Game.Stake == 0 {
		c.Game.Stake = def.Game.Stake
	}
	if c.Game.FeeBps == 0 {
		c.Game.FeeBps = def.Game.FeeBps
	}
	if c.Game.PayoutMultiplier == 0 {
		c.Game.PayoutMultiplier = def.Game.PayoutMultiplier
	}
	if c.Game.DieSides == 0 {
		c.Game.DieSides = def.Game.DieSides
	}
	if c.Game.CooldownSeconds == 0 {
		c.Game.CooldownSeconds = def.Game.CooldownSeconds
	}
	if c.Game.RevealSeconds == 0 {
		c.Game.RevealSeconds = def.Game.RevealSeconds
	}
	if c.Game.RetrySeconds == 0 {
		c.Game.RetrySeconds = def.Game.RetrySeconds
	}
	if c.Game.StuckSeconds == 0 {
		c.Game.StuckSeconds = def.Game.StuckSeconds
	}
	if c.Game.MaxRetries == 0 {
		c.Game.MaxRetries = def.Game.MaxRetries
	}
	if c.Game.SaltInstance == "" {
		c.Game.SaltInstance = def.Game.SaltInstance
	}
	if c.Game.SaltNetwork == "" {
		c.Game.SaltNetwork = def.Game.SaltNetwork
	}

	if c.Randomness.CallbackBudget == 0 {
		c.Randomness.CallbackBudget = def.Randomness.CallbackBudget
	}
	if c.Randomness.Confirmations == 0 {
		c.Randomness.Confirmations = def.Randomness.Confirmations
	}
	if c.Randomness.LatencySeconds == 0 {
		c.Randomness.LatencySeconds = def.Randomness.LatencySeconds
	}

	if c.Journal.Path == "" {
		c.Journal.Path = def.Journal.Path
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.FeeRecipient == "" {
		return fmt.Errorf("fee recipient must be set")
	}
	if c.Randomness.DropRate < 0 || c.Randomness.DropRate > 1 {
		return fmt.Errorf("simulated drop rate must be within [0, 1]: %f", c.Randomness.DropRate)
	}

	// The engine performs the full rules validation.
	return c.EngineConfig().Validate()
}

// EngineConfig converts the file representation into the engine's Config.
func (c *ServerConfig) EngineConfig() engine.Config {
	return engine.Config{
		Stake:            c.Game.Stake,
		FeeBps:           c.Game.FeeBps,
		PayoutMultiplier: c.Game.PayoutMultiplier,
		DieSides:         c.Game.DieSides,
		Cooldown:         time.Duration(c.Game.CooldownSeconds) * time.Second,
		RevealWindow:     time.Duration(c.Game.RevealSeconds) * time.Second,
		RetryTimeout:     time.Duration(c.Game.RetrySeconds) * time.Second,
		StuckTimeout:     time.Duration(c.Game.StuckSeconds) * time.Second,
		MaxRetries:       c.Game.MaxRetries,
		Request: vrf.RequestConfig{
			CallbackBudget: c.Randomness.CallbackBudget,
			Confirmations:  c.Randomness.Confirmations,
			Words:          vrf.RequiredWords,
		},
		Salt: hashmix.Salt{
			Instance: c.Game.SaltInstance,
			Network:  c.Game.SaltNetwork,
		},
	}
}

// SimulatedLatency returns the configured randomness delivery latency.
func (c *ServerConfig) SimulatedLatency() time.Duration {
	return time.Duration(c.Randomness.LatencySeconds) * time.Second
}

// GetServerAddress returns the full server address
func (c *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
