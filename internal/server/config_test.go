package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.GetServerAddress())
	assert.Equal(t, uint64(1000), cfg.Game.Stake)
	assert.Equal(t, uint64(100), cfg.Game.FeeBps)
	assert.Equal(t, "treasury", cfg.Server.FeeRecipient)
	assert.True(t, cfg.Journal.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfig(t, `
server {
  address       = "0.0.0.0"
  port          = 9000
  log_level     = "debug"
  fee_recipient = "house"
}

game {
  stake                 = 2000
  fee_bps               = 250
  payout_multiplier     = 4
  die_sides             = 20
  cooldown_seconds      = 30
  reveal_window_seconds = 600
  retry_timeout_seconds = 60
  stuck_timeout_seconds = 1800
  max_retries           = 5
  salt_instance         = "prod-1"
  salt_network          = "mainnet"
}

randomness {
  callback_budget = 350000
  confirmations   = 6
}

journal {
  enabled = true
  path    = "/var/lib/fairdice/transcript.db"
}
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.GetServerAddress())
	assert.Equal(t, "house", cfg.Server.FeeRecipient)

	ec := cfg.EngineConfig()
	assert.Equal(t, uint64(2000), ec.Stake)
	assert.Equal(t, uint64(250), ec.FeeBps)
	assert.Equal(t, uint8(20), ec.DieSides)
	assert.Equal(t, 30*time.Second, ec.Cooldown)
	assert.Equal(t, 10*time.Minute, ec.RevealWindow)
	assert.Equal(t, 30*time.Minute, ec.StuckTimeout)
	assert.Equal(t, 5, ec.MaxRetries)
	assert.Equal(t, uint64(350_000), ec.Request.CallbackBudget)
	assert.Equal(t, 6, ec.Request.Confirmations)
	assert.Equal(t, "prod-1", ec.Salt.Instance)
	assert.Equal(t, "mainnet", ec.Salt.Network)
	assert.Equal(t, "/var/lib/fairdice/transcript.db", cfg.Journal.Path)

	// Untouched values fall back to defaults.
	assert.Equal(t, "fairdice-server.log", cfg.Server.LogFile)
	assert.Equal(t, int64(5), cfg.Randomness.LatencySeconds)
}

func TestLoadServerConfigInvalid(t *testing.T) {
	path := writeConfig(t, `server { this is not hcl `)
	_, err := LoadServerConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadRules(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Game.DieSides = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.Server.Port = 70_000
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.Randomness.DropRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.Game.RetrySeconds = 3600
	cfg.Game.StuckSeconds = 3600
	assert.Error(t, cfg.Validate())
}
