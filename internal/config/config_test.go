package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info
broker:
  gateway_url: ws://localhost:4002/ws
  account_id: DU1234567
  client_id: 12
  circuit_breaker: true
schedule:
  timezone: America/New_York
  run_at: "10:28"
  exit_at: "17:00"
strategy:
  symbol: SPY
  multiplier: 100
  daily_premium: 500
  hedge_ratio: 0.5
  short_delta_target: -0.12
  hedge_credit_target: 0.10
  short_dte: 90
  hedge_dte: 90
  stop_loss_pct: 3.0
  take_profit_pct: 0.9
  slippage_adj: 0.02
storage:
  path: trades.db
alerts:
  telegram: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "SPY", cfg.Strategy.Symbol)
	assert.Equal(t, -0.12, cfg.Strategy.ShortDeltaTarget)
	assert.True(t, cfg.Broker.CircuitBreaker)
	assert.True(t, cfg.Alerts.Telegram)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "SMART", cfg.Strategy.Exchange)
	assert.Equal(t, "SPY", cfg.Strategy.TradingClass)
	assert.Equal(t, defaultDeltaTolerance, cfg.Strategy.ShortDeltaTolerance)
	assert.Equal(t, defaultCreditTolerance, cfg.Strategy.HedgeCreditTolerance)
	assert.Equal(t, defaultTick, cfg.Strategy.Tick)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("THETA_ACCOUNT", "DU7654321")
	yaml := validYAML
	cfg, err := Load(writeConfig(t,
		replaceLine(yaml, "  account_id: DU1234567", "  account_id: ${THETA_ACCOUNT}")))
	require.NoError(t, err)
	assert.Equal(t, "DU7654321", cfg.Broker.AccountID)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nsurprise: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{"bad mode", "  mode: paper", "  mode: yolo"},
		{"missing gateway", "  gateway_url: ws://localhost:4002/ws", "  gateway_url: \"\""},
		{"missing account", "  account_id: DU1234567", "  account_id: \"\""},
		{"missing symbol", "  symbol: SPY", "  symbol: \"\""},
		{"zero multiplier", "  multiplier: 100", "  multiplier: 0"},
		{"zero premium", "  daily_premium: 500", "  daily_premium: 0"},
		{"positive short delta", "  short_delta_target: -0.12", "  short_delta_target: 0.12"},
		{"credit target out of range", "  hedge_credit_target: 0.10", "  hedge_credit_target: 1.5"},
		{"zero short dte", "  short_dte: 90", "  short_dte: 0"},
		{"zero stop loss", "  stop_loss_pct: 3.0", "  stop_loss_pct: 0"},
		{"take profit out of range", "  take_profit_pct: 0.9", "  take_profit_pct: 1.0"},
		{"missing storage path", "  path: trades.db", "  path: \"\""},
		{"bad run time", "  run_at: \"10:28\"", "  run_at: \"25:99\""},
		{"exit before run", "  exit_at: \"17:00\"", "  exit_at: \"09:00\""},
		{"bad timezone", "  timezone: America/New_York", "  timezone: Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, replaceLine(validYAML, tt.old, tt.new)))
			require.Error(t, err)
		})
	}
}

func replaceLine(yaml, old, new string) string {
	return strings.Replace(yaml, old, new, 1)
}
