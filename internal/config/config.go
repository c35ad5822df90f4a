// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Selection defaults applied when the strategy section leaves them unset.
const (
	// defaultDeltaTolerance bounds how far from the delta target a short
	// strike may land before the run aborts
	defaultDeltaTolerance = 0.03
	// defaultCreditTolerance is the matching bound for the hedge premium
	defaultCreditTolerance = 0.05
	// defaultTick is the option price increment used for child rounding
	defaultTick = 0.01
	// defaultTimezone anchors schedule times when the config omits one
	defaultTimezone = "America/New_York"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Storage     StorageConfig     `yaml:"storage"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // empty disables file logging
}

// BrokerConfig defines gateway connection settings.
type BrokerConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	AccountID  string `yaml:"account_id"`
	ClientID   int    `yaml:"client_id"`
	// CircuitBreaker wraps gateway requests in a breaker so a flapping
	// gateway fails fast instead of stacking timeouts
	CircuitBreaker bool `yaml:"circuit_breaker"`
}

// ScheduleConfig defines the daily run schedule.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"` // e.g., "America/New_York"
	RunAt    string `yaml:"run_at"`   // "HH:MM"
	ExitAt   string `yaml:"exit_at"`  // "HH:MM", hard process exit
}

// StrategyConfig defines the hedged short put parameters.
type StrategyConfig struct {
	Symbol       string `yaml:"symbol"`
	Exchange     string `yaml:"exchange"`
	TradingClass string `yaml:"trading_class"`
	Multiplier   int    `yaml:"multiplier"`

	// DailyPremium is the target premium to collect per run, in account
	// currency; it sizes the short leg
	DailyPremium float64 `yaml:"daily_premium"`
	HedgeRatio   float64 `yaml:"hedge_ratio"`

	ShortDeltaTarget     float64 `yaml:"short_delta_target"`
	ShortDeltaTolerance  float64 `yaml:"short_delta_tolerance"`
	HedgeCreditTarget    float64 `yaml:"hedge_credit_target"`
	HedgeCreditTolerance float64 `yaml:"hedge_credit_tolerance"`

	ShortDTE int `yaml:"short_dte"`
	HedgeDTE int `yaml:"hedge_dte"`

	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	SlippageAdj   float64 `yaml:"slippage_adj"`
	Tick          float64 `yaml:"tick"`
}

// StorageConfig defines where trade records land.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AlertsConfig toggles external alert channels. Telegram credentials come
// from the environment, not from here.
type AlertsConfig struct {
	Telegram bool `yaml:"telegram"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// applying defaults for the optional selection knobs.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.GatewayURL == "" {
		return fmt.Errorf("broker.gateway_url is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	if c.Broker.ClientID < 0 {
		return fmt.Errorf("broker.client_id must be >= 0")
	}

	// Strategy validation
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.Multiplier <= 0 {
		return fmt.Errorf("strategy.multiplier must be > 0")
	}
	if c.Strategy.DailyPremium <= 0 {
		return fmt.Errorf("strategy.daily_premium must be > 0")
	}
	if c.Strategy.HedgeRatio <= 0 {
		return fmt.Errorf("strategy.hedge_ratio must be > 0")
	}
	if c.Strategy.ShortDeltaTarget >= 0 || c.Strategy.ShortDeltaTarget < -1 {
		return fmt.Errorf("strategy.short_delta_target must be in [-1,0) for a short put")
	}
	if c.Strategy.HedgeCreditTarget <= 0 || c.Strategy.HedgeCreditTarget >= 1 {
		return fmt.Errorf("strategy.hedge_credit_target must be in (0,1)")
	}
	if c.Strategy.ShortDTE <= 0 || c.Strategy.HedgeDTE <= 0 {
		return fmt.Errorf("strategy DTE targets must be > 0")
	}
	if c.Strategy.StopLossPct <= 0 {
		return fmt.Errorf("strategy.stop_loss_pct must be > 0")
	}
	if c.Strategy.TakeProfitPct <= 0 || c.Strategy.TakeProfitPct >= 1 {
		return fmt.Errorf("strategy.take_profit_pct must be in (0,1)")
	}
	if c.Strategy.SlippageAdj < 0 {
		return fmt.Errorf("strategy.slippage_adj must be >= 0")
	}
	c.normalizeStrategy()
	if c.Strategy.ShortDeltaTolerance <= 0 || c.Strategy.HedgeCreditTolerance <= 0 {
		return fmt.Errorf("strategy tolerances must be > 0")
	}
	if c.Strategy.Tick <= 0 {
		return fmt.Errorf("strategy.tick must be > 0")
	}

	// Storage validation
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	// Schedule validation
	loc, err := c.Location()
	if err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	runAt, err1 := time.ParseInLocation("15:04", c.Schedule.RunAt, loc)
	exitAt, err2 := time.ParseInLocation("15:04", c.Schedule.ExitAt, loc)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("schedule times must be HH:MM")
	}
	if !runAt.Before(exitAt) {
		return fmt.Errorf("schedule.run_at (%s) must be before schedule.exit_at (%s)",
			c.Schedule.RunAt, c.Schedule.ExitAt)
	}

	return nil
}

func (c *Config) normalizeStrategy() {
	if c.Strategy.Exchange == "" {
		c.Strategy.Exchange = "SMART"
	}
	if c.Strategy.TradingClass == "" {
		c.Strategy.TradingClass = c.Strategy.Symbol
	}
	if c.Strategy.ShortDeltaTolerance == 0 {
		c.Strategy.ShortDeltaTolerance = defaultDeltaTolerance
	}
	if c.Strategy.HedgeCreditTolerance == 0 {
		c.Strategy.HedgeCreditTolerance = defaultCreditTolerance
	}
	if c.Strategy.Tick == 0 {
		c.Strategy.Tick = defaultTick
	}
}

// Location resolves the schedule timezone, defaulting to US eastern time.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	return time.LoadLocation(tz)
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}
