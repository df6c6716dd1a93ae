// Package config provides configuration management for the expected-move service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/refprice"
	"github.com/eddiefleurent/expected_move/internal/util"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	yaml "gopkg.in/yaml.v3"
)

// Environment modes
const (
	ModeLive    = "live"
	ModeSandbox = "sandbox"
	ModeMock    = "mock"
)

const (
	defaultTimezone     = "America/New_York"
	defaultSessionOpen  = "09:30"
	defaultSessionClose = "16:00"
	defaultFetchTimeout = "5s"
	defaultLogLevel     = "info"
	defaultPort         = 8080
	defaultProxySymbol  = "VIX"
	defaultLookbackDays = 365
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Tickers     []TickerConfig    `yaml:"tickers"`
	Volatility  VolatilityConfig  `yaml:"volatility"`
	Server      ServerConfig      `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | sandbox | mock
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // optional, rotated
}

// BrokerConfig defines market data API settings.
type BrokerConfig struct {
	APIKey         string               `yaml:"api_key"`
	APIEndpoint    string               `yaml:"api_endpoint"`
	FetchTimeout   string               `yaml:"fetch_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig overrides the breaker defaults; zero fields keep them.
type CircuitBreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// ScheduleConfig defines the trading calendar used to resolve the reference price.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`      // e.g., "America/New_York"
	SessionOpen  string `yaml:"session_open"`  // "HH:MM"
	SessionClose string `yaml:"session_close"` // "HH:MM"
}

// TickerConfig is one selectable underlying.
type TickerConfig struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Name   string `yaml:"name" json:"name"`
}

// VolatilityConfig defines the volatility forecast settings.
type VolatilityConfig struct {
	IVProxySymbol string  `yaml:"iv_proxy_symbol"`
	LookbackDays  int     `yaml:"lookback_days"`
	RegimeBand    float64 `yaml:"regime_band"`
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// DefaultTickers are offered when none are configured.
func DefaultTickers() []TickerConfig {
	return []TickerConfig{
		{Symbol: "QQQ", Name: "Invesco QQQ Trust"},
		{Symbol: "GLD", Name: "SPDR Gold Shares"},
	}
}

// Default returns a valid mock-mode configuration.
func Default() *Config {
	c := &Config{Environment: EnvironmentConfig{Mode: ModeMock}}
	c.normalize()
	return c
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

// Validate fills defaults and checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	switch c.Environment.Mode {
	case ModeLive, ModeSandbox, ModeMock:
	default:
		return fmt.Errorf("environment.mode must be 'live', 'sandbox' or 'mock'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	// Broker validation
	if c.Environment.Mode != ModeMock && c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required unless environment.mode is 'mock'")
	}
	if d, err := time.ParseDuration(c.Broker.FetchTimeout); err != nil || d <= 0 {
		return fmt.Errorf("broker.fetch_timeout must be a positive duration")
	}
	cb := c.Broker.CircuitBreaker
	for name, v := range map[string]string{"interval": cb.Interval, "timeout": cb.Timeout} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("broker.circuit_breaker.%s must be a positive duration", name)
		}
	}
	if cb.FailureRatio < 0 || cb.FailureRatio > 1 {
		return fmt.Errorf("broker.circuit_breaker.failure_ratio must be between 0 and 1")
	}

	// Schedule validation
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil && c.Schedule.Timezone != defaultTimezone {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	open, err1 := parseClock(c.Schedule.SessionOpen)
	closeAt, err2 := parseClock(c.Schedule.SessionClose)
	if err1 != nil || err2 != nil || open >= closeAt {
		return fmt.Errorf("schedule session window invalid (open/close parse/order)")
	}

	// Tickers validation
	seen := make(map[string]bool, len(c.Tickers))
	for i, t := range c.Tickers {
		if strings.TrimSpace(t.Symbol) == "" {
			return fmt.Errorf("tickers[%d].symbol is required", i)
		}
		key := strings.ToUpper(t.Symbol)
		if seen[key] {
			return fmt.Errorf("tickers[%d].symbol %q is duplicated", i, t.Symbol)
		}
		seen[key] = true
	}

	// Volatility validation
	if c.Volatility.LookbackDays < 60 {
		return fmt.Errorf("volatility.lookback_days must be >= 60")
	}
	if c.Volatility.RegimeBand <= 0 || c.Volatility.RegimeBand >= 1 {
		return fmt.Errorf("volatility.regime_band must be in (0,1)")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	c.Environment.LogLevel = strings.ToLower(c.Environment.LogLevel)
	c.Environment.Mode = strings.ToLower(c.Environment.Mode)
	if c.Broker.FetchTimeout == "" {
		c.Broker.FetchTimeout = defaultFetchTimeout
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.SessionOpen == "" {
		c.Schedule.SessionOpen = defaultSessionOpen
	}
	if c.Schedule.SessionClose == "" {
		c.Schedule.SessionClose = defaultSessionClose
	}
	if len(c.Tickers) == 0 {
		c.Tickers = DefaultTickers()
	}
	for i := range c.Tickers {
		c.Tickers[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Tickers[i].Symbol))
	}
	if c.Volatility.IVProxySymbol == "" {
		c.Volatility.IVProxySymbol = defaultProxySymbol
	}
	if c.Volatility.LookbackDays == 0 {
		c.Volatility.LookbackDays = defaultLookbackDays
	}
	if c.Volatility.RegimeBand == 0 {
		c.Volatility.RegimeBand = volatility.DefaultRegimeBand
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsMock returns true when market data is synthesized locally.
func (c *Config) IsMock() bool {
	return c.Environment.Mode == ModeMock
}

// IsSandbox returns true when the Tradier sandbox is used.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == ModeSandbox
}

// Location returns the trading-calendar timezone.
func (c *Config) Location() *time.Location {
	return util.MarketLocation(c.Schedule.Timezone)
}

// SessionWindow returns the session open and close as offsets from local midnight.
func (c *Config) SessionWindow() (open, closeAt time.Duration) {
	open, err1 := parseClock(c.Schedule.SessionOpen)
	closeAt, err2 := parseClock(c.Schedule.SessionClose)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		return 9*time.Hour + 30*time.Minute, 16 * time.Hour
	}
	return open, closeAt
}

// GetFetchTimeout returns the per-fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.FetchTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second // default
	}
	return d
}

// IsWithinTradingHours checks if the given time falls within the configured session.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	return refprice.NewResolver(nil, c.ResolverSettings(), nil).IsSessionOpen(now)
}

// ResolverSettings maps the schedule onto reference-price resolver settings.
func (c *Config) ResolverSettings() refprice.Settings {
	open, closeAt := c.SessionWindow()
	return refprice.Settings{
		Location:     c.Location(),
		SessionOpen:  open,
		SessionClose: closeAt,
		FetchTimeout: c.GetFetchTimeout(),
	}
}

// VolatilitySettings maps the volatility section onto forecaster settings.
func (c *Config) VolatilitySettings() volatility.Settings {
	return volatility.Settings{
		ProxySymbol:  c.Volatility.IVProxySymbol,
		LookbackDays: c.Volatility.LookbackDays,
		RegimeBand:   c.Volatility.RegimeBand,
		FetchTimeout: c.GetFetchTimeout(),
	}
}

// CircuitBreakerSettings overlays configured values on the breaker defaults.
func (c *Config) CircuitBreakerSettings() broker.CircuitBreakerSettings {
	s := broker.DefaultCircuitBreakerSettings()
	cb := c.Broker.CircuitBreaker
	if cb.MaxRequests > 0 {
		s.MaxRequests = cb.MaxRequests
	}
	if d, err := time.ParseDuration(cb.Interval); err == nil && d > 0 {
		s.Interval = d
	}
	if d, err := time.ParseDuration(cb.Timeout); err == nil && d > 0 {
		s.Timeout = d
	}
	if cb.MinRequests > 0 {
		s.MinRequests = cb.MinRequests
	}
	if cb.FailureRatio > 0 {
		s.FailureRatio = cb.FailureRatio
	}
	return s
}

// TickerName returns the display name of a configured symbol.
func (c *Config) TickerName(symbol string) (string, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, t := range c.Tickers {
		if t.Symbol == symbol {
			return t.Name, true
		}
	}
	return "", false
}
