package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("TRADIER_API_KEY", "test-key")
	t.Setenv("EXPECTED_MOVE_TOKEN", "secret")

	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if cfg.Broker.APIKey != "test-key" {
		t.Errorf("Expected api_key to be expanded from the environment, got %q", cfg.Broker.APIKey)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Expected auth_token to be expanded, got %q", cfg.Server.AuthToken)
	}
	if !cfg.IsSandbox() {
		t.Errorf("Expected sandbox mode, got %q", cfg.Environment.Mode)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment:\n  mode: mock\n  colour: blue\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_MinimalMock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment:\n  mode: mock\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsMock())
	assert.Equal(t, DefaultTickers(), cfg.Tickers)
	assert.Equal(t, 5*time.Second, cfg.GetFetchTimeout())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "VIX", cfg.Volatility.IVProxySymbol)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: ModeLive, LogLevel: "info"},
			Broker:      BrokerConfig{APIKey: "test-key"},
			Tickers:     []TickerConfig{{Symbol: "spy", Name: "SPDR S&P 500"}},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		c := base()
		if err := c.Validate(); err != nil {
			t.Fatalf("Expected valid config, got error: %v", err)
		}
		if c.Tickers[0].Symbol != "SPY" {
			t.Errorf("Expected ticker symbol to be upper-cased, got %q", c.Tickers[0].Symbol)
		}
	})

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "paper" }, "environment.mode"},
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "trace" }, "log_level"},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }, "broker.api_key"},
		{"bad fetch timeout", func(c *Config) { c.Broker.FetchTimeout = "soon" }, "fetch_timeout"},
		{"negative fetch timeout", func(c *Config) { c.Broker.FetchTimeout = "-1s" }, "fetch_timeout"},
		{"bad breaker timeout", func(c *Config) { c.Broker.CircuitBreaker.Timeout = "x" }, "circuit_breaker.timeout"},
		{"bad failure ratio", func(c *Config) { c.Broker.CircuitBreaker.FailureRatio = 1.5 }, "failure_ratio"},
		{"inverted session", func(c *Config) {
			c.Schedule.SessionOpen = "16:00"
			c.Schedule.SessionClose = "09:30"
		}, "session window"},
		{"unparseable session", func(c *Config) { c.Schedule.SessionOpen = "9.30" }, "session window"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"empty ticker", func(c *Config) { c.Tickers = []TickerConfig{{Symbol: " "}} }, "tickers[0].symbol"},
		{"duplicate ticker", func(c *Config) {
			c.Tickers = []TickerConfig{{Symbol: "QQQ"}, {Symbol: "qqq"}}
		}, "duplicated"},
		{"short lookback", func(c *Config) { c.Volatility.LookbackDays = 20 }, "lookback_days"},
		{"bad regime band", func(c *Config) { c.Volatility.RegimeBand = 1.2 }, "regime_band"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}

	t.Run("mock mode needs no api key", func(t *testing.T) {
		c := base()
		c.Environment.Mode = ModeMock
		c.Broker.APIKey = ""
		assert.NoError(t, c.Validate())
	})
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.True(t, c.IsMock())
	name, ok := c.TickerName("gld")
	assert.True(t, ok)
	assert.Equal(t, "SPDR Gold Shares", name)
	_, ok = c.TickerName("TSLA")
	assert.False(t, ok)
}

func TestSessionWindowAndTradingHours(t *testing.T) {
	c := Default()
	open, closeAt := c.SessionWindow()
	assert.Equal(t, 9*time.Hour+30*time.Minute, open)
	assert.Equal(t, 16*time.Hour, closeAt)

	loc := c.Location()
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"at open", time.Date(2025, 1, 15, 9, 30, 0, 0, loc), true},
		{"midday", time.Date(2025, 1, 15, 12, 0, 0, 0, loc), true},
		{"at close", time.Date(2025, 1, 15, 16, 0, 0, 0, loc), false},
		{"pre-open", time.Date(2025, 1, 15, 9, 29, 0, 0, loc), false},
		{"saturday", time.Date(2025, 1, 18, 12, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsWithinTradingHours(tt.now))
		})
	}
}

func TestSettingsMapping(t *testing.T) {
	c := Default()
	c.Broker.FetchTimeout = "2s"
	c.Broker.CircuitBreaker = CircuitBreakerConfig{MaxRequests: 7, Timeout: "10s"}
	require.NoError(t, c.Validate())

	rs := c.ResolverSettings()
	assert.Equal(t, 2*time.Second, rs.FetchTimeout)
	assert.Equal(t, 16*time.Hour, rs.SessionClose)
	assert.NoError(t, rs.Validate())

	vs := c.VolatilitySettings()
	assert.Equal(t, "VIX", vs.ProxySymbol)
	assert.Equal(t, 2*time.Second, vs.FetchTimeout)

	cb := c.CircuitBreakerSettings()
	assert.Equal(t, uint32(7), cb.MaxRequests)
	assert.Equal(t, 10*time.Second, cb.Timeout)
	assert.Equal(t, 60*time.Second, cb.Interval)
	assert.InDelta(t, 0.6, cb.FailureRatio, 1e-12)
}
