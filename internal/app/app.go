// Package app wires configuration into a ready-to-use engine.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/config"
	"github.com/eddiefleurent/expected_move/internal/engine"
	"github.com/eddiefleurent/expected_move/internal/logging"
	"github.com/eddiefleurent/expected_move/internal/mock"
	"github.com/eddiefleurent/expected_move/internal/refprice"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	"github.com/sirupsen/logrus"
)

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	MarketData broker.MarketData
	Engine     *engine.Engine
}

// Options tune construction; zero values use the wall clock and a config-driven logger.
type Options struct {
	Now    func() time.Time
	Logger *logrus.Logger
}

// New builds the market data collaborator for cfg's mode and the engine on top of it.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{
			Level:      cfg.Environment.LogLevel,
			FilePath:   cfg.Environment.LogFile,
			MaxSize:    logging.DefaultConfig().MaxSize,
			MaxBackups: logging.DefaultConfig().MaxBackups,
			MaxAge:     logging.DefaultConfig().MaxAge,
		})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var md broker.MarketData
	if cfg.IsMock() {
		open, closeAt := cfg.SessionWindow()
		md = mock.NewMockDataProvider(mock.Config{
			Location:     cfg.Location(),
			SessionOpen:  open,
			SessionClose: closeAt,
			Now:          now,
		})
		logger.Info("Using synthetic market data")
	} else {
		client := &http.Client{Timeout: cfg.GetFetchTimeout() + 5*time.Second}
		api := broker.NewTradierAPIWithBaseURL(cfg.Broker.APIKey, cfg.IsSandbox(), cfg.Broker.APIEndpoint, client)
		md = broker.NewCircuitBreakerMarketDataWithSettings(api, cfg.CircuitBreakerSettings())
		logger.WithFields(logrus.Fields{
			"mode":     cfg.Environment.Mode,
			"base_url": api.BaseURL(),
		}).Info("Using Tradier market data")
	}

	resolver := refprice.NewResolver(md, cfg.ResolverSettings(), logger)
	forecaster := volatility.NewForecaster(md, cfg.VolatilitySettings(), logger)

	tickers := make([]engine.Ticker, 0, len(cfg.Tickers))
	for _, t := range cfg.Tickers {
		tickers = append(tickers, engine.Ticker{Symbol: t.Symbol, Name: t.Name})
	}

	eng := engine.New(md, resolver, forecaster, engine.Settings{
		Tickers:      tickers,
		FetchTimeout: cfg.GetFetchTimeout(),
		Now:          now,
	}, logger)

	return &App{Config: cfg, Logger: logger, MarketData: md, Engine: eng}, nil
}
