package volatility

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// History supplies daily bars.
type History interface {
	GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.HistoricalDataPoint, error)
}

// Settings configures the forecaster.
type Settings struct {
	ProxySymbol  string
	LookbackDays int
	RegimeBand   float64
	FetchTimeout time.Duration
}

// DefaultSettings uses one year of VIX closes as the implied-volatility proxy.
func DefaultSettings() Settings {
	return Settings{
		ProxySymbol:  "VIX",
		LookbackDays: 365,
		RegimeBand:   DefaultRegimeBand,
		FetchTimeout: 5 * time.Second,
	}
}

// Forecast is the result of one volatility request.
type Forecast struct {
	Symbol       string    `json:"symbol"`
	ProxySymbol  string    `json:"proxy_symbol"`
	Model        GARCH     `json:"model"`
	Observations int       `json:"observations"`
	DailyVolPct  float64   `json:"daily_vol_pct"`
	AnnualVolPct float64   `json:"annual_vol_pct"`
	ImpliedVol   float64   `json:"implied_vol"`
	Ratio        float64   `json:"ratio"`
	Regime       Regime    `json:"regime"`
	IVRank       float64   `json:"iv_rank"`
	AsOf         time.Time `json:"as_of"`
}

// Forecaster fits GARCH(1,1) to a symbol's history and classifies the regime.
type Forecaster struct {
	history  History
	settings Settings
	logger   *logrus.Logger
}

// NewForecaster creates a forecaster. Zero-valued settings take their defaults.
func NewForecaster(history History, settings Settings, logger *logrus.Logger) *Forecaster {
	def := DefaultSettings()
	if settings.ProxySymbol == "" {
		settings.ProxySymbol = def.ProxySymbol
	}
	if settings.LookbackDays == 0 {
		settings.LookbackDays = def.LookbackDays
	}
	if settings.RegimeBand == 0 {
		settings.RegimeBand = def.RegimeBand
	}
	if settings.FetchTimeout == 0 {
		settings.FetchTimeout = def.FetchTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Forecaster{history: history, settings: settings, logger: logger}
}

// Forecast fetches the symbol and proxy histories concurrently and fits the model.
func (f *Forecaster) Forecast(ctx context.Context, symbol string, now time.Time) (Forecast, error) {
	end := now
	start := now.AddDate(0, 0, -f.settings.LookbackDays)

	var underlying, proxy []broker.HistoricalDataPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bars, err := f.fetch(gctx, symbol, start, end)
		underlying = bars
		return err
	})
	g.Go(func() error {
		bars, err := f.fetch(gctx, f.settings.ProxySymbol, start, end)
		proxy = bars
		return err
	})
	if err := g.Wait(); err != nil {
		return Forecast{}, err
	}

	returns := LogReturns(closes(underlying))
	model, err := FitGARCH(returns)
	if err != nil {
		return Forecast{}, fmt.Errorf("%s: %w", symbol, err)
	}

	variance := model.ForecastVariance(returns)
	daily := math.Sqrt(variance)
	annual := daily * math.Sqrt(TradingDaysPerYear)

	proxyCloses := closes(proxy)
	implied := proxyCloses[len(proxyCloses)-1]
	regime, ratio := Classify(implied, annual, f.settings.RegimeBand)

	out := Forecast{
		Symbol:       symbol,
		ProxySymbol:  f.settings.ProxySymbol,
		Model:        model,
		Observations: len(returns),
		DailyVolPct:  daily,
		AnnualVolPct: annual,
		ImpliedVol:   implied,
		Ratio:        ratio,
		Regime:       regime,
		IVRank:       CalculateIVR(implied, proxyCloses),
		AsOf:         underlying[len(underlying)-1].Date,
	}

	f.logger.WithFields(logrus.Fields{
		"symbol":      symbol,
		"alpha":       model.Alpha,
		"beta":        model.Beta,
		"annual_vol":  annual,
		"implied_vol": implied,
		"regime":      regime,
	}).Info("volatility forecast")
	return out, nil
}

func (f *Forecaster) fetch(ctx context.Context, symbol string, start, end time.Time) ([]broker.HistoricalDataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, f.settings.FetchTimeout)
	defer cancel()

	bars, err := f.history.GetDailyHistory(ctx, symbol, start, end)
	if err != nil {
		return nil, models.FetchFailure(models.OpPriceHistory, symbol, err)
	}
	if len(bars) == 0 {
		return nil, models.NoHistoricalData(symbol)
	}
	return bars, nil
}

func closes(bars []broker.HistoricalDataPoint) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
