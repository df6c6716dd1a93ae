// Package refprice determines the reference price used as the strike-selection target.
package refprice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/util"
	"github.com/sirupsen/logrus"
)

// History is the slice of the market-data collaborator the resolver reads.
type History interface {
	GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.HistoricalDataPoint, error)
	GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.TimeSalesPoint, error)
}

const (
	defaultFetchTimeout = 5 * time.Second
	// Covers a weekend plus a long holiday run.
	defaultLookbackDays = 10
)

// Settings configures the trading calendar the resolver applies.
type Settings struct {
	Location     *time.Location
	SessionOpen  time.Duration // offset from local midnight
	SessionClose time.Duration // offset from local midnight, exclusive
	FetchTimeout time.Duration
	LookbackDays int
}

// DefaultSettings returns the regular US equity session in New York time.
func DefaultSettings() Settings {
	return Settings{
		Location:     util.MarketLocation("America/New_York"),
		SessionOpen:  9*time.Hour + 30*time.Minute,
		SessionClose: 16 * time.Hour,
		FetchTimeout: defaultFetchTimeout,
		LookbackDays: defaultLookbackDays,
	}
}

// Validate checks that the session window is well formed.
func (s Settings) Validate() error {
	if s.SessionOpen < 0 || s.SessionClose > 24*time.Hour || s.SessionOpen >= s.SessionClose {
		return fmt.Errorf("session window invalid: open %s, close %s", s.SessionOpen, s.SessionClose)
	}
	if s.FetchTimeout < 0 || s.LookbackDays < 0 {
		return errors.New("fetch timeout and lookback days must not be negative")
	}
	return nil
}

// Resolver picks the prior close or the latest intraday price depending on the session.
type Resolver struct {
	history  History
	settings Settings
	logger   *logrus.Logger
}

// NewResolver creates a resolver. Zero-valued settings fields take their defaults.
func NewResolver(history History, settings Settings, logger *logrus.Logger) *Resolver {
	def := DefaultSettings()
	if settings.Location == nil {
		settings.Location = def.Location
	}
	if settings.SessionOpen == 0 && settings.SessionClose == 0 {
		settings.SessionOpen, settings.SessionClose = def.SessionOpen, def.SessionClose
	}
	if settings.FetchTimeout == 0 {
		settings.FetchTimeout = def.FetchTimeout
	}
	if settings.LookbackDays == 0 {
		settings.LookbackDays = def.LookbackDays
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{history: history, settings: settings, logger: logger}
}

// Settings returns the effective settings.
func (r *Resolver) Settings() Settings {
	return r.settings
}

// IsSessionOpen reports whether now falls inside the regular session on a weekday.
func (r *Resolver) IsSessionOpen(now time.Time) bool {
	local := now.In(r.settings.Location)
	if isWeekend(local) {
		return false
	}
	start, end := r.sessionBounds(local)
	// Inclusive start, exclusive end
	return !local.Before(start) && local.Before(end)
}

func (r *Resolver) sessionBounds(local time.Time) (time.Time, time.Time) {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.settings.Location)
	return midnight.Add(r.settings.SessionOpen), midnight.Add(r.settings.SessionClose)
}

// Resolve returns the reference price for symbol at now.
// On failure the returned price is absent and the error is a *models.Error
// of kind KindDataFetchFailure or KindNoHistoricalData.
func (r *Resolver) Resolve(ctx context.Context, symbol string, now time.Time) (models.ReferencePrice, error) {
	if r.IsSessionOpen(now) {
		return r.latestIntraday(ctx, symbol, now)
	}
	return r.priorClose(ctx, symbol, now)
}

func (r *Resolver) priorClose(ctx context.Context, symbol string, now time.Time) (models.ReferencePrice, error) {
	local := now.In(r.settings.Location)
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.settings.Location)
	// Today's bar only exists once a weekday session has closed.
	if _, closeAt := r.sessionBounds(local); isWeekend(local) || local.Before(closeAt) {
		end = end.AddDate(0, 0, -1)
	}
	start := end.AddDate(0, 0, -r.settings.LookbackDays)

	fetchCtx, cancel := context.WithTimeout(ctx, r.settings.FetchTimeout)
	defer cancel()

	bars, err := r.history.GetDailyHistory(fetchCtx, symbol, start, end)
	if err != nil {
		return models.ReferencePrice{}, models.FetchFailure(models.OpPriceHistory, symbol, err)
	}
	if len(bars) == 0 {
		return models.ReferencePrice{}, models.NoHistoricalData(symbol)
	}

	last := bars[len(bars)-1]
	r.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"source": models.SourcePriorClose,
		"date":   last.Date.Format("2006-01-02"),
		"close":  last.Close,
	}).Debug("resolved reference price")
	return models.NewReferencePrice(last.Close, models.SourcePriorClose, last.Date), nil
}

func (r *Resolver) latestIntraday(ctx context.Context, symbol string, now time.Time) (models.ReferencePrice, error) {
	local := now.In(r.settings.Location)
	open, _ := r.sessionBounds(local)

	fetchCtx, cancel := context.WithTimeout(ctx, r.settings.FetchTimeout)
	defer cancel()

	bars, err := r.history.GetIntradayHistory(fetchCtx, symbol, open, local)
	if err != nil {
		return models.ReferencePrice{}, models.FetchFailure(models.OpPriceHistory, symbol, err)
	}
	if len(bars) == 0 {
		return models.ReferencePrice{}, models.NoHistoricalData(symbol)
	}

	last := bars[len(bars)-1]
	r.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"source": models.SourceIntraday,
		"time":   last.Time.Format(time.RFC3339),
		"close":  last.Close,
	}).Debug("resolved reference price")
	return models.NewReferencePrice(last.Close, models.SourceIntraday, last.Time), nil
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
