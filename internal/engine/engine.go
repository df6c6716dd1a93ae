// Package engine runs one expected-move request from reference price to formatted result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/straddle"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidRequest marks a malformed request; no state machine is started for it.
var ErrInvalidRequest = errors.New("invalid request")

// StatusOK is the status of a computed result.
const StatusOK = "ok"

// ReferenceResolver establishes the strike-matching target.
type ReferenceResolver interface {
	Resolve(ctx context.Context, symbol string, now time.Time) (models.ReferencePrice, error)
}

// VolatilityForecaster produces the optional volatility view.
type VolatilityForecaster interface {
	Forecast(ctx context.Context, symbol string, now time.Time) (volatility.Forecast, error)
}

// Ticker is one selectable underlying.
type Ticker struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Settings configures the engine.
type Settings struct {
	Tickers      []Ticker
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Request selects the symbol, the expiration and an optional explicit target.
// An empty Expiration picks the nearest listed one.
type Request struct {
	Symbol         string
	Expiration     string
	TargetOverride *float64
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if r.Expiration != "" {
		if _, err := time.Parse("2006-01-02", r.Expiration); err != nil {
			return fmt.Errorf("%w: expiration must be YYYY-MM-DD", ErrInvalidRequest)
		}
	}
	if r.TargetOverride != nil {
		v := *r.TargetOverride
		if !models.IsFinite(v) || v < 0 {
			return fmt.Errorf("%w: target must be a non-negative number", ErrInvalidRequest)
		}
	}
	return nil
}

// Result is the single outcome of one request. It holds only values
// derived from the inputs, so equal inputs give equal results.
type Result struct {
	Symbol          string              `json:"symbol"`
	Expiration      string              `json:"expiration,omitempty"`
	Status          string              `json:"status"`
	Message         string              `json:"message,omitempty"`
	State           models.RequestState `json:"state"`
	ReferenceSource models.PriceSource  `json:"reference_source,omitempty"`
	Move            *straddle.View      `json:"expected_move,omitempty"`
}

// OK reports whether an expected move was computed.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Engine wires the resolver, the market data collaborator and the selector.
type Engine struct {
	marketData broker.MarketData
	resolver   ReferenceResolver
	forecaster VolatilityForecaster
	settings   Settings
	logger     *logrus.Logger
}

// New creates an engine. forecaster may be nil when the volatility view is not served.
func New(md broker.MarketData, resolver ReferenceResolver, forecaster VolatilityForecaster, settings Settings, logger *logrus.Logger) *Engine {
	if settings.FetchTimeout <= 0 {
		settings.FetchTimeout = 5 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		marketData: md,
		resolver:   resolver,
		forecaster: forecaster,
		settings:   settings,
		logger:     logger,
	}
}

// Tickers returns the configured underlyings.
func (e *Engine) Tickers() []Ticker {
	out := make([]Ticker, len(e.settings.Tickers))
	copy(out, e.settings.Tickers)
	return out
}

// Compute runs one request to a terminal state. The error is non-nil only
// for malformed requests; every domain outcome is reported in the Result.
func (e *Engine) Compute(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	symbol := normalizeSymbol(req.Symbol)
	log := e.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"symbol":     symbol,
		"expiration": req.Expiration,
	})

	sm := models.NewStateMachine()
	res := Result{Symbol: symbol}

	ref, err := e.reference(ctx, symbol, req.TargetOverride)
	if err != nil {
		return e.finish(sm, res, models.StateNoReferencePrice, "price_unavailable", err, log), nil
	}
	res.ReferenceSource = ref.Source
	e.advance(sm, models.StateAwaitingChain, "price_resolved", log)

	expiration, err := e.pickExpiration(ctx, symbol, req.Expiration)
	if err != nil {
		state, cond := models.TerminalStateFor(models.KindOf(err))
		return e.finish(sm, res, state, cond, err, log), nil
	}
	res.Expiration = expiration

	chain, err := e.chain(ctx, symbol, expiration)
	if err != nil {
		state, cond := models.TerminalStateFor(models.KindOf(err))
		return e.finish(sm, res, state, cond, err, log), nil
	}
	e.advance(sm, models.StateSelecting, "chain_loaded", log)

	move, err := straddle.Select(ref, chain)
	if err != nil {
		state, cond := models.TerminalStateFor(models.KindOf(err))
		return e.finish(sm, res, state, cond, err, log), nil
	}
	e.advance(sm, models.StateComputed, "move_computed", log)

	view := straddle.Format(move)
	res.Status = StatusOK
	res.State = sm.GetCurrentState()
	res.Move = &view

	log.WithFields(logrus.Fields{
		"target":            move.TargetStrike,
		"closest_strike":    move.ClosestStrike,
		"expected_move_pct": move.ExpectedMovePct,
		"source":            ref.Source,
	}).Info("expected move computed")
	return res, nil
}

// Expirations lists the symbol's option expirations.
// An empty listing is reported as KindNoExpirationDates.
func (e *Engine) Expirations(ctx context.Context, symbol string) ([]string, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	return e.expirations(ctx, symbol)
}

// Volatility runs the GARCH forecast for symbol.
func (e *Engine) Volatility(ctx context.Context, symbol string) (volatility.Forecast, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return volatility.Forecast{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if e.forecaster == nil {
		return volatility.Forecast{}, errors.New("volatility forecast not configured")
	}
	return e.forecaster.Forecast(ctx, symbol, e.settings.Now())
}

// MarketStatus is the provider's view of the trading session.
type MarketStatus struct {
	State       string `json:"state"`
	Description string `json:"description"`
	NextChange  string `json:"next_change"`
	NextState   string `json:"next_state"`
	SessionDay  bool   `json:"session_day"`
}

// MarketStatus reports the provider's market clock.
func (e *Engine) MarketStatus(ctx context.Context) (MarketStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.FetchTimeout)
	defer cancel()

	clock, err := e.marketData.GetMarketClock(ctx)
	if err != nil {
		return MarketStatus{}, fmt.Errorf("market clock: %w", err)
	}
	return MarketStatus{
		State:       clock.Clock.State,
		Description: clock.Clock.Description,
		NextChange:  clock.Clock.NextChange,
		NextState:   clock.Clock.NextState,
		SessionDay:  clock.IsSessionDay(),
	}, nil
}

func (e *Engine) reference(ctx context.Context, symbol string, override *float64) (models.ReferencePrice, error) {
	if override != nil {
		return models.NewReferencePrice(*override, models.SourceOverride, time.Time{}), nil
	}
	return e.resolver.Resolve(ctx, symbol, e.settings.Now())
}

func (e *Engine) expirations(ctx context.Context, symbol string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.FetchTimeout)
	defer cancel()

	dates, err := e.marketData.GetExpirations(ctx, symbol)
	if err != nil {
		return nil, models.FetchFailure(models.OpExpirationDates, symbol, err)
	}
	if len(dates) == 0 {
		return nil, &models.Error{Kind: models.KindNoExpirationDates, Symbol: symbol}
	}
	return dates, nil
}

func (e *Engine) pickExpiration(ctx context.Context, symbol, requested string) (string, error) {
	dates, err := e.expirations(ctx, symbol)
	if err != nil {
		return "", err
	}
	if requested == "" {
		return dates[0], nil
	}
	for _, d := range dates {
		if d == requested {
			return d, nil
		}
	}
	return "", &models.Error{
		Kind:   models.KindNoExpirationDates,
		Symbol: symbol,
		Detail: fmt.Sprintf("%s is not listed for %s", requested, symbol),
	}
}

func (e *Engine) chain(ctx context.Context, symbol, expiration string) (models.OptionsChain, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.FetchTimeout)
	defer cancel()

	options, err := e.marketData.GetOptionChain(ctx, symbol, expiration, false)
	if err != nil {
		return models.OptionsChain{}, models.FetchFailure(models.OpOptionChain, symbol, err)
	}
	return broker.ToOptionsChain(symbol, expiration, options), nil
}

func (e *Engine) advance(sm *models.StateMachine, to models.RequestState, condition string, log *logrus.Entry) {
	if err := sm.Transition(to, condition); err != nil {
		log.WithError(err).Error("request state transition rejected")
		return
	}
	log.WithField("state", to).Debug("request state")
}

func (e *Engine) finish(sm *models.StateMachine, res Result, to models.RequestState, condition string, cause error, log *logrus.Entry) Result {
	e.advance(sm, to, condition, log)

	var me *models.Error
	if errors.As(cause, &me) {
		res.Status = string(me.Kind)
		res.Message = me.Message()
	} else {
		res.Status = string(models.KindComputeError)
		res.Message = models.ComputeFailure(cause.Error()).Message()
	}
	res.State = sm.GetCurrentState()

	entry := log.WithFields(logrus.Fields{"state": res.State, "status": res.Status})
	if me != nil && me.Detail != "" {
		entry = entry.WithField("detail", me.Detail)
	} else if me == nil {
		entry = entry.WithField("detail", cause.Error())
	}
	if me != nil && me.Kind == models.KindDataFetchFailure {
		entry.WithError(cause).Warn(res.Message)
	} else {
		entry.Info(res.Message)
	}
	return res
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
