package broker

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// MarketData defines the read-only market data the engine consumes.
// Every method surfaces provider failures as an error, never as partial data.
type MarketData interface {
	// Underlying prices
	GetQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]HistoricalDataPoint, error)
	GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]TimeSalesPoint, error)

	// Options
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error)

	// Market status
	GetMarketClock(ctx context.Context) (*MarketClockResponse, error)
}

// Ensure TradierAPI implements MarketData at compile time.
var _ MarketData = (*TradierAPI)(nil)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices
const StrikeMatchEpsilon = models.StrikeMatchEpsilon

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
)

// GetOptionByStrike finds an option with a specific strike price
func GetOptionByStrike(options []Option, strike float64, optionType OptionType) *Option {
	for i := range options {
		if models.SameStrike(options[i].Strike, strike) && options[i].OptionType == string(optionType) {
			return &options[i]
		}
	}
	return nil
}

// ToOptionsChain splits a provider chain into sorted call and put sides.
// A strike repeated within one side keeps its first contract.
func ToOptionsChain(symbol, expiration string, options []Option) models.OptionsChain {
	var calls, puts []models.OptionQuote
	for i := range options {
		opt := &options[i]
		var side *[]models.OptionQuote
		switch OptionType(opt.OptionType) {
		case OptionTypeCall:
			side = &calls
		case OptionTypePut:
			side = &puts
		default:
			continue
		}
		if containsStrike(*side, opt.Strike) {
			continue
		}
		*side = append(*side, toQuote(opt))
	}
	return models.NewOptionsChain(symbol, expiration, calls, puts)
}

func toQuote(opt *Option) models.OptionQuote {
	q := models.OptionQuote{Strike: opt.Strike, Bid: opt.Bid, Ask: opt.Ask}
	if opt.Last != nil {
		q.LastPrice = *opt.Last
		q.HasLast = true
	}
	return q
}

func containsStrike(quotes []models.OptionQuote, strike float64) bool {
	for _, q := range quotes {
		if models.SameStrike(q.Strike, strike) {
			return true
		}
	}
	return false
}

// CircuitBreakerMarketData wraps a MarketData with circuit breaker functionality
type CircuitBreakerMarketData struct {
	md      MarketData
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerMarketData implements MarketData at compile time.
var _ MarketData = (*CircuitBreakerMarketData)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	md MarketData,
	fn func(MarketData) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(md) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings returns the settings used when none are configured
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	}
}

// NewCircuitBreakerMarketData creates a CircuitBreakerMarketData with default settings
func NewCircuitBreakerMarketData(md MarketData) *CircuitBreakerMarketData {
	return NewCircuitBreakerMarketDataWithSettings(md, DefaultCircuitBreakerSettings())
}

// NewCircuitBreakerMarketDataWithSettings creates a CircuitBreakerMarketData with custom settings
func NewCircuitBreakerMarketDataWithSettings(md MarketData, settings CircuitBreakerSettings) *CircuitBreakerMarketData {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerMarketData{
		md:      md,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state
func (c *CircuitBreakerMarketData) State() gobreaker.State {
	return c.breaker.State()
}

// GetQuote wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) (*QuoteItem, error) { return m.GetQuote(ctx, symbol) })
}

// GetDailyHistory wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]HistoricalDataPoint, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) ([]HistoricalDataPoint, error) {
		return m.GetDailyHistory(ctx, symbol, start, end)
	})
}

// GetIntradayHistory wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]TimeSalesPoint, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) ([]TimeSalesPoint, error) {
		return m.GetIntradayHistory(ctx, symbol, start, end)
	})
}

// GetExpirations wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) ([]string, error) { return m.GetExpirations(ctx, symbol) })
}

// GetOptionChain wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]Option, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) ([]Option, error) {
		return m.GetOptionChain(ctx, symbol, expiration, withGreeks)
	})
}

// GetMarketClock wraps the underlying call with circuit breaker
func (c *CircuitBreakerMarketData) GetMarketClock(ctx context.Context) (*MarketClockResponse, error) {
	return execCircuitBreaker(c.breaker, c.md, func(m MarketData) (*MarketClockResponse, error) { return m.GetMarketClock(ctx) })
}
