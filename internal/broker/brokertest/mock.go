// Package brokertest provides a testify mock of broker.MarketData.
package brokertest

import (
	"context"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/stretchr/testify/mock"
)

// MockMarketData implements broker.MarketData for tests.
type MockMarketData struct {
	mock.Mock
}

var _ broker.MarketData = (*MockMarketData)(nil)

// NewMockMarketData returns an empty mock.
func NewMockMarketData() *MockMarketData {
	return &MockMarketData{}
}

func (m *MockMarketData) GetQuote(ctx context.Context, symbol string) (*broker.QuoteItem, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.QuoteItem), args.Error(1)
}

func (m *MockMarketData) GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.HistoricalDataPoint, error) {
	args := m.Called(ctx, symbol, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.HistoricalDataPoint), args.Error(1)
}

func (m *MockMarketData) GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.TimeSalesPoint, error) {
	args := m.Called(ctx, symbol, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.TimeSalesPoint), args.Error(1)
}

func (m *MockMarketData) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMarketData) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	args := m.Called(ctx, symbol, expiration, withGreeks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Option), args.Error(1)
}

func (m *MockMarketData) GetMarketClock(ctx context.Context) (*broker.MarketClockResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.MarketClockResponse), args.Error(1)
}

// Last returns a pointer to v, for building Option.Last in fixtures.
func Last(v float64) *float64 {
	return &v
}
