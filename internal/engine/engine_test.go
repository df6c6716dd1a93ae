package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/broker/brokertest"
	"github.com/eddiefleurent/expected_move/internal/mock"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/refprice"
	"github.com/eddiefleurent/expected_move/internal/util"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var et = time.FixedZone("ET", -5*60*60)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// stubResolver returns a fixed reference price and counts calls.
type stubResolver struct {
	ref   models.ReferencePrice
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, _ string, _ time.Time) (models.ReferencePrice, error) {
	s.calls++
	return s.ref, s.err
}

func priorClose(v float64) *stubResolver {
	return &stubResolver{ref: models.NewReferencePrice(v, models.SourcePriorClose, time.Date(2025, 1, 14, 0, 0, 0, 0, et))}
}

func option(kind string, strike float64, last *float64, bid, ask float64) broker.Option {
	return broker.Option{OptionType: kind, Strike: strike, Last: last, Bid: bid, Ask: ask}
}

func sampleChain() []broker.Option {
	return []broker.Option{
		option("call", 395, brokertest.Last(8.1), 8.0, 8.2),
		option("call", 400, brokertest.Last(5.0), 4.9, 5.1),
		option("call", 405, brokertest.Last(2.7), 2.6, 2.8),
		option("put", 395, brokertest.Last(2.2), 2.1, 2.3),
		option("put", 400, brokertest.Last(4.5), 4.4, 4.6),
		option("put", 405, brokertest.Last(7.3), 7.2, 7.4),
	}
}

func newEngine(md broker.MarketData, r ReferenceResolver) *Engine {
	return New(md, r, nil, Settings{
		Tickers:      []Ticker{{Symbol: "QQQ", Name: "Invesco QQQ Trust"}},
		FetchTimeout: time.Second,
		Now:          func() time.Time { return time.Date(2025, 1, 15, 20, 0, 0, 0, et) },
	}, quietLogger())
}

func TestCompute_WorkedExample(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17", "2025-01-24"}, nil)
	md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return(sampleChain(), nil)

	res, err := newEngine(md, priorClose(400)).Compute(context.Background(), Request{Symbol: " qqq "})
	require.NoError(t, err)

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "QQQ", res.Symbol)
	assert.Equal(t, "2025-01-17", res.Expiration)
	assert.Equal(t, models.StateComputed, res.State)
	assert.Equal(t, models.SourcePriorClose, res.ReferenceSource)
	require.NotNil(t, res.Move)
	assert.Equal(t, "400.00", res.Move.TargetStrike)
	assert.Equal(t, "400.00", res.Move.ClosestStrike)
	assert.Equal(t, "2.38", res.Move.ExpectedMovePct)
	assert.Equal(t, "409.50", res.Move.UpperBand)
	assert.Equal(t, "390.50", res.Move.LowerBand)
	assert.Equal(t, "5.00", res.Move.Call.LastPrice)
	assert.Equal(t, "4.50", res.Move.Put.LastPrice)
	md.AssertExpectations(t)
}

func TestCompute_RequestedExpiration(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17", "2025-01-24"}, nil)
	md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-24", false).Return(sampleChain(), nil).Once()

	res, err := newEngine(md, priorClose(403)).Compute(context.Background(), Request{Symbol: "QQQ", Expiration: "2025-01-24"})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "2025-01-24", res.Expiration)
	assert.Equal(t, "405.00", res.Move.ClosestStrike)
	md.AssertExpectations(t)
}

func TestCompute_TargetOverrideSkipsResolver(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
	md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return(sampleChain(), nil)
	r := priorClose(400)

	target := 397.5
	res, err := newEngine(md, r).Compute(context.Background(), Request{Symbol: "QQQ", TargetOverride: &target})
	require.NoError(t, err)

	assert.Equal(t, 0, r.calls)
	assert.Equal(t, models.SourceOverride, res.ReferenceSource)
	// 397.5 is equidistant from 395 and 400; the lower strike wins
	assert.Equal(t, "395.00", res.Move.ClosestStrike)
	assert.Equal(t, "397.50", res.Move.TargetStrike)
}

func TestCompute_Outcomes(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name        string
		resolver    *stubResolver
		setup       func(md *brokertest.MockMarketData)
		request     Request
		wantState   models.RequestState
		wantStatus  models.ErrorKind
		wantMessage string
	}{
		{
			name:     "resolver fetch failure",
			resolver: &stubResolver{err: models.FetchFailure(models.OpPriceHistory, "QQQ", boom)},
			setup:    func(md *brokertest.MockMarketData) {},
			request:  Request{Symbol: "QQQ"}, wantState: models.StateNoReferencePrice,
			wantStatus: models.KindDataFetchFailure, wantMessage: "Failed to fetch price history for QQQ.",
		},
		{
			name:     "resolver empty history",
			resolver: &stubResolver{err: models.NoHistoricalData("ZZZZ")},
			setup:    func(md *brokertest.MockMarketData) {},
			request:  Request{Symbol: "ZZZZ"}, wantState: models.StateNoReferencePrice,
			wantStatus: models.KindNoHistoricalData,
			wantMessage: "No price history returned for ZZZZ; the symbol may be invalid or delisted.",
		},
		{
			name:     "expirations fetch failure",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return(nil, boom)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateComputeError,
			wantStatus: models.KindDataFetchFailure, wantMessage: "Failed to fetch expiration dates for QQQ.",
		},
		{
			name:     "no expirations",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{}, nil)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateNoExpirationDates,
			wantStatus: models.KindNoExpirationDates, wantMessage: "No available option expiration dates.",
		},
		{
			name:     "unlisted expiration",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
			},
			request: Request{Symbol: "QQQ", Expiration: "2025-02-21"}, wantState: models.StateNoExpirationDates,
			wantStatus:  models.KindNoExpirationDates,
			wantMessage: "No available option expiration dates.",
		},
		{
			name:     "chain fetch failure",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
				md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return(nil, boom)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateComputeError,
			wantStatus: models.KindDataFetchFailure, wantMessage: "Failed to fetch option chain for QQQ.",
		},
		{
			name:     "calls only",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
				md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return([]broker.Option{
					option("call", 400, brokertest.Last(5), 4.9, 5.1),
				}, nil)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateNoOptions,
			wantStatus: models.KindNoOptions, wantMessage: "No options found.",
		},
		{
			name:     "zero reference price",
			resolver: priorClose(0),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
				md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return(sampleChain(), nil)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateComputeError,
			wantStatus: models.KindComputeError,
		},
		{
			name:     "missing last price",
			resolver: priorClose(400),
			setup: func(md *brokertest.MockMarketData) {
				md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)
				md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return([]broker.Option{
					option("call", 400, nil, 4.9, 5.1),
					option("put", 400, brokertest.Last(4.5), 4.4, 4.6),
				}, nil)
			},
			request: Request{Symbol: "QQQ"}, wantState: models.StateComputeError,
			wantStatus: models.KindComputeError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := brokertest.NewMockMarketData()
			tt.setup(md)

			res, err := newEngine(md, tt.resolver).Compute(context.Background(), tt.request)
			require.NoError(t, err)

			assert.False(t, res.OK())
			assert.Nil(t, res.Move)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, string(tt.wantStatus), res.Status)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			} else {
				assert.NotEmpty(t, res.Message)
			}
			md.AssertExpectations(t)
		})
	}
}

func TestCompute_UnlistedExpirationDetailIsLogged(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil)

	logger, hook := logtest.NewNullLogger()
	eng := New(md, priorClose(400), nil, Settings{FetchTimeout: time.Second}, logger)

	res, err := eng.Compute(context.Background(), Request{Symbol: "QQQ", Expiration: "2025-02-21"})
	require.NoError(t, err)
	assert.Equal(t, "No available option expiration dates.", res.Message)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, res.Message, entry.Message)
	assert.Equal(t, "2025-02-21 is not listed for QQQ", entry.Data["detail"])
}

func TestCompute_NoExpirationsNeverFetchesChain(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "GLD").Return(nil, nil)

	res, err := newEngine(md, priorClose(240)).Compute(context.Background(), Request{Symbol: "GLD"})
	require.NoError(t, err)

	assert.Equal(t, models.StateNoExpirationDates, res.State)
	md.AssertNotCalled(t, "GetOptionChain", tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything)
}

func TestCompute_InvalidRequests(t *testing.T) {
	neg := -1.0
	e := newEngine(brokertest.NewMockMarketData(), priorClose(400))

	for name, req := range map[string]Request{
		"empty symbol":         {Symbol: "  "},
		"negative target":      {Symbol: "QQQ", TargetOverride: &neg},
		"malformed expiration": {Symbol: "QQQ", Expiration: "01/17/2025"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Compute(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestCompute_PerFetchTimeout(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "QQQ").Return([]string{"2025-01-17"}, nil).Run(func(args tmock.Arguments) {
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
	})
	md.On("GetOptionChain", tmock.Anything, "QQQ", "2025-01-17", false).Return(sampleChain(), nil)

	_, err := newEngine(md, priorClose(400)).Compute(context.Background(), Request{Symbol: "QQQ"})
	require.NoError(t, err)
}

func TestCompute_SyntheticDataIsIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 15, 11, 0, 0, 0, et)
	clock := func() time.Time { return now }
	provider := mock.NewMockDataProvider(mock.Config{Location: et, Now: clock})
	resolver := refprice.NewResolver(provider, refprice.Settings{Location: et}, quietLogger())
	e := New(provider, resolver, nil, Settings{Now: clock}, quietLogger())

	first, err := e.Compute(context.Background(), Request{Symbol: "QQQ"})
	require.NoError(t, err)
	require.True(t, first.OK(), first.Message)
	assert.Equal(t, models.SourceIntraday, first.ReferenceSource)
	assert.NotEqual(t, util.Placeholder, first.Move.UpperBand)

	second, err := e.Compute(context.Background(), Request{Symbol: "QQQ"})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestExpirations(t *testing.T) {
	md := brokertest.NewMockMarketData()
	md.On("GetExpirations", tmock.Anything, "SPY").Return([]string{"2025-01-17"}, nil).Once()
	md.On("GetExpirations", tmock.Anything, "XYZ").Return([]string{}, nil).Once()
	e := newEngine(md, priorClose(400))

	got, err := e.Expirations(context.Background(), "spy")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-17"}, got)

	_, err = e.Expirations(context.Background(), "XYZ")
	assert.True(t, models.IsKind(err, models.KindNoExpirationDates))

	_, err = e.Expirations(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

type stubForecaster struct{}

func (stubForecaster) Forecast(_ context.Context, symbol string, _ time.Time) (volatility.Forecast, error) {
	return volatility.Forecast{Symbol: symbol, Regime: volatility.RegimeFair}, nil
}

func TestVolatilityAndTickers(t *testing.T) {
	e := newEngine(brokertest.NewMockMarketData(), priorClose(400))
	_, err := e.Volatility(context.Background(), "QQQ")
	assert.Error(t, err)

	e = New(brokertest.NewMockMarketData(), priorClose(400), stubForecaster{}, Settings{}, quietLogger())
	f, err := e.Volatility(context.Background(), "qqq")
	require.NoError(t, err)
	assert.Equal(t, "QQQ", f.Symbol)

	tickers := newEngine(nil, nil).Tickers()
	tickers[0].Name = "changed"
	assert.Equal(t, "Invesco QQQ Trust", newEngine(nil, nil).Tickers()[0].Name)
}

func TestMarketStatus(t *testing.T) {
	md := brokertest.NewMockMarketData()
	clock := &broker.MarketClockResponse{}
	clock.Clock.State = "premarket"
	clock.Clock.NextState = "open"
	md.On("GetMarketClock", tmock.Anything).Return(clock, nil).Once()
	md.On("GetMarketClock", tmock.Anything).Return(nil, errors.New("down")).Once()
	e := newEngine(md, priorClose(400))

	got, err := e.MarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "premarket", got.State)
	assert.Equal(t, "open", got.NextState)
	assert.True(t, got.SessionDay)

	_, err = e.MarketStatus(context.Background())
	assert.ErrorContains(t, err, "market clock")
}
