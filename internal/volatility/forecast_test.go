package volatility

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/broker/brokertest"
	"github.com/eddiefleurent/expected_move/internal/mock"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/sirupsen/logrus"
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

func TestForecaster_WithSyntheticData(t *testing.T) {
	now := time.Date(2025, 3, 10, 17, 0, 0, 0, et)
	provider := mock.NewMockDataProvider(mock.Config{Location: et, Now: func() time.Time { return now }})
	f := NewForecaster(provider, Settings{}, quietLogger())

	got, err := f.Forecast(context.Background(), "QQQ", now)
	require.NoError(t, err)

	assert.Equal(t, "QQQ", got.Symbol)
	assert.Equal(t, "VIX", got.ProxySymbol)
	assert.Greater(t, got.Observations, 200)
	assert.Greater(t, got.AnnualVolPct, 5.0)
	assert.Less(t, got.AnnualVolPct, 80.0)
	assert.Greater(t, got.ImpliedVol, 0.0)
	assert.GreaterOrEqual(t, got.IVRank, 0.0)
	assert.LessOrEqual(t, got.IVRank, 100.0)
	assert.Contains(t, []Regime{RegimeRich, RegimeCheap, RegimeFair}, got.Regime)
	assert.InDelta(t, got.ImpliedVol/got.AnnualVolPct, got.Ratio, 1e-9)

	again, err := f.Forecast(context.Background(), "QQQ", now)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestForecaster_FetchesBothSeries(t *testing.T) {
	md := brokertest.NewMockMarketData()
	now := time.Date(2025, 3, 10, 17, 0, 0, 0, et)

	underlying := make([]broker.HistoricalDataPoint, 0, 60)
	proxy := make([]broker.HistoricalDataPoint, 0, 60)
	price := 100.0
	for i := 0; i < 60; i++ {
		day := now.AddDate(0, 0, i-60)
		if i%2 == 0 {
			price *= 1.01
		} else {
			price *= 0.995
		}
		underlying = append(underlying, broker.HistoricalDataPoint{Date: day, Close: price})
		proxy = append(proxy, broker.HistoricalDataPoint{Date: day, Close: 15 + float64(i%7)})
	}

	md.On("GetDailyHistory", tmock.Anything, "GLD", tmock.Anything, now).Return(underlying, nil).Once()
	md.On("GetDailyHistory", tmock.Anything, "VXN", tmock.Anything, now).Return(proxy, nil).Once()

	f := NewForecaster(md, Settings{ProxySymbol: "VXN", LookbackDays: 90}, quietLogger())
	got, err := f.Forecast(context.Background(), "GLD", now)
	require.NoError(t, err)

	assert.Equal(t, 59, got.Observations)
	assert.Equal(t, proxy[len(proxy)-1].Close, got.ImpliedVol)
	md.AssertExpectations(t)
}

func TestForecaster_Failures(t *testing.T) {
	now := time.Date(2025, 3, 10, 17, 0, 0, 0, et)
	short := []broker.HistoricalDataPoint{{Date: now, Close: 100}, {Date: now, Close: 101}}
	proxy := []broker.HistoricalDataPoint{{Date: now, Close: 16}}
	boom := errors.New("boom")

	tests := []struct {
		name       string
		underlying []broker.HistoricalDataPoint
		underErr   error
		proxy      []broker.HistoricalDataPoint
		proxyErr   error
		check      func(t *testing.T, err error)
	}{
		{"underlying fetch fails", nil, boom, proxy, nil, func(t *testing.T, err error) {
			assert.True(t, models.IsKind(err, models.KindDataFetchFailure))
		}},
		{"proxy fetch fails", short, nil, nil, boom, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, boom)
		}},
		{"proxy empty", short, nil, []broker.HistoricalDataPoint{}, nil, func(t *testing.T, err error) {
			assert.True(t, models.IsKind(err, models.KindNoHistoricalData))
		}},
		{"too few returns", short, nil, proxy, nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInsufficientData)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := brokertest.NewMockMarketData()
			md.On("GetDailyHistory", tmock.Anything, "QQQ", tmock.Anything, tmock.Anything).Return(tt.underlying, tt.underErr).Maybe()
			md.On("GetDailyHistory", tmock.Anything, "VIX", tmock.Anything, tmock.Anything).Return(tt.proxy, tt.proxyErr).Maybe()

			_, err := NewForecaster(md, Settings{}, quietLogger()).Forecast(context.Background(), "QQQ", now)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
