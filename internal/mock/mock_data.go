// Package mock provides an offline, deterministic market-data source.
// Prices follow a seeded GARCH(1,1) path per symbol and option chains are
// priced with Black-Scholes, so identical requests return identical data.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/util"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	dateLayout        = "2006-01-02"
	minutesPerSession = 390
	tradingDays       = 252
	strikesEachSide   = 15
	// Theoretical prices below this never traded, so Last is reported as null.
	minTradedPrice = 0.05
)

// Paths start here so any window over them is reproducible.
var pathEpoch = time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)

type profile struct {
	base   float64 // long-run price level
	vol    float64 // annualized volatility
	volIdx bool    // quoted in vol points, mean reverting
}

var profiles = map[string]profile{
	"QQQ": {base: 500, vol: 0.22},
	"SPY": {base: 580, vol: 0.17},
	"GLD": {base: 240, vol: 0.15},
	"IWM": {base: 220, vol: 0.24},
	"VIX": {base: 17, vol: 0.85, volIdx: true},
	"VXN": {base: 21, vol: 0.80, volIdx: true},
}

// Config controls the calendar the provider simulates.
type Config struct {
	Location     *time.Location
	SessionOpen  time.Duration
	SessionClose time.Duration
	Now          func() time.Time
}

// MockDataProvider implements broker.MarketData without network access.
type MockDataProvider struct {
	loc          *time.Location
	sessionOpen  time.Duration
	sessionClose time.Duration
	now          func() time.Time
}

var _ broker.MarketData = (*MockDataProvider)(nil)

// NewMockDataProvider creates a provider; zero Config fields take US equity defaults.
func NewMockDataProvider(cfg Config) *MockDataProvider {
	if cfg.Location == nil {
		cfg.Location = util.MarketLocation("America/New_York")
	}
	if cfg.SessionOpen == 0 && cfg.SessionClose == 0 {
		cfg.SessionOpen, cfg.SessionClose = 9*time.Hour+30*time.Minute, 16*time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MockDataProvider{
		loc:          cfg.Location,
		sessionOpen:  cfg.SessionOpen,
		sessionClose: cfg.SessionClose,
		now:          cfg.Now,
	}
}

func profileFor(symbol string) profile {
	symbol = strings.ToUpper(strings.TrimPrefix(symbol, "^"))
	if p, ok := profiles[symbol]; ok {
		return p
	}
	h := seedFor(symbol)
	return profile{base: 20 + float64(h%480), vol: 0.18 + float64(h%20)/100}
}

func seedFor(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func isWeekend(d time.Time) bool {
	return d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
}

func (m *MockDataProvider) midnight(t time.Time) time.Time {
	t = t.In(m.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.loc)
}

func (m *MockDataProvider) sessionOpenAt(now time.Time) bool {
	local := now.In(m.loc)
	if isWeekend(local) {
		return false
	}
	day := m.midnight(local)
	return !local.Before(day.Add(m.sessionOpen)) && local.Before(day.Add(m.sessionClose))
}

// dailyPath returns one bar per weekday from pathEpoch through last, inclusive.
func (m *MockDataProvider) dailyPath(symbol string, last time.Time) []broker.HistoricalDataPoint {
	p := profileFor(symbol)
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seedFor(symbol, "daily"))}

	// GARCH(1,1) variance with unconditional level matching the profile.
	const alpha, beta = 0.08, 0.90
	longVar := p.vol * p.vol / tradingDays
	omega := longVar * (1 - alpha - beta)
	h := longVar
	eps := 0.0

	level := math.Log(p.base)
	start := time.Date(pathEpoch.Year(), pathEpoch.Month(), pathEpoch.Day(), 0, 0, 0, 0, m.loc)
	end := m.midnight(last)

	var bars []broker.HistoricalDataPoint
	prevClose := p.base
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		h = omega + alpha*eps*eps + beta*h
		eps = math.Sqrt(h) * z.Rand()
		if p.volIdx {
			level += 0.06*(math.Log(p.base)-level) + eps
		} else {
			level += 0.01*(math.Log(p.base)-level) + eps - h/2
		}
		closePx := math.Exp(level)
		open := prevClose
		bars = append(bars, broker.HistoricalDataPoint{
			Date:   d,
			Open:   util.RoundToTick(open, 0.01),
			High:   util.RoundToTick(math.Max(open, closePx)*(1+math.Sqrt(h)/2), 0.01),
			Low:    util.RoundToTick(math.Min(open, closePx)*(1-math.Sqrt(h)/2), 0.01),
			Close:  util.RoundToTick(closePx, 0.01),
			Volume: int64(1e6 + seedFor(symbol, d.Format(dateLayout))%9e6),
		})
		prevClose = closePx
	}
	return bars
}

// lastFinishedDay is the latest date whose daily bar is final at now.
func (m *MockDataProvider) lastFinishedDay(now time.Time) time.Time {
	local := now.In(m.loc)
	day := m.midnight(local)
	if isWeekend(local) || local.Before(day.Add(m.sessionClose)) {
		return day.AddDate(0, 0, -1)
	}
	return day
}

// GetDailyHistory returns finished daily bars between start and end inclusive.
func (m *MockDataProvider) GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.HistoricalDataPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cutoff := m.lastFinishedDay(m.now()); m.midnight(end).After(cutoff) {
		end = cutoff
	}
	from := m.midnight(start)
	out := []broker.HistoricalDataPoint{}
	if end.Before(pathEpoch) {
		return out, nil
	}
	for _, bar := range m.dailyPath(symbol, end) {
		if !bar.Date.Before(from) {
			out = append(out, bar)
		}
	}
	return out, nil
}

// GetIntradayHistory returns one-minute session bars in [start, end), capped at now.
func (m *MockDataProvider) GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]broker.TimeSalesPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if now := m.now(); end.After(now) {
		end = now
	}
	out := []broker.TimeSalesPoint{}
	for day := m.midnight(start); !day.After(m.midnight(end)); day = day.AddDate(0, 0, 1) {
		if isWeekend(day) {
			continue
		}
		for _, bar := range m.sessionBars(symbol, day) {
			if !bar.Time.Before(start) && bar.Time.Before(end) {
				out = append(out, bar)
			}
		}
	}
	return out, nil
}

// sessionBars simulates every minute of one session, anchored on the prior close.
func (m *MockDataProvider) sessionBars(symbol string, day time.Time) []broker.TimeSalesPoint {
	p := profileFor(symbol)
	price := p.base
	if prior := m.dailyPath(symbol, day.AddDate(0, 0, -1)); len(prior) > 0 {
		price = prior[len(prior)-1].Close
	}
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seedFor(symbol, "intraday", day.Format(dateLayout)))}
	minuteVol := p.vol / math.Sqrt(tradingDays*minutesPerSession)

	open := day.Add(m.sessionOpen)
	n := int((m.sessionClose - m.sessionOpen) / time.Minute)
	bars := make([]broker.TimeSalesPoint, 0, n)
	for i := 0; i < n; i++ {
		prev := price
		price *= math.Exp(minuteVol*z.Rand() - minuteVol*minuteVol/2)
		bars = append(bars, broker.TimeSalesPoint{
			Time:   open.Add(time.Duration(i) * time.Minute),
			Price:  util.RoundToTick(price, 0.01),
			Open:   util.RoundToTick(prev, 0.01),
			High:   util.RoundToTick(math.Max(prev, price), 0.01),
			Low:    util.RoundToTick(math.Min(prev, price), 0.01),
			Close:  util.RoundToTick(price, 0.01),
			Volume: int64(1000 + seedFor(symbol, fmt.Sprint(i))%50000),
			VWAP:   util.RoundToTick((prev+price)/2, 0.01),
		})
	}
	return bars
}

// spot is the latest simulated price at now.
func (m *MockDataProvider) spot(symbol string, now time.Time) float64 {
	if m.sessionOpenAt(now) {
		bars := m.sessionBars(symbol, m.midnight(now))
		idx := int(now.In(m.loc).Sub(m.midnight(now).Add(m.sessionOpen)) / time.Minute)
		if idx >= 0 && idx < len(bars) {
			return bars[idx].Close
		}
	}
	daily := m.dailyPath(symbol, m.lastFinishedDay(now))
	if len(daily) == 0 {
		return profileFor(symbol).base
	}
	return daily[len(daily)-1].Close
}

// GetQuote returns a quote at the simulated spot with a one-cent spread.
func (m *MockDataProvider) GetQuote(ctx context.Context, symbol string) (*broker.QuoteItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := m.spot(symbol, m.now())
	return &broker.QuoteItem{
		Symbol:      strings.ToUpper(symbol),
		Description: symbol,
		Type:        "etf",
		Last:        last,
		Bid:         util.RoundToTick(last-0.01, 0.01),
		Ask:         util.RoundToTick(last+0.01, 0.01),
		Close:       last,
	}, nil
}

// GetExpirations lists the next eight weekly Fridays and the next three monthly expirations.
func (m *MockDataProvider) GetExpirations(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	today := m.midnight(m.now())
	seen := map[string]bool{}
	var dates []string
	add := func(d time.Time) {
		s := d.Format(dateLayout)
		if !seen[s] {
			seen[s] = true
			dates = append(dates, s)
		}
	}

	friday := today.AddDate(0, 0, (int(time.Friday)-int(today.Weekday())+7)%7)
	for i := 0; i < 8; i++ {
		add(friday.AddDate(0, 0, 7*i))
	}
	for i := 1; i <= 3; i++ {
		add(thirdFriday(today.Year(), today.Month()+time.Month(i), m.loc))
	}
	sort.Strings(dates)
	return dates, nil
}

func thirdFriday(year int, month time.Month, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// GetOptionChain prices calls and puts around the spot for one expiration.
func (m *MockDataProvider) GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]broker.Option, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expDate, err := time.ParseInLocation(dateLayout, expiration, m.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}

	now := m.now()
	p := profileFor(symbol)
	s := m.spot(symbol, now)
	// Expiry at the session close; at least half a day keeps prices off intrinsic.
	years := math.Max(expDate.Add(m.sessionClose).Sub(now).Hours()/24, 0.5) / 365

	interval := 1.0
	if s >= 300 {
		interval = 5.0
	}
	center := util.RoundToTick(s, interval)
	underlying := strings.ToUpper(symbol)

	options := make([]broker.Option, 0, 2*(2*strikesEachSide+1))
	for i := -strikesEachSide; i <= strikesEachSide; i++ {
		strike := center + float64(i)*interval
		if strike <= 0 {
			continue
		}
		iv := smile(p.vol, s, strike)
		for _, call := range []bool{true, false} {
			bs := blackScholes(call, s, strike, years, iv)
			options = append(options, m.contract(underlying, expDate, strike, call, bs, iv, withGreeks))
		}
	}
	return options, nil
}

func (m *MockDataProvider) contract(underlying string, exp time.Time, strike float64, call bool, bs bsResult, iv float64, withGreeks bool) broker.Option {
	kind, code := broker.OptionTypePut, "P"
	if call {
		kind, code = broker.OptionTypeCall, "C"
	}
	spread := math.Max(0.01, util.RoundToTick(bs.Price*0.02, 0.01))
	mid := util.RoundToTick(bs.Price, 0.01)

	opt := broker.Option{
		Symbol:         fmt.Sprintf("%s%s%s%08d", underlying, exp.Format("060102"), code, int(math.Round(strike*1000))),
		Description:    fmt.Sprintf("%s %s $%.2f %s", underlying, exp.Format("Jan 02 2006"), strike, kind),
		OptionType:     string(kind),
		ExpirationDate: exp.Format(dateLayout),
		Underlying:     underlying,
		RootSymbol:     underlying,
		Strike:         strike,
		Bid:            math.Max(0, util.RoundToTick(mid-spread/2, 0.01)),
		Ask:            util.RoundToTick(mid+spread/2, 0.01),
	}
	if bs.Price >= minTradedPrice {
		last := mid
		opt.Last = &last
		opt.Volume = int64(seedFor(opt.Symbol) % 5000)
	}
	opt.OpenInterest = int64(seedFor(opt.Symbol, "oi") % 40000)

	if withGreeks {
		opt.Greeks = &broker.Greeks{
			Delta: bs.Delta,
			Gamma: bs.Gamma,
			Theta: bs.Theta,
			Vega:  bs.Vega,
			MidIV: iv,
			BidIV: iv * 0.98,
			AskIV: iv * 1.02,
		}
	}
	return opt
}

// GetMarketClock reports the simulated session state at now.
func (m *MockDataProvider) GetMarketClock(ctx context.Context) (*broker.MarketClockResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().In(m.loc)
	day := m.midnight(now)
	resp := &broker.MarketClockResponse{}
	resp.Clock.Date = day.Format(dateLayout)
	resp.Clock.Timestamp = now.Unix()

	switch {
	case isWeekend(now):
		resp.Clock.State = "closed"
	case now.Before(day.Add(4 * time.Hour)):
		resp.Clock.State = "closed"
	case now.Before(day.Add(m.sessionOpen)):
		resp.Clock.State = "premarket"
	case now.Before(day.Add(m.sessionClose)):
		resp.Clock.State = "open"
	case now.Before(day.Add(20 * time.Hour)):
		resp.Clock.State = "postmarket"
	default:
		resp.Clock.State = "closed"
	}
	resp.Clock.Description = "Market is " + resp.Clock.State
	return resp, nil
}
