// Package broker provides market-data clients for reading option chains and price history.
// It includes the Tradier API client implementation used by the expected-move engine.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Market clock state constants
const (
	marketStateOpen       = "open"
	marketStatePreMarket  = "premarket"
	marketStatePostMarket = "postmarket"
)

// Date and time layouts accepted by the Tradier markets endpoints
const (
	dateLayout      = "2006-01-02"
	timesalesLayout = "2006-01-02 15:04"
	timesalesParse  = "2006-01-02T15:04:05"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is a read-only client for the Tradier market data endpoints
type TradierAPI struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	sandbox   bool
	userAgent string
}

// NewTradierAPI creates a new TradierAPI client with default settings.
func NewTradierAPI(apiKey string, sandbox bool) *TradierAPI {
	return NewTradierAPIWithBaseURL(apiKey, sandbox, "", nil)
}

// NewTradierAPIWithBaseURL creates a new TradierAPI client with optional custom baseURL and HTTP client
func NewTradierAPIWithBaseURL(apiKey string, sandbox bool, baseURL string, client *http.Client) *TradierAPI {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	// Normalize once
	baseURL = strings.TrimRight(baseURL, "/")

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &TradierAPI{
		apiKey:    apiKey,
		baseURL:   baseURL,
		client:    client,
		sandbox:   sandbox,
		userAgent: "expected-move/1.0 (+tradier)",
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// BaseURL returns the normalized API root.
func (t *TradierAPI) BaseURL() string {
	return t.baseURL
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// OptionChainResponse represents the API response for option chain requests.
// Tradier sends "options": null when the expiration has no contracts.
type OptionChainResponse struct {
	Options *struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

// Option represents an option contract from the Tradier API.
// Last is nil when the contract has not traded.
type Option struct {
	Greeks         *Greeks  `json:"greeks,omitempty"`
	Last           *float64 `json:"last"`
	Symbol         string   `json:"symbol"`
	Description    string   `json:"description"`
	OptionType     string   `json:"option_type"`
	ExpirationDate string   `json:"expiration_date"`
	Underlying     string   `json:"underlying"`
	RootSymbol     string   `json:"root_symbol"`
	Bid            float64  `json:"bid"`
	Ask            float64  `json:"ask"`
	BidSize        int      `json:"bidsize"`
	AskSize        int      `json:"asksize"`
	Volume         int64    `json:"volume"`
	OpenInterest   int64    `json:"open_interest"`
	Strike         float64  `json:"strike"`
}

// Greeks contains option Greeks data from the Tradier API.
type Greeks struct {
	UpdatedAt string  `json:"updated_at"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	BidIV     float64 `json:"bid_iv"`
	MidIV     float64 `json:"mid_iv"`
	AskIV     float64 `json:"ask_iv"`
	SmvVol    float64 `json:"smv_vol"`
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
type QuoteItem struct {
	Symbol           string  `json:"symbol"`
	Description      string  `json:"description"`
	Exch             string  `json:"exch"`
	Type             string  `json:"type"`
	TradeDate        int64   `json:"trade_date"`
	Low              float64 `json:"low"`
	ChangePercentage float64 `json:"change_percentage"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Volume           int64   `json:"volume"`
	Close            float64 `json:"close"`
	PrevClose        float64 `json:"prevclose"`
	Bid              float64 `json:"bid"`
	Change           float64 `json:"change"`
	Ask              float64 `json:"ask"`
	Last             float64 `json:"last"`
}

// ExpirationsResponse represents the expirations response from the Tradier API.
type ExpirationsResponse struct {
	Expirations *struct {
		Date singleOrArray[string] `json:"date"`
	} `json:"expirations"`
}

// MarketClockResponse represents the market clock response from the Tradier API.
type MarketClockResponse struct {
	Clock struct {
		Date        string `json:"date"`
		Description string `json:"description"`
		State       string `json:"state"`
		Timestamp   int64  `json:"timestamp"`
		NextChange  string `json:"next_change"`
		NextState   string `json:"next_state"`
	} `json:"clock"`
}

// IsSessionDay returns true on a trading session day (open, premarket, or postmarket).
func (m *MarketClockResponse) IsSessionDay() bool {
	state := m.Clock.State
	return state == marketStateOpen || state == marketStatePreMarket || state == marketStatePostMarket
}

// HistoricalDataPoint represents a single daily bar
type HistoricalDataPoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type historyDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoricalDataResponse represents the response from historical data API
type HistoricalDataResponse struct {
	History *struct {
		Day singleOrArray[historyDay] `json:"day"`
	} `json:"history"`
}

// TimeSalesPoint represents one intraday bar from the time and sales API
type TimeSalesPoint struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	VWAP   float64   `json:"vwap"`
}

type timesalesBar struct {
	Time   string  `json:"time"`
	Price  float64 `json:"price"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	VWAP   float64 `json:"vwap"`
}

// TimeSalesResponse represents the response from the time and sales API
type TimeSalesResponse struct {
	Series *struct {
		Data singleOrArray[timesalesBar] `json:"data"`
	} `json:"series"`
}

// ============ API Methods ============

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}

	first := quotes[0]
	return &first, nil
}

// GetExpirations retrieves available expiration dates for options on a symbol.
func (t *TradierAPI) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response ExpirationsResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	if response.Expirations == nil {
		return []string{}, nil
	}

	return []string(response.Expirations.Date), nil
}

// GetOptionChain retrieves the option chain for a symbol and expiration date.
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", fmt.Sprintf("%t", greeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	if response.Options == nil {
		return []Option{}, nil
	}

	return []Option(response.Options.Option), nil
}

// GetMarketClock retrieves the current market clock status.
func (t *TradierAPI) GetMarketClock(ctx context.Context) (*MarketClockResponse, error) {
	endpoint := fmt.Sprintf("%s/markets/clock?delayed=false", t.baseURL)

	var response MarketClockResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// GetDailyHistory retrieves daily bars for a symbol between startDate and endDate inclusive
func (t *TradierAPI) GetDailyHistory(ctx context.Context, symbol string, startDate, endDate time.Time) ([]HistoricalDataPoint, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", "daily")
	params.Add("start", startDate.Format(dateLayout))
	params.Add("end", endDate.Format(dateLayout))
	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response HistoricalDataResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}
	if response.History == nil {
		return []HistoricalDataPoint{}, nil
	}

	dataPoints := make([]HistoricalDataPoint, len(response.History.Day))
	for i, day := range response.History.Day {
		date, err := time.ParseInLocation(dateLayout, day.Date, startDate.Location())
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %s: %w", day.Date, err)
		}

		dataPoints[i] = HistoricalDataPoint{
			Date:   date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume,
		}
	}

	return dataPoints, nil
}

// GetIntradayHistory retrieves one-minute bars for the regular session between start and end.
// Times are interpreted in the location of start, which should be the exchange timezone.
func (t *TradierAPI) GetIntradayHistory(ctx context.Context, symbol string, start, end time.Time) ([]TimeSalesPoint, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", "1min")
	params.Add("start", start.Format(timesalesLayout))
	params.Add("end", end.In(start.Location()).Format(timesalesLayout))
	params.Add("session_filter", "open")
	endpoint := t.baseURL + "/markets/timesales?" + params.Encode()

	var response TimeSalesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to get time and sales for %s: %w", symbol, err)
	}
	if response.Series == nil {
		return []TimeSalesPoint{}, nil
	}

	points := make([]TimeSalesPoint, len(response.Series.Data))
	for i, bar := range response.Series.Data {
		ts, err := time.ParseInLocation(timesalesParse, bar.Time, start.Location())
		if err != nil {
			return nil, fmt.Errorf("failed to parse time %s: %w", bar.Time, err)
		}
		points[i] = TimeSalesPoint{
			Time:   ts,
			Price:  bar.Price,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
			VWAP:   bar.VWAP,
		}
	}

	return points, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close response body")
		}
	}()

	// Check rate limit headers
	remaining := resp.Header.Get("X-Ratelimit-Available")
	if remaining == "" {
		remaining = resp.Header.Get("X-RateLimit-Remaining")
	}
	if remaining != "" && t.sandbox {
		logrus.WithField("remaining", remaining).Debug("rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
