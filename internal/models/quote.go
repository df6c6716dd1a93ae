// Package models provides the request-scoped value types of the expected-move engine.
package models

import (
	"math"
	"sort"
	"time"
)

// OptionSide identifies the call or put side of a chain.
type OptionSide string

const (
	// SideCall is the call side of a chain
	SideCall OptionSide = "call"
	// SidePut is the put side of a chain
	SidePut OptionSide = "put"
)

// OptionQuote is one side of one contract at one strike.
type OptionQuote struct {
	Strike    float64 `json:"strike"`
	LastPrice float64 `json:"last_price"`
	HasLast   bool    `json:"has_last"` // false when the provider reported no last trade
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// NewOptionQuote builds a quote with a defined last price.
func NewOptionQuote(strike, last, bid, ask float64) OptionQuote {
	return OptionQuote{Strike: strike, LastPrice: last, HasLast: true, Bid: bid, Ask: ask}
}

// OptionsChain holds both sides of one expiration for one underlying.
// Each side is sorted ascending by strike.
type OptionsChain struct {
	Symbol     string        `json:"symbol"`
	Expiration string        `json:"expiration"`
	Calls      []OptionQuote `json:"calls"`
	Puts       []OptionQuote `json:"puts"`
}

// NewOptionsChain sorts both sides by strike and returns the chain.
func NewOptionsChain(symbol, expiration string, calls, puts []OptionQuote) OptionsChain {
	sortByStrike(calls)
	sortByStrike(puts)
	return OptionsChain{Symbol: symbol, Expiration: expiration, Calls: calls, Puts: puts}
}

func sortByStrike(quotes []OptionQuote) {
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Strike < quotes[j].Strike })
}

// IsEmpty reports whether neither side carries a quote.
func (c OptionsChain) IsEmpty() bool {
	return len(c.Calls) == 0 && len(c.Puts) == 0
}

// Straddle is the call/put pair sharing one strike.
type Straddle struct {
	Strike float64     `json:"strike"`
	Call   OptionQuote `json:"call"`
	Put    OptionQuote `json:"put"`
}

// CallLast returns the call's last price and whether it is defined.
func (s Straddle) CallLast() (float64, bool) { return s.Call.LastPrice, s.Call.HasLast }

// PutLast returns the put's last price and whether it is defined.
func (s Straddle) PutLast() (float64, bool) { return s.Put.LastPrice, s.Put.HasLast }

// PriceSource records which resolution rule produced a reference price.
type PriceSource string

const (
	// SourcePriorClose is the previous trading day's daily close
	SourcePriorClose PriceSource = "prior_close"
	// SourceIntraday is the latest intraday bar of the open session
	SourceIntraday PriceSource = "intraday"
	// SourceOverride is a caller-supplied target
	SourceOverride PriceSource = "override"
)

// ReferencePrice is the strike-matching target for one request.
// The zero value is an absent price.
type ReferencePrice struct {
	Value  float64     `json:"value"`
	Valid  bool        `json:"valid"`
	Source PriceSource `json:"source,omitempty"`
	AsOf   time.Time   `json:"as_of,omitempty"`
}

// NewReferencePrice returns a present reference price.
func NewReferencePrice(value float64, source PriceSource, asOf time.Time) ReferencePrice {
	return ReferencePrice{Value: value, Valid: true, Source: source, AsOf: asOf}
}

// Get returns the value and whether it is present.
func (r ReferencePrice) Get() (float64, bool) {
	return r.Value, r.Valid
}

// ExpectedMoveResult is the outcome of a successful selection.
// Values keep full precision; straddle.Format rounds them for display.
type ExpectedMoveResult struct {
	TargetStrike    float64  `json:"target_strike"`
	ClosestStrike   float64  `json:"closest_strike"`
	ExpectedMovePct float64  `json:"expected_move_pct"`
	UpperBand       *float64 `json:"upper_band,omitempty"`
	LowerBand       *float64 `json:"lower_band,omitempty"`
	Straddle        Straddle `json:"straddle"`
}

// HasBands reports whether both bands were computed.
func (r ExpectedMoveResult) HasBands() bool {
	return r.UpperBand != nil && r.LowerBand != nil
}

// IsFinite reports whether a float is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// StrikeMatchEpsilon is the tolerance under which two strikes are the same contract strike.
const StrikeMatchEpsilon = 1e-3

// SameStrike reports whether a and b name the same strike.
func SameStrike(a, b float64) bool {
	return math.Abs(a-b) <= StrikeMatchEpsilon
}
