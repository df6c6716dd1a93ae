package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every non-fatal outcome a request can end in.
type ErrorKind string

const (
	// KindDataFetchFailure: the market-data collaborator failed or timed out
	KindDataFetchFailure ErrorKind = "data_fetch_failure"
	// KindNoHistoricalData: the fetch succeeded with zero rows
	KindNoHistoricalData ErrorKind = "no_historical_data"
	// KindNoExpirationDates: the symbol has no listed options
	KindNoExpirationDates ErrorKind = "no_expiration_dates"
	// KindNoReferencePrice: the selector ran without a reference price
	KindNoReferencePrice ErrorKind = "no_reference_price"
	// KindNoOptions: calls and puts share no strike
	KindNoOptions ErrorKind = "no_options"
	// KindNoMatchingStraddle: the closest strike has no joined row
	KindNoMatchingStraddle ErrorKind = "no_matching_straddle"
	// KindComputeError: the expected-move formula is undefined
	KindComputeError ErrorKind = "compute_error"
)

// Operation names used in fetch-failure messages.
const (
	OpPriceHistory    = "price history"
	OpExpirationDates = "expiration dates"
	OpOptionChain     = "option chain"
)

// Error is a classified, user-reportable failure.
// Op names the failed fetch for KindDataFetchFailure; Target and Closest
// are set for KindNoMatchingStraddle. Detail is diagnostic only and never
// part of Message.
type Error struct {
	Kind    ErrorKind
	Op      string
	Symbol  string
	Target  float64
	Closest float64
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message())
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the single user-facing message for the error's kind.
func (e *Error) Message() string {
	switch e.Kind {
	case KindDataFetchFailure:
		return fmt.Sprintf("Failed to fetch %s for %s.", e.Op, e.Symbol)
	case KindNoHistoricalData:
		return fmt.Sprintf("No price history returned for %s; the symbol may be invalid or delisted.", e.Symbol)
	case KindNoExpirationDates:
		return "No available option expiration dates."
	case KindNoReferencePrice:
		return "No closing price available."
	case KindNoOptions:
		return "No options found."
	case KindNoMatchingStraddle:
		return fmt.Sprintf("No options found for strike price %v or closest strike price %v.", e.Target, e.Closest)
	case KindComputeError:
		return "Unable to compute expected move."
	default:
		return "Unexpected error."
	}
}

// FetchFailure wraps a collaborator error for the named operation.
func FetchFailure(op, symbol string, err error) *Error {
	return &Error{Kind: KindDataFetchFailure, Op: op, Symbol: symbol, Err: err}
}

// NoHistoricalData reports an empty history for symbol.
func NoHistoricalData(symbol string) *Error {
	return &Error{Kind: KindNoHistoricalData, Symbol: symbol}
}

// ComputeFailure reports an undefined expected-move computation.
func ComputeFailure(detail string) *Error {
	return &Error{Kind: KindComputeError, Detail: detail}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
