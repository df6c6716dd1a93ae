// Package util provides common utility functions for price calculations and display.
package util

import (
	"math"
	"strconv"
	"time"
)

// Placeholder is rendered in place of a value that could not be computed.
const Placeholder = "—"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FormatPrice renders x with exactly two decimals.
func FormatPrice(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}

// FormatOptional renders a two-decimal value, or Placeholder when p is nil or not finite.
func FormatOptional(p *float64) string {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return Placeholder
	}
	return FormatPrice(*p)
}

// FormatRaw renders x at full precision, matching the unrounded display of the result.
func FormatRaw(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// DaysBetween returns the number of calendar days from one date to another.
// Only the calendar date in from's location counts; the clock time is ignored.
func DaysBetween(from, to time.Time) int {
	loc := from.Location()
	to = to.In(loc)
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// MarketLocation loads tz, falling back to America/New_York and then to a
// fixed UTC-5 zone on hosts without tzdata.
func MarketLocation(tz string) *time.Location {
	if tz == "" {
		tz = "America/New_York"
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation("America/New_York"); err == nil {
		return loc
	}
	return time.FixedZone("ET", -5*60*60)
}
