package volatility

import "math"

// Regime describes implied volatility relative to the forecast.
type Regime string

const (
	// RegimeRich means implied volatility is priced above the forecast
	RegimeRich Regime = "iv_rich"
	// RegimeCheap means implied volatility is priced below the forecast
	RegimeCheap Regime = "iv_cheap"
	// RegimeFair means the two agree within the band
	RegimeFair Regime = "fair"
)

// DefaultRegimeBand is the relative tolerance around a ratio of one.
const DefaultRegimeBand = 0.10

// Classify compares implied and forecast volatility, both annualized in percent.
// It returns the regime and the ratio implied/forecast. Undefined ratios are
// reported as fair with a ratio of 0.
func Classify(implied, forecast, band float64) (Regime, float64) {
	if forecast <= 0 || !isFinite(forecast) || !isFinite(implied) {
		return RegimeFair, 0
	}
	ratio := implied / forecast
	switch {
	case ratio > 1+band:
		return RegimeRich, ratio
	case ratio < 1-band:
		return RegimeCheap, ratio
	default:
		return RegimeFair, ratio
	}
}

// CalculateIVR calculates IV Rank (not IV Percentile) using min-max normalization.
// Returns 0-100 representing where current IV sits within the historical range.
func CalculateIVR(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) {
		return 0
	}

	clean := make([]float64, 0, len(historicalIVs))
	for _, v := range historicalIVs {
		if isFinite(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}

	minIV, maxIV := clean[0], clean[0]
	for _, iv := range clean {
		minIV = math.Min(minIV, iv)
		maxIV = math.Max(maxIV, iv)
	}
	if maxIV == minIV {
		return 0
	}

	r := ((currentIV - minIV) / (maxIV - minIV)) * 100
	return math.Max(0, math.Min(100, r))
}
