// Package volatility forecasts next-day volatility with GARCH(1,1) and
// compares it with a market-implied volatility proxy.
package volatility

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// MinReturns is the fewest returns a fit accepts.
const MinReturns = 30

// TradingDaysPerYear annualizes daily volatility.
const TradingDaysPerYear = 252

// ErrInsufficientData is returned when there are fewer than MinReturns returns.
var ErrInsufficientData = errors.New("insufficient price history for a volatility fit")

// GARCH holds fitted GARCH(1,1) parameters for percent returns:
// h[t] = Omega + Alpha*e[t-1]^2 + Beta*h[t-1].
type GARCH struct {
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Mu    float64 `json:"mu"` // mean return removed before fitting
}

// Persistence is Alpha+Beta; below one the process is stationary.
func (g GARCH) Persistence() float64 {
	return g.Alpha + g.Beta
}

// LongRunVariance is the unconditional daily variance.
func (g GARCH) LongRunVariance() float64 {
	if p := g.Persistence(); p < 1 {
		return g.Omega / (1 - p)
	}
	return math.Inf(1)
}

// LogReturns converts closes to percent log returns, skipping non-positive prices.
func LogReturns(closes []float64) []float64 {
	out := make([]float64, 0, len(closes))
	prev := 0.0
	for _, c := range closes {
		if c <= 0 || !isFinite(c) {
			continue
		}
		if prev > 0 {
			out = append(out, 100*math.Log(c/prev))
		}
		prev = c
	}
	return out
}

// params maps unconstrained optimizer coordinates onto omega > 0,
// alpha, beta > 0 and alpha+beta < 1.
func params(x []float64) (omega, alpha, beta float64) {
	a, b := math.Exp(x[1]), math.Exp(x[2])
	den := 1 + a + b
	return math.Exp(x[0]), a / den, b / den
}

func unparams(omega, alpha, beta float64) []float64 {
	rest := 1 - alpha - beta
	return []float64{math.Log(omega), math.Log(alpha / rest), math.Log(beta / rest)}
}

// negLogLikelihood is the Gaussian negative log-likelihood without constants.
func negLogLikelihood(eps []float64, omega, alpha, beta, h0 float64) float64 {
	h := h0
	nll := 0.0
	for t, e := range eps {
		if t > 0 {
			h = omega + alpha*eps[t-1]*eps[t-1] + beta*h
		}
		if h <= 0 || !isFinite(h) {
			return math.Inf(1)
		}
		nll += 0.5 * (math.Log(h) + e*e/h)
	}
	return nll
}

// FitGARCH estimates GARCH(1,1) by maximum likelihood with Nelder-Mead.
func FitGARCH(returns []float64) (GARCH, error) {
	if len(returns) < MinReturns {
		return GARCH{}, fmt.Errorf("%w: %d returns, need %d", ErrInsufficientData, len(returns), MinReturns)
	}

	mu, variance := stat.MeanVariance(returns, nil)
	if variance <= 0 || !isFinite(variance) {
		return GARCH{}, fmt.Errorf("%w: returns have no variance", ErrInsufficientData)
	}
	eps := make([]float64, len(returns))
	for i, r := range returns {
		eps[i] = r - mu
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			omega, alpha, beta := params(x)
			return negLogLikelihood(eps, omega, alpha, beta, variance)
		},
	}
	start := unparams(variance*0.05, 0.05, 0.90)
	res, err := optimize.Minimize(problem, start, nil, &optimize.NelderMead{})
	if res == nil {
		return GARCH{}, fmt.Errorf("garch fit: %w", err)
	}
	omega, alpha, beta := params(res.X)
	if !isFinite(omega) || !isFinite(alpha) || !isFinite(beta) {
		return GARCH{}, fmt.Errorf("garch fit did not converge: %v", err)
	}
	return GARCH{Omega: omega, Alpha: alpha, Beta: beta, Mu: mu}, nil
}

// ForecastVariance runs the variance filter over returns and returns the
// next-day conditional variance in squared percent.
func (g GARCH) ForecastVariance(returns []float64) float64 {
	if len(returns) == 0 {
		return g.LongRunVariance()
	}
	h := stat.Variance(returns, nil)
	if len(returns) < 2 {
		h = g.LongRunVariance()
	}
	var last float64
	for t, r := range returns {
		e := r - g.Mu
		if t > 0 {
			h = g.Omega + g.Alpha*last*last + g.Beta*h
		}
		last = e
	}
	return g.Omega + g.Alpha*last*last + g.Beta*h
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
