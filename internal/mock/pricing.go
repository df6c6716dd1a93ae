package mock

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// riskFreeRate is the flat annual rate used for discounting.
const riskFreeRate = 0.04

// bsResult holds a Black-Scholes price with its greeks.
type bsResult struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64 // per calendar day
	Vega  float64 // per vol point
}

// blackScholes prices a European option on spot s at strike k,
// t years to expiry and annual volatility vol.
func blackScholes(call bool, s, k, t, vol float64) bsResult {
	if t <= 0 || vol <= 0 {
		intrinsic := math.Max(0, s-k)
		if !call {
			intrinsic = math.Max(0, k-s)
		}
		return bsResult{Price: intrinsic}
	}

	n := distuv.UnitNormal
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (riskFreeRate+vol*vol/2)*t) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	disc := k * math.Exp(-riskFreeRate*t)
	pdf := n.Prob(d1)

	res := bsResult{
		Gamma: pdf / (s * vol * sqrtT),
		Vega:  s * pdf * sqrtT / 100,
	}
	decay := -s * pdf * vol / (2 * sqrtT)
	if call {
		res.Price = s*n.CDF(d1) - disc*n.CDF(d2)
		res.Delta = n.CDF(d1)
		res.Theta = (decay - riskFreeRate*disc*n.CDF(d2)) / 365
	} else {
		res.Price = disc*n.CDF(-d2) - s*n.CDF(-d1)
		res.Delta = n.CDF(d1) - 1
		res.Theta = (decay + riskFreeRate*disc*n.CDF(-d2)) / 365
	}
	return res
}

// smile applies a mild skew and curvature to the at-the-money volatility.
func smile(atmVol, s, k float64) float64 {
	m := math.Log(k / s)
	return atmVol * (1 - 0.4*m + 2.5*m*m)
}
