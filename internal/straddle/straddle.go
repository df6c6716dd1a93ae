// Package straddle selects the at-the-money straddle from an options chain
// and derives the expected move and its price bands.
package straddle

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/expected_move/internal/models"
)

// Join pairs calls and puts that share a strike within models.StrikeMatchEpsilon.
// Both sides must be sorted ascending, as models.NewOptionsChain leaves them;
// the result is ascending too and carries the call's strike.
func Join(chain models.OptionsChain) []models.Straddle {
	calls, puts := chain.Calls, chain.Puts
	rows := make([]models.Straddle, 0, min(len(calls), len(puts)))

	i, j := 0, 0
	for i < len(calls) && j < len(puts) {
		switch {
		case models.SameStrike(calls[i].Strike, puts[j].Strike):
			rows = append(rows, models.Straddle{Strike: calls[i].Strike, Call: calls[i], Put: puts[j]})
			i++
			j++
		case calls[i].Strike < puts[j].Strike:
			i++
		default:
			j++
		}
	}
	return rows
}

// ClosestStrike returns the strike nearest to target.
// On a tie the lower strike wins. ok is false when rows is empty.
func ClosestStrike(rows []models.Straddle, target float64) (strike float64, ok bool) {
	if len(rows) == 0 {
		return 0, false
	}
	best := 0
	bestDist := math.Abs(rows[0].Strike - target)
	for i := 1; i < len(rows); i++ {
		// Strict comparison keeps the earlier, lower strike on ties.
		if d := math.Abs(rows[i].Strike - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return rows[best].Strike, true
}

func rowAt(rows []models.Straddle, strike float64) (models.Straddle, bool) {
	for _, row := range rows {
		if models.SameStrike(row.Strike, strike) {
			return row, true
		}
	}
	return models.Straddle{}, false
}

// Select chooses the straddle nearest to the reference price and computes
// the expected move. Failures are *models.Error values.
func Select(ref models.ReferencePrice, chain models.OptionsChain) (models.ExpectedMoveResult, error) {
	target, ok := ref.Get()
	if !ok {
		return models.ExpectedMoveResult{}, &models.Error{Kind: models.KindNoReferencePrice, Symbol: chain.Symbol}
	}

	rows := Join(chain)
	closest, ok := ClosestStrike(rows, target)
	if !ok {
		return models.ExpectedMoveResult{}, &models.Error{Kind: models.KindNoOptions, Symbol: chain.Symbol}
	}

	row, ok := rowAt(rows, closest)
	if !ok {
		return models.ExpectedMoveResult{}, &models.Error{
			Kind:    models.KindNoMatchingStraddle,
			Symbol:  chain.Symbol,
			Target:  target,
			Closest: closest,
		}
	}

	return Compute(target, row)
}

// Compute derives the expected move of row relative to target.
// The percentage is the straddle's last-price sum over the target, not over the strike.
func Compute(target float64, row models.Straddle) (models.ExpectedMoveResult, error) {
	if !models.IsFinite(target) {
		return models.ExpectedMoveResult{}, models.ComputeFailure("target strike is not a finite number")
	}
	if target == 0 {
		return models.ExpectedMoveResult{}, models.ComputeFailure("target strike is zero")
	}
	callLast, callOK := row.CallLast()
	putLast, putOK := row.PutLast()
	if !callOK || !putOK {
		return models.ExpectedMoveResult{}, models.ComputeFailure(
			fmt.Sprintf("no last price for the %v straddle", row.Strike))
	}

	pct := ((callLast + putLast) / target) * 100
	if !models.IsFinite(pct) {
		return models.ExpectedMoveResult{}, models.ComputeFailure("expected move is not a finite number")
	}

	result := models.ExpectedMoveResult{
		TargetStrike:    target,
		ClosestStrike:   row.Strike,
		ExpectedMovePct: pct,
		Straddle:        row,
	}

	if callLast >= 0 && putLast >= 0 {
		upper := target * (1 + pct/100)
		lower := target * (1 - pct/100)
		if !models.IsFinite(upper) || !models.IsFinite(lower) {
			return models.ExpectedMoveResult{}, models.ComputeFailure("price band is not a finite number")
		}
		result.UpperBand = &upper
		result.LowerBand = &lower
	}
	return result, nil
}
