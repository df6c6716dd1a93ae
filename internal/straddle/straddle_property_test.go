package straddle

import (
	"math"
	"sort"
	"testing"

	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// uniqueStrikes turns generated integers into a sorted set of half-dollar strikes.
func uniqueStrikes(raw []int) []float64 {
	seen := make(map[int]bool, len(raw))
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !seen[v] {
			seen[v] = true
			out = append(out, float64(v)/2)
		}
	}
	sort.Float64s(out)
	return out
}

// Property: the selected strike is at least as close to the target as every
// other joined strike, and among equally close strikes it is the lowest.
func TestProperty_ClosestStrikeIsMinimalWithLowerTieBreak(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("closest strike minimises distance and prefers lower", prop.ForAll(
		func(raw []int, target4 int) bool {
			strikes := uniqueStrikes(raw)
			target := float64(target4) / 4
			rows := Join(chainOf(strikes, strikes))

			got, ok := ClosestStrike(rows, target)
			if len(strikes) == 0 {
				return !ok
			}
			if !ok {
				return false
			}
			best := math.Abs(got - target)
			for _, s := range strikes {
				d := math.Abs(s - target)
				if d < best {
					return false
				}
				if d == best && s < got {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 400)),
		gen.IntRange(0, 900),
	))

	properties.TestingRun(t)
}

// Property: bands sit symmetrically around the target and their spread
// equals twice the straddle's last-price sum.
func TestProperty_BandsSymmetricAroundTarget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bands are target plus and minus the straddle price", prop.ForAll(
		func(target, callLast, putLast float64) bool {
			row := models.Straddle{
				Strike: target,
				Call:   models.NewOptionQuote(target, callLast, 0, 0),
				Put:    models.NewOptionQuote(target, putLast, 0, 0),
			}
			result, err := Compute(target, row)
			if err != nil || !result.HasBands() {
				return false
			}
			sum := callLast + putLast
			tol := 1e-9 * math.Max(1, target)
			return math.Abs((*result.UpperBand-target)-sum) < tol &&
				math.Abs((target-*result.LowerBand)-sum) < tol
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(0, 500),
		gen.Float64Range(0, 500),
	))

	properties.TestingRun(t)
}
