package straddle

import (
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/util"
)

// QuoteView is one side of the selected straddle, formatted for display.
type QuoteView struct {
	Strike    string `json:"strike"`
	LastPrice string `json:"last_price"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
}

// View is an ExpectedMoveResult rendered with two decimals.
// ExpectedMoveRaw keeps the unrounded percentage.
type View struct {
	TargetStrike    string    `json:"target_strike"`
	ClosestStrike   string    `json:"closest_strike"`
	ExpectedMovePct string    `json:"expected_move_pct"`
	ExpectedMoveRaw string    `json:"expected_move_raw"`
	UpperBand       string    `json:"upper_band"`
	LowerBand       string    `json:"lower_band"`
	Call            QuoteView `json:"call"`
	Put             QuoteView `json:"put"`
}

// Format renders r for display. It depends only on r.
func Format(r models.ExpectedMoveResult) View {
	return View{
		TargetStrike:    util.FormatPrice(r.TargetStrike),
		ClosestStrike:   util.FormatPrice(r.ClosestStrike),
		ExpectedMovePct: util.FormatPrice(r.ExpectedMovePct),
		ExpectedMoveRaw: util.FormatRaw(r.ExpectedMovePct),
		UpperBand:       util.FormatOptional(r.UpperBand),
		LowerBand:       util.FormatOptional(r.LowerBand),
		Call:            formatQuote(r.Straddle.Call),
		Put:             formatQuote(r.Straddle.Put),
	}
}

func formatQuote(q models.OptionQuote) QuoteView {
	last := util.Placeholder
	if q.HasLast {
		last = util.FormatPrice(q.LastPrice)
	}
	return QuoteView{
		Strike:    util.FormatPrice(q.Strike),
		LastPrice: last,
		Bid:       util.FormatPrice(q.Bid),
		Ask:       util.FormatPrice(q.Ask),
	}
}
