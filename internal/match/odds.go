package match

import (
	"github.com/shopspring/decimal"

	"github.com/albapepper/scoracle-sim/internal/detrand"
)

// Odds are synthetic decimal 1X2 prices. They are display data; a wager
// carries the odds it was placed at.
type Odds struct {
	Home decimal.Decimal `json:"home"`
	Draw decimal.Decimal `json:"draw"`
	Away decimal.Decimal `json:"away"`
}

const oddsSuffix = "#odds"

// OddsFor derives odds from the match id on a generator separate from the
// outcome stream, so publishing odds reveals nothing about the score.
func OddsFor(matchID string) Odds {
	g := detrand.NewFromString(matchID + oddsSuffix)
	home := 1.40 + g.Float()*3.10
	draw := 2.80 + g.Float()*1.40
	away := 1.40 + g.Float()*3.10
	return Odds{
		Home: decimal.NewFromFloat(home).Round(2),
		Draw: decimal.NewFromFloat(draw).Round(2),
		Away: decimal.NewFromFloat(away).Round(2),
	}
}
