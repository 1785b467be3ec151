package clearing

import (
	"sort"

	"github.com/lemx/clearing-engine/internal/model"
)

// Shares computes, for every tier, the rounded percentage of cleared volume
// whose offer carries that quality. With no cleared volume the result is
// undefined and every tier reports zero.
func Shares(matches []model.Match, tiers []model.Quality) model.QualityShares {
	byTier := make(map[model.Quality]int64)
	var total int64
	for _, m := range matches {
		byTier[m.OfferQuality] += m.TradedQuantity
		total += m.TradedQuantity
	}
	return percentages(byTier, total, tiers)
}

// PlacedShares is Shares over the quantity of placed offers.
func PlacedShares(offers []model.Position, tiers []model.Quality) model.QualityShares {
	byTier := make(map[model.Quality]int64)
	var total int64
	for _, p := range offers {
		byTier[p.Quality] += p.Quantity
		total += p.Quantity
	}
	return percentages(byTier, total, tiers)
}

func percentages(byTier map[model.Quality]int64, total int64, tiers []model.Quality) model.QualityShares {
	pct := make(map[model.Quality]int64, len(tiers)+len(byTier))
	for _, q := range tiers {
		pct[q] = 0
	}
	if total <= 0 {
		for q := range byTier {
			pct[q] = 0
		}
		return model.QualityShares{Defined: false, Pct: pct}
	}
	for q, v := range byTier {
		// round half up: floor(100*v/total + 1/2)
		pct[q] = (200*v + total) / (2 * total)
	}
	return model.QualityShares{Defined: true, Pct: pct}
}

// sortedTiers lists the keys of a share map ascending.
func sortedTiers(s model.QualityShares) []model.Quality {
	qs := make([]model.Quality, 0, len(s.Pct))
	for q := range s.Pct {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

func (e *Engine) shares(matches []model.Match) model.QualityShares {
	return Shares(matches, e.tiers())
}

func (e *Engine) placedShares(offers []model.Position) model.QualityShares {
	return PlacedShares(positive(offers), e.tiers())
}
