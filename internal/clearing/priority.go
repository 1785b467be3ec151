package clearing

import (
	"fmt"
	"strings"

	"github.com/lemx/clearing-engine/internal/model"
)

// TierOrder selects how ClearByPriority walks quality tiers.
type TierOrder string

const (
	// HighToLow clears the best tier first and cascades its unsold offers down.
	HighToLow TierOrder = "high_to_low"
	// LowToHigh clears the lowest tier first; every offer of at least the
	// current quality is eligible.
	LowToHigh TierOrder = "low_to_high"
	// Separate clears each tier only against equal-quality offers.
	Separate TierOrder = "separate"
)

// ParseTierOrder validates a tier order name.
func ParseTierOrder(s string) (TierOrder, error) {
	switch o := TierOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case HighToLow, LowToHigh, Separate:
		return o, nil
	}
	return "", fmt.Errorf("clearing: unknown tier order %q", s)
}

// ClearByPriority runs one double auction per quality tier. A bid only takes
// part in the pass for its own quality; offers move between passes according
// to order. Matches of all passes are concatenated.
func (e *Engine) ClearByPriority(offers, bids []model.Position, order TierOrder, opts Options) model.Outcome {
	if _, err := ParseTierOrder(string(order)); err != nil {
		panic(err.Error())
	}
	opts = e.prepare(opts)

	liveOffers, liveBids := positive(offers), positive(bids)
	if len(liveOffers) == 0 || len(liveBids) == 0 {
		return e.emptyOutcome(model.EmptyInput, offers, bids, 0)
	}

	result := e.priority(liveOffers, liveBids, order, opts)
	result.PlacedShares = e.placedShares(offers)
	e.logShares(opts, "priority_"+string(order), &result)
	return model.Outcome{Status: model.Cleared, Result: result}
}

// priority expects positive-quantity inputs.
func (e *Engine) priority(offers, bids []model.Position, order TierOrder, opts Options) model.ClearingResult {
	tiers := e.tiers(offers, bids)

	result := model.ClearingResult{
		Matches:         []model.Match{},
		OffersUncleared: []model.Position{},
		BidsUncleared:   []model.Position{},
	}

	run := func(tier model.Quality, tierOffers []model.Position) []model.Position {
		p := e.auction(tierOffers, withQuality(bids, tier, equalTo), opts)
		result.Matches = append(result.Matches, p.result.Matches...)
		result.BidsUncleared = append(result.BidsUncleared, p.result.BidsUncleared...)
		if opts.ExtendedQualityLogging {
			opts.Logger.Debug("priority pass",
				"order", string(order),
				"tier", int(tier),
				"offers", len(tierOffers),
				"traded_volume", p.result.TradedVolume(),
			)
		}
		return p.result.OffersUncleared
	}

	switch order {
	case HighToLow:
		carry := []model.Position{}
		for i := len(tiers) - 1; i >= 0; i-- {
			pool := append(carry, withQuality(offers, tiers[i], equalTo)...)
			carry = run(tiers[i], pool)
		}
		result.OffersUncleared = carry

	case LowToHigh:
		remaining := offers
		for _, tier := range tiers {
			eligible := withQuality(remaining, tier, atLeast)
			aside := withQuality(remaining, tier, below)
			remaining = append(aside, run(tier, eligible)...)
		}
		result.OffersUncleared = remaining

	case Separate:
		for _, tier := range tiers {
			result.OffersUncleared = append(result.OffersUncleared, run(tier, withQuality(offers, tier, equalTo))...)
		}
	}

	result.QualityShares = e.shares(result.Matches)
	return result
}

type qualityFilter int8

const (
	equalTo qualityFilter = iota
	atLeast
	below
)

// withQuality returns copies of the positions passing the filter against q.
func withQuality(positions []model.Position, q model.Quality, f qualityFilter) []model.Position {
	out := []model.Position{}
	for _, p := range positions {
		var keep bool
		switch f {
		case equalTo:
			keep = p.Quality == q
		case atLeast:
			keep = p.Quality >= q
		case below:
			keep = p.Quality < q
		}
		if keep {
			out = append(out, p)
		}
	}
	return out
}
