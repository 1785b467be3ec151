package clearing

import (
	"fmt"

	"github.com/lemx/clearing-engine/internal/model"
)

// satisfactionState is the state of the preference-satisfaction loop.
type satisfactionState int8

const (
	stateClearing satisfactionState = iota
	stateChecking
	stateUnsatisfied
	stateSatisfied
	stateGaveUp
)

// ClearBySatisfaction clears all qualities together, then strips bid volume
// whose quality preference is not backed by same-or-better cleared supply and
// clears again, until every cleared bid is backed.
//
// The loop gives up when stripping empties the bid set or when more than
// maxIterations strips were needed (maxIterations <= 0 uses the market
// default). A GaveUp outcome reports the original sets as uncleared. Bid
// volume stripped on the way to a satisfied result is reported uncleared.
func (e *Engine) ClearBySatisfaction(offers, bids []model.Position, maxIterations int, opts Options) model.Outcome {
	if opts.PriorityFallback != "" {
		if _, err := ParseTierOrder(string(opts.PriorityFallback)); err != nil {
			panic(err.Error())
		}
	}
	opts = e.prepare(opts)
	if maxIterations <= 0 {
		maxIterations = e.market.MaxIterations
	}

	liveOffers, liveBids := positive(offers), positive(bids)
	if len(liveOffers) == 0 || len(liveBids) == 0 {
		return e.emptyOutcome(model.EmptyInput, offers, bids, 0)
	}

	tiers := e.tiers(liveOffers, liveBids)
	working := Aggregate(liveBids, KeyPremium)
	var (
		current     pass
		unsatisfied []model.Position
		stripped    []model.Position
		iterations  int
	)

	state := stateClearing
	for state != stateSatisfied && state != stateGaveUp {
		switch state {
		case stateClearing:
			current = e.auction(liveOffers, working, opts)
			state = stateChecking

		case stateChecking:
			unsatisfied = unsatisfiedBids(current, tiers)
			e.logSatisfaction(opts, iterations, unsatisfied)
			if len(unsatisfied) == 0 {
				state = stateSatisfied
			} else {
				state = stateUnsatisfied
			}

		case stateUnsatisfied:
			working = subtract(working, unsatisfied)
			stripped = append(stripped, unsatisfied...)
			iterations++
			if len(working) == 0 || iterations > maxIterations {
				state = stateGaveUp
			} else {
				state = stateClearing
			}
		}
	}

	if state == stateGaveUp {
		if opts.ExtendedQualityLogging {
			opts.Logger.Debug("preference satisfaction gave up",
				"iterations", iterations,
				"max_iterations", maxIterations,
				"bids_left", len(working),
			)
		}
		return e.emptyOutcome(model.GaveUp, offers, bids, iterations)
	}

	result := current.result
	result.BidsUncleared = Aggregate(append(append([]model.Position(nil), result.BidsUncleared...), stripped...), KeyPremium)
	if opts.PriorityFallback != "" {
		result = e.fallback(result, opts)
	}
	result.PlacedShares = e.placedShares(offers)
	e.logShares(opts, "satisfaction", &result)
	return model.Outcome{Status: model.Cleared, Iterations: iterations, Result: result}
}

// fallback clears what a satisfied run left over with the priority clearer
// and appends the outcome.
func (e *Engine) fallback(result model.ClearingResult, opts Options) model.ClearingResult {
	if len(result.OffersUncleared) == 0 || len(result.BidsUncleared) == 0 {
		return result
	}

	extra := e.priority(result.OffersUncleared, result.BidsUncleared, opts.PriorityFallback, opts)
	matches := append(append([]model.Match{}, result.Matches...), extra.Matches...)
	return model.ClearingResult{
		Matches:         matches,
		OffersUncleared: extra.OffersUncleared,
		BidsUncleared:   extra.BidsUncleared,
		QualityShares:   e.shares(matches),
	}
}

// unsatisfiedBids walks tiers from best to worst. Tier t may claim cleared
// offer volume of quality t plus whatever higher tiers left unclaimed; bid
// volume of tier t beyond that is unsatisfied. Within a tier the earliest
// matches (highest bid prices) are satisfied first.
func unsatisfiedBids(p pass, tiers []model.Quality) []model.Position {
	supply := make(map[model.Quality]int64)
	demand := make(map[model.Quality]int64)
	for _, m := range p.result.Matches {
		supply[m.OfferQuality] += m.TradedQuantity
		demand[m.BidQuality] += m.TradedQuantity
	}

	budget := make(map[model.Quality]int64, len(tiers))
	var excess int64
	for i := len(tiers) - 1; i >= 0; i-- {
		q := tiers[i]
		available := excess + supply[q]
		satisfied := min(demand[q], available)
		budget[q] = satisfied
		excess = available - satisfied
	}

	var out []model.Position
	for k, m := range p.result.Matches {
		q := m.BidQuality
		take := min(budget[q], m.TradedQuantity)
		budget[q] -= take
		if rest := m.TradedQuantity - take; rest > 0 {
			bid := p.bidOf[k]
			bid.Quantity = rest
			out = append(out, bid)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return Aggregate(out, KeyPremium)
}

// subtract removes stripped volume from the matching key group of an
// aggregated bid set. Groups that reach zero are dropped.
func subtract(working, stripped []model.Position) []model.Position {
	out := make([]model.Position, 0, len(working))
	for _, w := range working {
		for _, s := range stripped {
			if compareKey(&w, &s, KeyPremium) == 0 {
				w.Quantity -= s.Quantity
			}
		}
		if w.Quantity < 0 {
			panic("clearing: stripped more volume than a bid holds")
		}
		if w.Quantity > 0 {
			out = append(out, w)
		}
	}
	return out
}

func (e *Engine) logSatisfaction(opts Options, iteration int, unsatisfied []model.Position) {
	if !opts.ExtendedQualityLogging {
		return
	}
	byTier := make(map[model.Quality]int64)
	var total int64
	for _, u := range unsatisfied {
		byTier[u.Quality] += u.Quantity
		total += u.Quantity
	}
	attrs := []any{"iteration", iteration, "unsatisfied_volume", total}
	for _, q := range sortedTiers(model.QualityShares{Pct: byTier}) {
		attrs = append(attrs, fmt.Sprintf("tier_%d", q), byTier[q])
	}
	opts.Logger.Debug("preference satisfaction check", attrs...)
}
