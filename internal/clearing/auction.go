package clearing

import (
	"math/rand"
	"sort"

	"github.com/lemx/clearing-engine/internal/model"
)

// entry is one aggregated position on a supply or demand ladder.
// (lo, hi] is its slice of cumulative volume.
type entry struct {
	pos     model.Position // aggregated record, original price
	price   int64          // effective price used for matching
	lo, hi  int64
	cleared int64
}

// pass is the outcome of one matcher invocation. bidOf[k] is the aggregated
// bid record (original price) behind result.Matches[k].
type pass struct {
	result model.ClearingResult
	bidOf  []model.Position
	empty  bool
}

// DoubleAuction clears offers against bids on cumulative volume and prices
// the cleared matches. If either side has no positive quantity the outcome
// is EmptyInput and both sets are returned verbatim as uncleared.
func (e *Engine) DoubleAuction(offers, bids []model.Position, opts Options) model.Outcome {
	opts = e.prepare(opts)
	p := e.auction(offers, bids, opts)
	if p.empty {
		return e.emptyOutcome(model.EmptyInput, offers, bids, 0)
	}
	p.result.PlacedShares = e.placedShares(offers)
	e.logShares(opts, "double_auction", &p.result)
	return model.Outcome{Status: model.Cleared, Result: p.result}
}

func (e *Engine) auction(offers, bids []model.Position, opts Options) pass {
	liveOffers, liveBids := positive(offers), positive(bids)
	if len(liveOffers) == 0 || len(liveBids) == 0 {
		return pass{
			empty: true,
			result: model.ClearingResult{
				Matches:         []model.Match{},
				OffersUncleared: clonePositions(offers),
				BidsUncleared:   clonePositions(bids),
				QualityShares:   e.shares(nil),
			},
		}
	}

	supply := ladder(liveOffers, model.Offer, opts)
	demand := ladder(liveBids, model.Bid, opts)

	matches := []model.Match{}
	var bidOf []model.Position
	for i, j := 0, 0; i < len(supply) && j < len(demand); {
		o, b := &supply[i], &demand[j]
		// Offers ascend and bids descend in price, so the first
		// non-crossing pair ends the cleared region.
		if o.price > b.price {
			break
		}
		if overlap := min(o.hi, b.hi) - max(o.lo, b.lo); overlap > 0 {
			matches = append(matches, model.Match{
				OfferUser:      o.pos.UserID,
				OfferSeq:       o.pos.Seq,
				OfferPrice:     o.price,
				OfferQuality:   o.pos.Quality,
				BidUser:        b.pos.UserID,
				BidSeq:         b.pos.Seq,
				BidPrice:       b.price,
				BidQuality:     b.pos.Quality,
				TradedQuantity: overlap,
			})
			bidOf = append(bidOf, b.pos)
			o.cleared += overlap
			b.cleared += overlap
		}
		switch {
		case o.hi < b.hi:
			i++
		case o.hi > b.hi:
			j++
		default:
			i++
			j++
		}
	}

	applyPrices(matches, opts.Schemes)

	return pass{
		bidOf: bidOf,
		result: model.ClearingResult{
			Matches:         matches,
			OffersUncleared: remainders(supply),
			BidsUncleared:   remainders(demand),
			QualityShares:   e.shares(matches),
		},
	}
}

// ladder aggregates, prices, orders and indexes one side of the book.
// Offers ascend by price with higher quality first among equal prices;
// bids descend by price with lower quality first among equal prices.
func ladder(positions []model.Position, side model.Side, opts Options) []entry {
	agg := Aggregate(positions, KeyPremium)
	es := make([]entry, len(agg))
	for i, p := range agg {
		price := p.Price
		if side == model.Bid && opts.ApplyPremium {
			price += p.Price * p.PremiumPct / 100
		}
		es[i] = entry{pos: p, price: price}
	}

	if side == model.Offer {
		sort.SliceStable(es, func(i, j int) bool {
			if es[i].price != es[j].price {
				return es[i].price < es[j].price
			}
			return es[i].pos.Quality > es[j].pos.Quality
		})
	} else {
		sort.SliceStable(es, func(i, j int) bool {
			if es[i].price != es[j].price {
				return es[i].price > es[j].price
			}
			return es[i].pos.Quality < es[j].pos.Quality
		})
	}

	if opts.FairnessShuffle {
		shuffleGroups(es, opts.Rand)
	}

	var cum int64
	for i := range es {
		es[i].lo = cum
		cum += es[i].pos.Quantity
		es[i].hi = cum
	}
	return es
}

// shuffleGroups permutes each run of equal (price, quality) entries in place.
func shuffleGroups(es []entry, rnd *rand.Rand) {
	for start := 0; start < len(es); {
		end := start + 1
		for end < len(es) && es[end].price == es[start].price && es[end].pos.Quality == es[start].pos.Quality {
			end++
		}
		if group := es[start:end]; len(group) > 1 {
			rnd.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		}
		start = end
	}
}

// remainders returns the uncleared part of each entry as new positions.
func remainders(es []entry) []model.Position {
	out := []model.Position{}
	for _, en := range es {
		if rest := en.pos.Quantity - en.cleared; rest > 0 {
			p := en.pos
			p.Quantity = rest
			out = append(out, p)
		}
	}
	return out
}
