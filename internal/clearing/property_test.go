package clearing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/lemx/clearing-engine/internal/model"
)

type book struct {
	offers []model.Position
	bids   []model.Position
}

func positionGen(side model.Side) *rapid.Generator[model.Position] {
	return rapid.Custom(func(t *rapid.T) model.Position {
		p := model.Position{
			UserID:   rapid.SampledFrom([]string{"u1", "u2", "u3"}).Draw(t, "user"),
			Quantity: rapid.Int64Range(0, 10).Draw(t, "qty"),
			Price:    rapid.Int64Range(-5, 20).Draw(t, "price"),
			Quality:  model.Quality(rapid.IntRange(0, 3).Draw(t, "quality")),
			Side:     side,
			Status:   model.StatusOpen,
		}
		if side == model.Bid {
			p.PremiumPct = rapid.Int64Range(0, 50).Draw(t, "premium")
		}
		return p
	})
}

func drawBook(t *rapid.T) book {
	b := book{
		offers: rapid.SliceOfN(positionGen(model.Offer), 0, 8).Draw(t, "offers"),
		bids:   rapid.SliceOfN(positionGen(model.Bid), 0, 8).Draw(t, "bids"),
	}
	var n int64
	for i := range b.offers {
		n++
		b.offers[i].Seq = n
	}
	for i := range b.bids {
		n++
		b.bids[i].Seq = n
	}
	return b
}

func assertConserved(t *rapid.T, b book, out model.Outcome) {
	traded := out.Result.TradedVolume()
	assert.Equal(t, sumQty(b.offers), traded+sumQty(out.Result.OffersUncleared), "offer volume")
	assert.Equal(t, sumQty(b.bids), traded+sumQty(out.Result.BidsUncleared), "bid volume")
}

func TestProperty_DoubleAuctionConservesVolume(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		opts := Options{ApplyPremium: rapid.Bool().Draw(t, "premium")}
		assertConserved(t, b, newEngine().DoubleAuction(b.offers, b.bids, opts))
	})
}

func TestProperty_PriorityConservesVolume(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		order := rapid.SampledFrom([]TierOrder{HighToLow, LowToHigh, Separate}).Draw(t, "order")
		out := newEngine().ClearByPriority(b.offers, b.bids, order, Options{})
		assertConserved(t, b, out)
		for _, m := range out.Result.Matches {
			assert.GreaterOrEqual(t, m.OfferQuality, m.BidQuality)
			if order == Separate {
				assert.Equal(t, m.OfferQuality, m.BidQuality)
			}
		}
	})
}

func TestProperty_SatisfactionConservesVolume(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		var opts Options
		if rapid.Bool().Draw(t, "fallback") {
			opts.PriorityFallback = rapid.SampledFrom([]TierOrder{HighToLow, LowToHigh, Separate}).Draw(t, "order")
		}
		out := newEngine().ClearBySatisfaction(b.offers, b.bids, 0, opts)
		assertConserved(t, b, out)
	})
}

// Cumulatively from the best tier down, cleared bid volume never exceeds
// cleared offer volume of at least that quality.
func TestProperty_SatisfiedBidsAreBacked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		var opts Options
		if rapid.Bool().Draw(t, "fallback") {
			opts.PriorityFallback = HighToLow
		}
		out := newEngine().ClearBySatisfaction(b.offers, b.bids, 0, opts)
		if out.Status != model.Cleared {
			return
		}
		bidVol := bidVolumeByTier(out.Result.Matches)
		offVol := offerVolumeByTier(out.Result.Matches)
		var demand, supply int64
		for q := model.Quality(3); q >= 0; q-- {
			demand += bidVol[q]
			supply += offVol[q]
			assert.LessOrEqual(t, demand, supply, "tiers >= %d", q)
		}
	})
}

func TestProperty_PriceOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		opts := Options{
			FairnessShuffle: true,
			Rand:            rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed"))),
		}
		out := newEngine().DoubleAuction(b.offers, b.bids, opts)
		if out.Status != model.Cleared {
			return
		}
		r := out.Result
		for _, m := range r.Matches {
			assert.LessOrEqual(t, m.OfferPrice, m.BidPrice)
			for _, u := range r.OffersUncleared {
				assert.GreaterOrEqual(t, u.Price, m.OfferPrice, "uncleared offer cheaper than cleared supply")
			}
			for _, u := range r.BidsUncleared {
				assert.LessOrEqual(t, u.Price, m.BidPrice, "uncleared bid higher than cleared demand")
			}
		}
	})
}

func TestProperty_AggregateIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		key := rapid.SampledFrom([]Key{0, KeyPremium}).Draw(t, "key")
		once := Aggregate(b.bids, key)
		assert.Equal(t, once, Aggregate(once, key))
		assert.Equal(t, sumQty(b.bids), sumQty(once))
	})
}

func TestProperty_SeededRunsAreDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		seed := rapid.Int64().Draw(t, "seed")
		run := func() model.Outcome {
			return newEngine().DoubleAuction(b.offers, b.bids, Options{
				ApplyPremium:    true,
				FairnessShuffle: true,
				Rand:            rand.New(rand.NewSource(seed)),
			})
		}
		assert.Equal(t, run(), run())
	})
}

func TestProperty_LedgerParity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		premium := rapid.Bool().Draw(t, "premium")
		out := newEngine().DoubleAuction(b.offers, b.bids, Options{ApplyPremium: premium})
		if out.Status != model.Cleared {
			return
		}
		assertLedgerParity(t, b.offers, b.bids, premium, out)
	})
}
