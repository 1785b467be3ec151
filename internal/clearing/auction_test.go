package clearing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemx/clearing-engine/internal/model"
)

var bothSchemes = Options{Schemes: []model.PricingScheme{model.Uniform, model.Discriminatory}}

func TestDoubleAuction_BasicScenario(t *testing.T) {
	o1 := offer("s1", 1, 2, 0)
	o2 := offer("s2", 2, 2, 0)
	b1 := bid("b1", 3, 1, 0)
	b2 := bid("b2", 2, 2, 0)

	out := newEngine().DoubleAuction([]model.Position{o1, o2}, []model.Position{b1, b2}, bothSchemes)
	require.Equal(t, model.Cleared, out.Status)

	r := out.Result
	assert.Equal(t, int64(3), r.TradedVolume())
	require.Len(t, r.Matches, 3)

	for _, m := range r.Matches {
		assert.Equal(t, int64(2), m.Prices[model.Uniform], "uniform price is the marginal midpoint")
	}
	assert.Equal(t, int64(2), r.Matches[0].Prices[model.Discriminatory]) // (1+3)/2
	assert.Equal(t, int64(1), r.Matches[1].Prices[model.Discriminatory]) // (1+2)/2 truncated
	assert.Equal(t, int64(2), r.Matches[2].Prices[model.Discriminatory]) // (2+2)/2

	require.Len(t, r.OffersUncleared, 1)
	assert.Equal(t, int64(1), r.OffersUncleared[0].Quantity)
	assert.Equal(t, int64(2), r.OffersUncleared[0].Price, "cheaper supply clears first")
	assert.Empty(t, r.BidsUncleared)
}

func TestDoubleAuction_EmptyBids(t *testing.T) {
	offers := []model.Position{offer("s1", 1, 2, 0), offer("s2", 4, 0, 1)}

	out := newEngine().DoubleAuction(offers, nil, Options{})
	assert.Equal(t, model.EmptyInput, out.Status)
	assert.Empty(t, out.Result.Matches)
	assert.Equal(t, offers, out.Result.OffersUncleared)
	assert.Empty(t, out.Result.BidsUncleared)
	assert.False(t, out.Result.QualityShares.Defined)
}

func TestDoubleAuction_OnlyZeroQuantities(t *testing.T) {
	offers := []model.Position{offer("s1", 1, 2, 0)}
	bids := []model.Position{bid("b1", 5, 0, 0)}

	out := newEngine().DoubleAuction(offers, bids, Options{})
	assert.Equal(t, model.EmptyInput, out.Status)
	assert.Equal(t, bids, out.Result.BidsUncleared)
}

func TestDoubleAuction_NoCross(t *testing.T) {
	offers := []model.Position{offer("s1", 5, 2, 0)}
	bids := []model.Position{bid("b1", 3, 2, 0)}

	out := newEngine().DoubleAuction(offers, bids, Options{})
	assert.Equal(t, model.Cleared, out.Status)
	assert.Empty(t, out.Result.Matches)
	assert.Equal(t, int64(2), sumQty(out.Result.OffersUncleared))
	assert.Equal(t, int64(2), sumQty(out.Result.BidsUncleared))
	assert.False(t, out.Result.QualityShares.Defined)
}

func TestDoubleAuction_Premium(t *testing.T) {
	offers := []model.Position{offer("s1", 110, 1, 2)}
	bids := []model.Position{withPremium(bid("b1", 100, 3, 2), 10)}

	without := newEngine().DoubleAuction(offers, bids, Options{})
	assert.Empty(t, without.Result.Matches)

	with := newEngine().DoubleAuction(offers, bids, Options{ApplyPremium: true, Schemes: []model.PricingScheme{model.Uniform}})
	require.Len(t, with.Result.Matches, 1)
	m := with.Result.Matches[0]
	assert.Equal(t, int64(110), m.BidPrice)
	assert.Equal(t, int64(110), m.Prices[model.Uniform])

	require.Len(t, with.Result.BidsUncleared, 1)
	assert.Equal(t, int64(2), with.Result.BidsUncleared[0].Quantity)
	assert.Equal(t, int64(100), with.Result.BidsUncleared[0].Price, "remainder keeps the submitted price")
}

func TestDoubleAuction_PremiumTruncates(t *testing.T) {
	offers := []model.Position{offer("s1", 1, 1, 0)}
	bids := []model.Position{withPremium(bid("b1", 7, 1, 0), 15)} // 7*15/100 = 1.05

	out := newEngine().DoubleAuction(offers, bids, Options{ApplyPremium: true})
	require.Len(t, out.Result.Matches, 1)
	assert.Equal(t, int64(8), out.Result.Matches[0].BidPrice)
}

func TestDoubleAuction_AggregatesSameUser(t *testing.T) {
	offers := []model.Position{offer("s1", 1, 4, 0)}
	first := bid("u1", 5, 1, 0)
	bids := []model.Position{first, bid("u1", 5, 2, 0)}

	out := newEngine().DoubleAuction(offers, bids, Options{})
	require.Len(t, out.Result.Matches, 1)
	assert.Equal(t, int64(3), out.Result.Matches[0].TradedQuantity)
	assert.Equal(t, first.Seq, out.Result.Matches[0].BidSeq)
}

func TestDoubleAuction_HigherQualityFirstAtEqualPrice(t *testing.T) {
	offers := []model.Position{offer("grey", 3, 1, 0), offer("green", 3, 1, 2)}
	bids := []model.Position{bid("b1", 5, 1, 0)}

	out := newEngine().DoubleAuction(offers, bids, Options{})
	require.Len(t, out.Result.Matches, 1)
	assert.Equal(t, "green", out.Result.Matches[0].OfferUser)
}

func TestDoubleAuction_DoesNotMutateInput(t *testing.T) {
	offers := []model.Position{offer("s2", 2, 2, 0), offer("s1", 1, 2, 0)}
	bids := []model.Position{withPremium(bid("b1", 3, 3, 1), 20)}
	offersCopy := append([]model.Position(nil), offers...)
	bidsCopy := append([]model.Position(nil), bids...)

	newEngine().DoubleAuction(offers, bids, Options{ApplyPremium: true})
	assert.Equal(t, offersCopy, offers)
	assert.Equal(t, bidsCopy, bids)
}

func TestDoubleAuction_Deterministic(t *testing.T) {
	offers := []model.Position{offer("a", 1, 3, 0), offer("b", 1, 3, 0), offer("c", 2, 5, 1)}
	bids := []model.Position{bid("x", 4, 4, 0), bid("y", 4, 2, 1)}

	e := newEngine()
	first := e.DoubleAuction(offers, bids, bothSchemes)
	second := e.DoubleAuction(offers, bids, bothSchemes)
	assert.Equal(t, first, second)

	seeded := func() model.Outcome {
		opts := bothSchemes
		opts.FairnessShuffle = true
		opts.Rand = rand.New(rand.NewSource(42))
		return e.DoubleAuction(offers, bids, opts)
	}
	assert.Equal(t, seeded(), seeded())
}

func TestDoubleAuction_ShuffleStaysWithinPriceGroup(t *testing.T) {
	offers := []model.Position{
		offer("a", 1, 1, 0), offer("b", 1, 1, 0), offer("c", 1, 1, 0), offer("d", 2, 3, 0),
	}
	bids := []model.Position{bid("x", 5, 3, 0)}

	for s := int64(0); s < 20; s++ {
		out := newEngine().DoubleAuction(offers, bids, Options{FairnessShuffle: true, Rand: rand.New(rand.NewSource(s))})
		for _, m := range out.Result.Matches {
			assert.Equal(t, int64(1), m.OfferPrice, "seed %d cleared a higher priced offer", s)
		}
		assert.Equal(t, int64(3), out.Result.TradedVolume())
	}
}

func TestDoubleAuction_InvariantViolations(t *testing.T) {
	e := newEngine()
	assert.Panics(t, func() {
		e.DoubleAuction([]model.Position{offer("s", 1, -1, 0)}, []model.Position{bid("b", 1, 1, 0)}, Options{})
	})
	assert.Panics(t, func() {
		e.DoubleAuction([]model.Position{offer("s", 1, 1, 0)}, []model.Position{withPremium(bid("b", 1, 1, 0), 101)}, Options{})
	})
	assert.Panics(t, func() {
		e.DoubleAuction(nil, nil, Options{FairnessShuffle: true})
	})
}

func TestDoubleAuction_DefaultSchemes(t *testing.T) {
	out := newEngine().DoubleAuction([]model.Position{offer("s", 2, 1, 0)}, []model.Position{bid("b", 4, 1, 0)}, Options{})
	require.Len(t, out.Result.Matches, 1)
	assert.Len(t, out.Result.Matches[0].Prices, 2)
	assert.Equal(t, int64(3), out.Result.Matches[0].Prices[model.Discriminatory])
}

func TestDoubleAuction_PlacedShares(t *testing.T) {
	offers := []model.Position{offer("s1", 1, 3, 0), offer("s2", 9, 1, 3)}
	bids := []model.Position{bid("b", 2, 3, 0)}

	out := newEngine().DoubleAuction(offers, bids, Options{})
	assert.Equal(t, int64(75), out.Result.PlacedShares.Pct[0])
	assert.Equal(t, int64(25), out.Result.PlacedShares.Pct[3])
	assert.Equal(t, int64(100), out.Result.QualityShares.Pct[0])
	assert.Equal(t, int64(0), out.Result.QualityShares.Pct[3])
}
