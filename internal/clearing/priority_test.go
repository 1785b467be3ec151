package clearing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemx/clearing-engine/internal/model"
)

// priorityBook: premium supply A (q2) is larger than premium demand X, and
// plain demand Y exceeds plain supply B.
func priorityBook() (offers, bids []model.Position) {
	offers = []model.Position{offer("A", 1, 5, 2), offer("B", 1, 2, 0)}
	bids = []model.Position{bid("X", 10, 2, 2), bid("Y", 10, 4, 0)}
	return offers, bids
}

func TestClearByPriority_HighToLow(t *testing.T) {
	offers, bids := priorityBook()
	out := newEngine().ClearByPriority(offers, bids, HighToLow, Options{})
	require.Equal(t, model.Cleared, out.Status)

	r := out.Result
	assert.Equal(t, int64(6), r.TradedVolume())
	require.Len(t, r.Matches, 3)
	assert.Equal(t, "A", r.Matches[0].OfferUser)
	assert.Equal(t, "X", r.Matches[0].BidUser)

	// unsold premium supply cascades to the plain tier and is preferred there
	assert.Equal(t, "A", r.Matches[1].OfferUser)
	assert.Equal(t, "Y", r.Matches[1].BidUser)
	assert.Equal(t, int64(3), r.Matches[1].TradedQuantity)

	require.Len(t, r.OffersUncleared, 1)
	assert.Equal(t, "B", r.OffersUncleared[0].UserID)
	assert.Equal(t, int64(1), r.OffersUncleared[0].Quantity)
	assert.Empty(t, r.BidsUncleared)

	assert.Equal(t, int64(83), r.QualityShares.Pct[2])
	assert.Equal(t, int64(17), r.QualityShares.Pct[0])
}

func TestClearByPriority_LowToHigh(t *testing.T) {
	offers, bids := priorityBook()
	out := newEngine().ClearByPriority(offers, bids, LowToHigh, Options{})
	r := out.Result

	assert.Equal(t, int64(5), r.TradedVolume())
	require.Len(t, r.Matches, 2)
	assert.Equal(t, "Y", r.Matches[0].BidUser)
	assert.Equal(t, "A", r.Matches[0].OfferUser)
	assert.Equal(t, int64(4), r.Matches[0].TradedQuantity)
	assert.Equal(t, "X", r.Matches[1].BidUser)
	assert.Equal(t, int64(1), r.Matches[1].TradedQuantity)

	assert.Equal(t, int64(2), sumQty(r.OffersUncleared))
	require.Len(t, r.BidsUncleared, 1)
	assert.Equal(t, "X", r.BidsUncleared[0].UserID)
	assert.Equal(t, int64(1), r.BidsUncleared[0].Quantity)
}

func TestClearByPriority_Separate(t *testing.T) {
	offers, bids := priorityBook()
	out := newEngine().ClearByPriority(offers, bids, Separate, Options{})
	r := out.Result

	assert.Equal(t, int64(4), r.TradedVolume())
	for _, m := range r.Matches {
		assert.Equal(t, m.OfferQuality, m.BidQuality)
	}
	require.Len(t, r.OffersUncleared, 1)
	assert.Equal(t, "A", r.OffersUncleared[0].UserID)
	assert.Equal(t, int64(3), r.OffersUncleared[0].Quantity)
	require.Len(t, r.BidsUncleared, 1)
	assert.Equal(t, "Y", r.BidsUncleared[0].UserID)
	assert.Equal(t, int64(2), r.BidsUncleared[0].Quantity)
}

func TestClearByPriority_BidsNeverGetWorseQuality(t *testing.T) {
	offers, bids := priorityBook()
	for _, order := range []TierOrder{HighToLow, LowToHigh, Separate} {
		out := newEngine().ClearByPriority(offers, bids, order, Options{})
		for _, m := range out.Result.Matches {
			assert.GreaterOrEqual(t, m.OfferQuality, m.BidQuality, "order %s", order)
		}
		assert.Equal(t, sumQty(offers), out.Result.TradedVolume()+sumQty(out.Result.OffersUncleared), "order %s", order)
		assert.Equal(t, sumQty(bids), out.Result.TradedVolume()+sumQty(out.Result.BidsUncleared), "order %s", order)
	}
}

func TestClearByPriority_UniformPricePerTier(t *testing.T) {
	offers := []model.Position{offer("A", 4, 1, 2), offer("B", 1, 1, 0)}
	bids := []model.Position{bid("X", 10, 1, 2), bid("Y", 3, 1, 0)}

	out := newEngine().ClearByPriority(offers, bids, Separate, Options{Schemes: []model.PricingScheme{model.Uniform}})
	require.Len(t, out.Result.Matches, 2)
	assert.Equal(t, int64(2), out.Result.Matches[0].Prices[model.Uniform]) // tier 0: (1+3)/2
	assert.Equal(t, int64(7), out.Result.Matches[1].Prices[model.Uniform]) // tier 2: (4+10)/2
}

func TestClearByPriority_EmptyInput(t *testing.T) {
	bids := []model.Position{bid("X", 10, 2, 2)}
	out := newEngine().ClearByPriority(nil, bids, HighToLow, Options{})
	assert.Equal(t, model.EmptyInput, out.Status)
	assert.Equal(t, bids, out.Result.BidsUncleared)
}

func TestClearByPriority_UnknownOrderPanics(t *testing.T) {
	offers, bids := priorityBook()
	assert.Panics(t, func() {
		newEngine().ClearByPriority(offers, bids, TierOrder("sideways"), Options{})
	})
}

func TestParseTierOrder(t *testing.T) {
	o, err := ParseTierOrder(" High_To_Low ")
	require.NoError(t, err)
	assert.Equal(t, HighToLow, o)

	_, err = ParseTierOrder("diagonal")
	assert.Error(t, err)
}
