package clearing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lemx/clearing-engine/internal/model"
)

func TestShares(t *testing.T) {
	tiers := []model.Quality{0, 1, 2, 3}

	tests := []struct {
		name    string
		matches []model.Match
		want    map[model.Quality]int64
		defined bool
	}{
		{
			name:    "no volume",
			matches: nil,
			want:    map[model.Quality]int64{0: 0, 1: 0, 2: 0, 3: 0},
			defined: false,
		},
		{
			name: "thirds round to nearest",
			matches: []model.Match{
				{OfferQuality: 0, TradedQuantity: 1},
				{OfferQuality: 2, TradedQuantity: 2},
			},
			want:    map[model.Quality]int64{0: 33, 1: 0, 2: 67, 3: 0},
			defined: true,
		},
		{
			name: "half rounds up",
			matches: []model.Match{
				{OfferQuality: 1, TradedQuantity: 1},
				{OfferQuality: 3, TradedQuantity: 7},
			},
			want:    map[model.Quality]int64{0: 0, 1: 13, 2: 0, 3: 88},
			defined: true,
		},
		{
			name: "tier outside dictionary is still reported",
			matches: []model.Match{
				{OfferQuality: 5, TradedQuantity: 4},
			},
			want:    map[model.Quality]int64{0: 0, 1: 0, 2: 0, 3: 0, 5: 100},
			defined: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shares(tt.matches, tiers)
			assert.Equal(t, tt.defined, got.Defined)
			assert.Equal(t, tt.want, got.Pct)
		})
	}
}

func TestPlacedShares(t *testing.T) {
	offers := []model.Position{
		{Quality: 0, Quantity: 1},
		{Quality: 1, Quantity: 1},
		{Quality: 1, Quantity: 2},
	}
	got := PlacedShares(offers, []model.Quality{0, 1})
	assert.True(t, got.Defined)
	assert.Equal(t, int64(25), got.Pct[0])
	assert.Equal(t, int64(75), got.Pct[1])
	assert.Equal(t, int64(100), PlacedShares(offers[1:], nil).Pct[1])
}

func TestUniformPrice(t *testing.T) {
	_, ok := UniformPrice(nil)
	assert.False(t, ok)

	price, ok := UniformPrice([]model.Match{
		{OfferPrice: 1, BidPrice: 9},
		{OfferPrice: -3, BidPrice: 0},
	})
	assert.True(t, ok)
	assert.Equal(t, int64(-1), price, "truncates toward zero")
}
