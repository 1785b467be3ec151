package clearing

import "github.com/lemx/clearing-engine/internal/model"

// midpoint is the truncated average of an offer and a bid price.
func midpoint(offer, bid int64) int64 {
	return (offer + bid) / 2
}

// UniformPrice is the midpoint of the marginal (last) cleared match.
// ok is false when nothing cleared.
func UniformPrice(cleared []model.Match) (price int64, ok bool) {
	if len(cleared) == 0 {
		return 0, false
	}
	last := cleared[len(cleared)-1]
	return midpoint(last.OfferPrice, last.BidPrice), true
}

// DiscriminatoryPrice prices one match from its own offer and bid.
func DiscriminatoryPrice(m model.Match) int64 {
	return midpoint(m.OfferPrice, m.BidPrice)
}

// applyPrices attaches one price per requested scheme to each match. The
// matches of one clearing pass must be given together so the uniform price
// sees the marginal match.
func applyPrices(cleared []model.Match, schemes []model.PricingScheme) {
	uniform, _ := UniformPrice(cleared)
	for i := range cleared {
		prices := make(map[model.PricingScheme]int64, len(schemes))
		for _, s := range schemes {
			switch s {
			case model.Uniform:
				prices[s] = uniform
			case model.Discriminatory:
				prices[s] = DiscriminatoryPrice(cleared[i])
			}
		}
		cleared[i].Prices = prices
	}
}
