package clearing

import (
	"github.com/lemx/clearing-engine/internal/config"
	"github.com/lemx/clearing-engine/internal/model"
)

var seq int64

func newEngine() *Engine {
	return New(config.DefaultMarket())
}

func offer(user string, price, qty int64, q model.Quality) model.Position {
	seq++
	return model.Position{UserID: user, Price: price, Quantity: qty, Quality: q, Side: model.Offer, Seq: seq, Status: model.StatusOpen}
}

func bid(user string, price, qty int64, q model.Quality) model.Position {
	seq++
	return model.Position{UserID: user, Price: price, Quantity: qty, Quality: q, Side: model.Bid, Seq: seq, Status: model.StatusOpen}
}

func withPremium(p model.Position, pct int64) model.Position {
	p.PremiumPct = pct
	return p
}

func sumQty(ps []model.Position) int64 {
	var total int64
	for _, p := range ps {
		total += p.Quantity
	}
	return total
}

func bidVolumeByTier(ms []model.Match) map[model.Quality]int64 {
	out := make(map[model.Quality]int64)
	for _, m := range ms {
		out[m.BidQuality] += m.TradedQuantity
	}
	return out
}

func offerVolumeByTier(ms []model.Match) map[model.Quality]int64 {
	out := make(map[model.Quality]int64)
	for _, m := range ms {
		out[m.OfferQuality] += m.TradedQuantity
	}
	return out
}
