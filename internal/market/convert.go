package market

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/lemx/clearing-engine/internal/interval"
	"github.com/lemx/clearing-engine/internal/model"
)

// toFixed converts a currency amount into the engine's fixed-point price.
// Amounts with more decimal places than the exponent allows are rejected.
func toFixed(d decimal.Decimal, exponent int32) (int64, error) {
	shifted := d.Shift(exponent)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: price %s has more than %d decimal places", ErrInvalidRequest, d, exponent)
	}
	if shifted.Abs().GreaterThan(maxFixed) {
		return 0, fmt.Errorf("%w: price %s out of range", ErrInvalidRequest, d)
	}
	return shifted.IntPart(), nil
}

var maxFixed = decimal.NewFromInt(math.MaxInt64)

// fromFixed converts a fixed-point price back into currency units.
func fromFixed(v int64, exponent int32) decimal.Decimal {
	return decimal.New(v, -exponent)
}

// PositionView is a position as returned by the API, with decimal prices.
type PositionView struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Side         model.Side      `json:"side"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Quality      model.Quality   `json:"quality"`
	PremiumPct   int64           `json:"premium_pct"`
	DeliveryTime int64           `json:"delivery_time"`
	Seq          int64           `json:"seq"`
	Status       string          `json:"status"`
	SubmittedAt  string          `json:"submitted_at,omitempty"`
}

// MatchView is a match with decimal prices.
type MatchView struct {
	OfferUser      string                                    `json:"offer_user"`
	OfferSeq       int64                                     `json:"offer_seq"`
	OfferPrice     decimal.Decimal                           `json:"offer_price"`
	OfferQuality   model.Quality                             `json:"offer_quality"`
	BidUser        string                                    `json:"bid_user"`
	BidSeq         int64                                     `json:"bid_seq"`
	BidPrice       decimal.Decimal                           `json:"bid_price"`
	BidQuality     model.Quality                             `json:"bid_quality"`
	TradedQuantity int64                                     `json:"traded_quantity"`
	Prices         map[model.PricingScheme]decimal.Decimal `json:"clearing_prices"`
}

// ResultView is a stored clearing run as returned by the API.
type ResultView struct {
	ID              string              `json:"id"`
	DeliveryTime    int64               `json:"delivery_time"`
	IntervalStart   string              `json:"interval_start"`
	IntervalEnd     string              `json:"interval_end"`
	Variant         string              `json:"variant"`
	ClearedAt       string              `json:"cleared_at"`
	Status          model.OutcomeStatus `json:"status"`
	Iterations      int                 `json:"iterations"`
	TradedVolume    int64               `json:"traded_volume"`
	Matches         []MatchView         `json:"matches"`
	OffersUncleared []PositionView      `json:"offers_uncleared"`
	BidsUncleared   []PositionView      `json:"bids_uncleared"`
	QualityShares   model.QualityShares `json:"quality_shares"`
	PlacedShares    model.QualityShares `json:"placed_shares"`
}

func positionView(p model.Position, exponent int32) PositionView {
	v := PositionView{
		ID:           p.ID,
		UserID:       p.UserID,
		Side:         p.Side,
		Quantity:     p.Quantity,
		Price:        fromFixed(p.Price, exponent),
		Quality:      p.Quality,
		PremiumPct:   p.PremiumPct,
		DeliveryTime: p.DeliveryTime,
		Seq:          p.Seq,
		Status:       p.Status,
	}
	if !p.SubmittedAt.IsZero() {
		v.SubmittedAt = p.SubmittedAt.UTC().Format(timeFormat)
	}
	return v
}

func positionViews(ps []model.Position, exponent int32) []PositionView {
	out := make([]PositionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, positionView(p, exponent))
	}
	return out
}

func resultView(r *model.StoredResult, exponent int32, length int64) ResultView {
	res := &r.Outcome.Result
	matches := make([]MatchView, 0, len(res.Matches))
	for _, m := range res.Matches {
		prices := make(map[model.PricingScheme]decimal.Decimal, len(m.Prices))
		for s, p := range m.Prices {
			prices[s] = fromFixed(p, exponent)
		}
		matches = append(matches, MatchView{
			OfferUser:      m.OfferUser,
			OfferSeq:       m.OfferSeq,
			OfferPrice:     fromFixed(m.OfferPrice, exponent),
			OfferQuality:   m.OfferQuality,
			BidUser:        m.BidUser,
			BidSeq:         m.BidSeq,
			BidPrice:       fromFixed(m.BidPrice, exponent),
			BidQuality:     m.BidQuality,
			TradedQuantity: m.TradedQuantity,
			Prices:         prices,
		})
	}
	start, end := interval.Bounds(r.DeliveryTime, length)
	return ResultView{
		ID:              r.ID,
		DeliveryTime:    r.DeliveryTime,
		IntervalStart:   start.Format(timeFormat),
		IntervalEnd:     end.Format(timeFormat),
		Variant:         r.Variant,
		ClearedAt:       r.ClearedAt.UTC().Format(timeFormat),
		Status:          r.Outcome.Status,
		Iterations:      r.Outcome.Iterations,
		TradedVolume:    res.TradedVolume(),
		Matches:         matches,
		OffersUncleared: positionViews(res.OffersUncleared, exponent),
		BidsUncleared:   positionViews(res.BidsUncleared, exponent),
		QualityShares:   res.QualityShares,
		PlacedShares:    res.PlacedShares,
	}
}
