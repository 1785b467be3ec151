package model

import (
	"fmt"
	"strconv"
	"time"
)

// MatchRecord is the persisted row shape handed to settlement and to the
// ledger parity checks. Column order is fixed: offer_user, offer_seq,
// offer_price, bid_user, bid_seq, bid_price, traded_quantity,
// clearing_price_<scheme>..., quality_share_<tier>..., cleared_at_time,
// delivery_time.
type MatchRecord struct {
	OfferUser      string
	OfferSeq       int64
	OfferPrice     int64
	BidUser        string
	BidSeq         int64
	BidPrice       int64
	TradedQuantity int64
	ClearingPrices []int64 // aligned with the schemes passed to Columns
	QualityShares  []int64 // aligned with the tiers passed to Columns
	ClearedAt      time.Time
	DeliveryTime   int64
}

// Records flattens a result into rows. Shares are result-level values
// repeated on every row. A scheme missing from a match is written as 0.
func Records(r *ClearingResult, schemes []PricingScheme, tiers []Quality, clearedAt time.Time, deliveryTime int64) []MatchRecord {
	shares := make([]int64, len(tiers))
	for i, q := range tiers {
		shares[i] = r.QualityShares.Pct[q]
	}

	records := make([]MatchRecord, 0, len(r.Matches))
	for _, m := range r.Matches {
		prices := make([]int64, len(schemes))
		for i, s := range schemes {
			prices[i] = m.Prices[s]
		}
		records = append(records, MatchRecord{
			OfferUser:      m.OfferUser,
			OfferSeq:       m.OfferSeq,
			OfferPrice:     m.OfferPrice,
			BidUser:        m.BidUser,
			BidSeq:         m.BidSeq,
			BidPrice:       m.BidPrice,
			TradedQuantity: m.TradedQuantity,
			ClearingPrices: prices,
			QualityShares:  append([]int64(nil), shares...),
			ClearedAt:      clearedAt,
			DeliveryTime:   deliveryTime,
		})
	}
	return records
}

// Columns returns the header for rows built with the same schemes and tiers.
func Columns(schemes []PricingScheme, tiers []Quality) []string {
	cols := []string{"offer_user", "offer_seq", "offer_price", "bid_user", "bid_seq", "bid_price", "traded_quantity"}
	for _, s := range schemes {
		cols = append(cols, "clearing_price_"+string(s))
	}
	for _, q := range tiers {
		cols = append(cols, fmt.Sprintf("quality_share_%d", q))
	}
	return append(cols, "cleared_at_time", "delivery_time")
}

// Values renders the row as strings in column order.
func (r MatchRecord) Values() []string {
	vals := []string{
		r.OfferUser,
		strconv.FormatInt(r.OfferSeq, 10),
		strconv.FormatInt(r.OfferPrice, 10),
		r.BidUser,
		strconv.FormatInt(r.BidSeq, 10),
		strconv.FormatInt(r.BidPrice, 10),
		strconv.FormatInt(r.TradedQuantity, 10),
	}
	for _, p := range r.ClearingPrices {
		vals = append(vals, strconv.FormatInt(p, 10))
	}
	for _, s := range r.QualityShares {
		vals = append(vals, strconv.FormatInt(s, 10))
	}
	return append(vals,
		strconv.FormatInt(r.ClearedAt.Unix(), 10),
		strconv.FormatInt(r.DeliveryTime, 10),
	)
}
