// Package model defines the core domain types shared across the clearing engine.
// Prices and quantities are fixed-point int64 values; the engine never uses
// floating point. Conversion to decimal happens only at the API and storage edges.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Side says whether a position buys (Bid) or sells (Offer) energy.
type Side int8

const (
	Bid Side = iota
	Offer
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Offer:
		return "offer"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// ParseSide accepts "bid" or "offer" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid":
		return Bid, nil
	case "offer":
		return Offer, nil
	}
	return 0, fmt.Errorf("model: unknown side %q", s)
}

// MarshalText renders the side name in JSON.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a side name.
func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Quality is an energy quality tier. Higher values are more preferred
// (for example 3 = green and local).
type Quality int8

// StatusOpen is the status of every stored position. Positions are never
// consumed by a clearing; each run re-reads the open set.
const StatusOpen = "open"

// Position is one order to buy or sell energy for one delivery interval.
type Position struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Quantity     int64     `json:"quantity"`
	Price        int64     `json:"price"`
	Quality      Quality   `json:"quality"`
	PremiumPct   int64     `json:"premium_pct"` // bids only, 0..100
	Side         Side      `json:"side"`
	DeliveryTime int64     `json:"delivery_time"` // unix seconds of interval start
	SubmittedAt  time.Time `json:"submitted_at"`
	Seq          int64     `json:"seq"`
	Status       string    `json:"status"`
}

// PricingScheme names a clearing price policy.
type PricingScheme string

const (
	Uniform        PricingScheme = "uniform"
	Discriminatory PricingScheme = "discriminatory"
)

// ParsePricingScheme validates a scheme name.
func ParsePricingScheme(s string) (PricingScheme, error) {
	switch PricingScheme(strings.ToLower(strings.TrimSpace(s))) {
	case Uniform:
		return Uniform, nil
	case Discriminatory:
		return Discriminatory, nil
	}
	return "", fmt.Errorf("model: unknown pricing scheme %q", s)
}

// Match pairs one (aggregated) offer with one (aggregated) bid.
// BidPrice is the effective bid price used for clearing, premium included.
type Match struct {
	OfferUser      string                  `json:"offer_user"`
	OfferSeq       int64                   `json:"offer_seq"`
	OfferPrice     int64                   `json:"offer_price"`
	OfferQuality   Quality                 `json:"offer_quality"`
	BidUser        string                  `json:"bid_user"`
	BidSeq         int64                   `json:"bid_seq"`
	BidPrice       int64                   `json:"bid_price"`
	BidQuality     Quality                 `json:"bid_quality"`
	TradedQuantity int64                   `json:"traded_quantity"`
	Prices         map[PricingScheme]int64 `json:"prices"`
}

// QualityShares maps each tier to a whole-number percentage of volume.
// Defined is false when there was no volume to divide by; Pct is then all zeros.
type QualityShares struct {
	Defined bool              `json:"defined"`
	Pct     map[Quality]int64 `json:"pct"`
}

// ClearingResult is the owned output of one clearing call.
type ClearingResult struct {
	Matches         []Match       `json:"matches"`
	OffersUncleared []Position    `json:"offers_uncleared"`
	BidsUncleared   []Position    `json:"bids_uncleared"`
	QualityShares   QualityShares `json:"quality_shares"`
	PlacedShares    QualityShares `json:"placed_shares"`
}

// TradedVolume sums traded quantity over all matches.
func (r *ClearingResult) TradedVolume() int64 {
	var total int64
	for _, m := range r.Matches {
		total += m.TradedQuantity
	}
	return total
}

// OutcomeStatus tells how a clearing call terminated.
type OutcomeStatus int8

const (
	Cleared OutcomeStatus = iota
	EmptyInput
	GaveUp
)

func (s OutcomeStatus) String() string {
	switch s {
	case Cleared:
		return "cleared"
	case EmptyInput:
		return "empty_input"
	case GaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// MarshalText renders the status name in JSON.
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *OutcomeStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "cleared":
		*s = Cleared
	case "empty_input":
		*s = EmptyInput
	case "gave_up":
		*s = GaveUp
	default:
		return fmt.Errorf("model: unknown outcome status %q", b)
	}
	return nil
}

// Outcome wraps a result with its termination status. Result is always
// populated: for EmptyInput and GaveUp it holds the input sets as uncleared.
type Outcome struct {
	Status     OutcomeStatus  `json:"status"`
	Iterations int            `json:"iterations"`
	Result     ClearingResult `json:"result"`
}

// Settlement state values for a delivery interval.
const (
	SettlementPending = "pending"
	SettlementCleared = "cleared"
	SettlementSettled = "settled"
)

// SettlementState tracks what downstream settlement has done with an interval.
type SettlementState struct {
	DeliveryTime int64     `json:"delivery_time"`
	Status       string    `json:"status"`
	Variants     []string  `json:"variants"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoredResult is one persisted clearing run for a (delivery_time, variant) pair.
type StoredResult struct {
	ID           string    `json:"id"`
	DeliveryTime int64     `json:"delivery_time"`
	Variant      string    `json:"variant"`
	ClearedAt    time.Time `json:"cleared_at"`
	Outcome      Outcome   `json:"outcome"`
}
