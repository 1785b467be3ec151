// Package validate checks submitted positions before they are stored, so the
// clearing engine only ever sees well-formed input.
//
// Two kinds of checks exist. Validate looks at a single position against the
// market rules. CheckLimit enforces the per-user cap on open quantity, which
// depends on what the user already holds in the same interval and side.
package validate

import (
	"errors"
	"fmt"

	"github.com/lemx/clearing-engine/internal/config"
	"github.com/lemx/clearing-engine/internal/interval"
	"github.com/lemx/clearing-engine/internal/model"
)

var (
	ErrInvalidSide     = errors.New("validate: side must be bid or offer")
	ErrMissingUser     = errors.New("validate: user_id is required")
	ErrInvalidQuantity = errors.New("validate: quantity must be positive")
	ErrInvalidPremium  = errors.New("validate: premium out of range")
	ErrUnknownQuality  = errors.New("validate: quality not in tier dictionary")
	ErrPriceOutOfBand  = errors.New("validate: price outside allowed band")
	ErrDeliveryTime    = errors.New("validate: invalid delivery time")

	// ErrUserLimitExceeded is returned when a position would push a user's
	// open quantity in one interval and side beyond the market maximum.
	ErrUserLimitExceeded = errors.New("validate: per-user quantity limit exceeded")
)

// Validator enforces the market's submission rules.
type Validator struct {
	market config.Market
}

// New creates a validator for the given market.
func New(market config.Market) *Validator {
	return &Validator{market: market}
}

// Validate checks one position. The first failing rule is returned wrapped
// with the offending value.
func (v *Validator) Validate(p model.Position) error {
	if p.Side != model.Bid && p.Side != model.Offer {
		return ErrInvalidSide
	}
	if p.UserID == "" {
		return ErrMissingUser
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, p.Quantity)
	}

	// Only bids pay a premium.
	switch {
	case p.Side == model.Offer && p.PremiumPct != 0:
		return fmt.Errorf("%w: offers carry no premium, got %d", ErrInvalidPremium, p.PremiumPct)
	case p.PremiumPct < 0 || p.PremiumPct > 100:
		return fmt.Errorf("%w: %d", ErrInvalidPremium, p.PremiumPct)
	}

	if !v.market.HasQuality(p.Quality) {
		return fmt.Errorf("%w: %d", ErrUnknownQuality, p.Quality)
	}
	if p.Price < v.market.PriceMin || p.Price > v.market.PriceMax {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrPriceOutOfBand, p.Price, v.market.PriceMin, v.market.PriceMax)
	}
	if err := interval.Check(p.DeliveryTime, v.market.IntervalSeconds); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryTime, err)
	}
	return nil
}

// CheckLimit validates that adding p to the user's existing open quantity in
// the same interval and side stays within the market maximum.
func (v *Validator) CheckLimit(p model.Position, existing int64) error {
	if existing+p.Quantity > v.market.MaxUserQuantity {
		return fmt.Errorf("%w: %d + %d > %d", ErrUserLimitExceeded, existing, p.Quantity, v.market.MaxUserQuantity)
	}
	return nil
}

// Reason maps a validation error to a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSide):
		return "side"
	case errors.Is(err, ErrMissingUser):
		return "user"
	case errors.Is(err, ErrInvalidQuantity):
		return "quantity"
	case errors.Is(err, ErrInvalidPremium):
		return "premium"
	case errors.Is(err, ErrUnknownQuality):
		return "quality"
	case errors.Is(err, ErrPriceOutOfBand):
		return "price"
	case errors.Is(err, ErrDeliveryTime):
		return "delivery_time"
	case errors.Is(err, ErrUserLimitExceeded):
		return "limit"
	}
	return "other"
}
