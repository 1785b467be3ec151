// Package clearing implements the position-matching and pricing engine of the
// local energy market: a double-auction matcher, quality-priority and
// preference-satisfaction clearers built on it, and quality-share accounting.
//
// Every operation is a pure function of its inputs. Input slices are never
// mutated; results hold freshly allocated Position values. An Engine is safe
// for concurrent use, so callers may clear many delivery intervals in
// parallel as long as each call gets its own random source.
package clearing

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/lemx/clearing-engine/internal/config"
	"github.com/lemx/clearing-engine/internal/model"
)

// Options tune one clearing call.
type Options struct {
	// ApplyPremium raises each bid price by price*PremiumPct/100 before sorting.
	ApplyPremium bool

	// FairnessShuffle randomizes order within equal (price, quality) groups.
	// Rand must be set when it is enabled.
	FairnessShuffle bool
	Rand            *rand.Rand

	// Schemes selects the clearing prices attached to each match. Empty means
	// the market defaults.
	Schemes []model.PricingScheme

	// ExtendedQualityLogging emits per-tier volume details at debug level.
	ExtendedQualityLogging bool
	Logger                 *slog.Logger

	// PriorityFallback, when set, hands the remainder of a satisfied
	// preference-satisfaction clearing to ClearByPriority with this order.
	PriorityFallback TierOrder
}

// Engine clears position sets under one immutable market configuration.
type Engine struct {
	market config.Market
}

// New returns an engine for the given market. The tier list is copied.
func New(market config.Market) *Engine {
	market.Tiers = append([]config.Tier(nil), market.Tiers...)
	market.Schemes = append([]model.PricingScheme(nil), market.Schemes...)
	return &Engine{market: market}
}

func (e *Engine) prepare(opts Options) Options {
	if len(opts.Schemes) == 0 {
		opts.Schemes = e.market.Schemes
	}
	if opts.FairnessShuffle && opts.Rand == nil {
		panic("clearing: fairness shuffle requires a random source")
	}
	if opts.ExtendedQualityLogging && opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// positive validates the contract on quantities and premiums and returns the
// positions with quantity > 0 as new values.
func positive(positions []model.Position) []model.Position {
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if p.Quantity < 0 {
			panic(fmt.Sprintf("clearing: negative quantity %d for user %s seq %d", p.Quantity, p.UserID, p.Seq))
		}
		if p.PremiumPct < 0 || p.PremiumPct > 100 {
			panic(fmt.Sprintf("clearing: premium %d%% out of range for user %s seq %d", p.PremiumPct, p.UserID, p.Seq))
		}
		if p.Quantity > 0 {
			out = append(out, p)
		}
	}
	return out
}

func clonePositions(positions []model.Position) []model.Position {
	if positions == nil {
		return []model.Position{}
	}
	return append([]model.Position(nil), positions...)
}

// emptyOutcome reports the input sets verbatim as uncleared.
func (e *Engine) emptyOutcome(status model.OutcomeStatus, offers, bids []model.Position, iterations int) model.Outcome {
	return model.Outcome{
		Status:     status,
		Iterations: iterations,
		Result: model.ClearingResult{
			Matches:         []model.Match{},
			OffersUncleared: clonePositions(offers),
			BidsUncleared:   clonePositions(bids),
			QualityShares:   e.shares(nil),
			PlacedShares:    e.placedShares(offers),
		},
	}
}

// tiers returns the configured qualities plus any quality seen in the given
// sets, ascending.
func (e *Engine) tiers(sets ...[]model.Position) []model.Quality {
	seen := make(map[model.Quality]bool)
	for _, t := range e.market.Tiers {
		seen[t.Quality] = true
	}
	for _, set := range sets {
		for _, p := range set {
			seen[p.Quality] = true
		}
	}
	qs := make([]model.Quality, 0, len(seen))
	for q := range seen {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

func (e *Engine) logShares(opts Options, variant string, r *model.ClearingResult) {
	if !opts.ExtendedQualityLogging {
		return
	}
	attrs := []any{"variant", variant, "traded_volume", r.TradedVolume(), "defined", r.QualityShares.Defined}
	for _, q := range sortedTiers(r.QualityShares) {
		attrs = append(attrs, fmt.Sprintf("share_%d", q), r.QualityShares.Pct[q])
	}
	opts.Logger.Debug("quality shares", attrs...)
}
