package market

import (
	"fmt"

	"github.com/lemx/clearing-engine/internal/clearing"
	"github.com/lemx/clearing-engine/internal/config"
	"github.com/lemx/clearing-engine/internal/model"
)

// Clearing variants accepted by the API.
const (
	VariantDoubleAuction = "double_auction"
	VariantPriority      = "priority"
	VariantSatisfaction  = "satisfaction"
)

// ClearRequest is the JSON body for clearing one interval or a range.
// Unset booleans fall back to the market defaults.
type ClearRequest struct {
	Variant                string   `json:"variant"`
	TierOrder              string   `json:"tier_order,omitempty"`
	MaxIterations          int      `json:"max_iterations,omitempty"`
	FallbackTierOrder      string   `json:"fallback_tier_order,omitempty"`
	ApplyPremium           *bool    `json:"apply_premium,omitempty"`
	FairnessShuffle        *bool    `json:"fairness_shuffle,omitempty"`
	PricingSchemes         []string `json:"pricing_schemes,omitempty"`
	ExtendedQualityLogging bool     `json:"extended_quality_logging,omitempty"`
}

// Job is a validated clearing request. Options never carry a random
// source; the runner attaches one per interval.
type Job struct {
	Variant       string
	TierOrder     clearing.TierOrder
	MaxIterations int
	Options       clearing.Options
}

// Key names the persisted result: double_auction, priority_<order> or
// satisfaction.
func (j Job) Key() string {
	if j.Variant == VariantPriority {
		return VariantPriority + "_" + string(j.TierOrder)
	}
	return j.Variant
}

// NewJob validates a request against the market configuration.
func NewJob(req ClearRequest, market config.Market) (Job, error) {
	job := Job{
		Variant:       req.Variant,
		MaxIterations: req.MaxIterations,
		Options: clearing.Options{
			ApplyPremium:           market.ApplyPremium,
			FairnessShuffle:        market.FairnessShuffle,
			ExtendedQualityLogging: req.ExtendedQualityLogging,
		},
	}
	if job.Variant == "" {
		job.Variant = VariantDoubleAuction
	}
	if req.ApplyPremium != nil {
		job.Options.ApplyPremium = *req.ApplyPremium
	}
	if req.FairnessShuffle != nil {
		job.Options.FairnessShuffle = *req.FairnessShuffle
	}
	for _, s := range req.PricingSchemes {
		scheme, err := model.ParsePricingScheme(s)
		if err != nil {
			return Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		job.Options.Schemes = append(job.Options.Schemes, scheme)
	}
	if job.MaxIterations < 0 {
		return Job{}, fmt.Errorf("%w: max_iterations must not be negative", ErrInvalidRequest)
	}

	switch job.Variant {
	case VariantDoubleAuction:
	case VariantPriority:
		order := req.TierOrder
		if order == "" {
			order = string(clearing.HighToLow)
		}
		o, err := clearing.ParseTierOrder(order)
		if err != nil {
			return Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		job.TierOrder = o
	case VariantSatisfaction:
		if req.FallbackTierOrder != "" {
			o, err := clearing.ParseTierOrder(req.FallbackTierOrder)
			if err != nil {
				return Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			job.Options.PriorityFallback = o
		}
	default:
		return Job{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidRequest, req.Variant)
	}
	return job, nil
}

// run dispatches the job to the engine.
func (j Job) run(e *clearing.Engine, offers, bids []model.Position, opts clearing.Options) model.Outcome {
	switch j.Variant {
	case VariantPriority:
		return e.ClearByPriority(offers, bids, j.TierOrder, opts)
	case VariantSatisfaction:
		return e.ClearBySatisfaction(offers, bids, j.MaxIterations, opts)
	default:
		return e.DoubleAuction(offers, bids, opts)
	}
}
