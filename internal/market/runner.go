package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lemx/clearing-engine/internal/clearing"
	"github.com/lemx/clearing-engine/internal/interval"
	"github.com/lemx/clearing-engine/internal/metrics"
	"github.com/lemx/clearing-engine/internal/model"
	"github.com/lemx/clearing-engine/internal/store"
)

// Runner reads position sets from the store, clears them and writes the
// results back. Intervals are independent, so ClearRange fans out over a
// bounded worker pool.
type Runner struct {
	store   store.Store
	engine  *clearing.Engine
	hub     *WSHub // optional
	workers int
	seed    int64
	now     func() time.Time

	// locks holds one *sync.Mutex per delivery time. Clearing and settling
	// an interval both run under it.
	locks sync.Map
}

// NewRunner creates a runner. seed is mixed with each delivery time to
// seed that interval's fairness shuffle.
func NewRunner(st store.Store, engine *clearing.Engine, hub *WSHub, workers int, seed int64) *Runner {
	return &Runner{
		store:   st,
		engine:  engine,
		hub:     hub,
		workers: max(1, workers),
		seed:    seed,
		now:     time.Now,
	}
}

// Summary is the short report of one interval clearing.
type Summary struct {
	DeliveryTime int64               `json:"delivery_time"`
	Variant      string              `json:"variant"`
	ResultID     string              `json:"result_id"`
	Status       model.OutcomeStatus `json:"status"`
	Iterations   int                 `json:"iterations"`
	TradedVolume int64               `json:"traded_volume"`
	Matches      int                 `json:"matches"`
}

// lock acquires the interval's mutex and returns its unlock.
func (r *Runner) lock(deliveryTime int64) func() {
	v, _ := r.locks.LoadOrStore(deliveryTime, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ClearInterval clears one delivery interval and persists the result. The
// interval stays locked from the settled check until its state is marked
// cleared, so a concurrent MarkSettled waits for the write to finish.
func (r *Runner) ClearInterval(ctx context.Context, deliveryTime int64, job Job) (*model.StoredResult, error) {
	unlock := r.lock(deliveryTime)
	defer unlock()

	st, err := r.settlement(ctx, deliveryTime)
	if err != nil {
		return nil, err
	}
	if st.Status == model.SettlementSettled {
		return nil, fmt.Errorf("%w: %d", ErrSettled, deliveryTime)
	}

	offers, err := r.store.GetOpenPositions(ctx, model.Offer, deliveryTime)
	if err != nil {
		return nil, fmt.Errorf("load offers %d: %w", deliveryTime, err)
	}
	bids, err := r.store.GetOpenPositions(ctx, model.Bid, deliveryTime)
	if err != nil {
		return nil, fmt.Errorf("load bids %d: %w", deliveryTime, err)
	}

	opts := job.Options
	if opts.FairnessShuffle {
		opts.Rand = rand.New(rand.NewSource(r.seed ^ deliveryTime))
	}
	if opts.ExtendedQualityLogging {
		opts.Logger = slog.Default().With("delivery_time", deliveryTime)
	}

	key := job.Key()
	start := time.Now()
	outcome := job.run(r.engine, offers, bids, opts)
	elapsed := time.Since(start)

	volume := outcome.Result.TradedVolume()
	metrics.ObserveClearing(key, outcome.Status.String(), volume, elapsed)
	if job.Variant == VariantSatisfaction {
		metrics.SatisfactionIterations.Observe(float64(outcome.Iterations))
	}

	res := &model.StoredResult{
		ID:           uuid.New().String(),
		DeliveryTime: deliveryTime,
		Variant:      key,
		ClearedAt:    r.now().UTC(),
		Outcome:      outcome,
	}
	if err := r.store.WriteResult(ctx, res); err != nil {
		if errors.Is(err, store.ErrSettled) {
			return nil, fmt.Errorf("%w: %d", ErrSettled, deliveryTime)
		}
		return nil, fmt.Errorf("write result %d/%s: %w", deliveryTime, key, err)
	}
	if err := r.markCleared(ctx, deliveryTime, key); err != nil {
		return nil, err
	}

	slog.Info("interval cleared",
		"delivery_time", deliveryTime,
		"interval", interval.Format(deliveryTime),
		"variant", key,
		"status", outcome.Status.String(),
		"iterations", outcome.Iterations,
		"offers", len(offers),
		"bids", len(bids),
		"traded_volume", volume,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if r.hub != nil {
		msg := WSMessage{
			Type:         "interval_cleared",
			DeliveryTime: deliveryTime,
			Variant:      key,
			Status:       outcome.Status.String(),
			TradedVolume: volume,
		}
		if p, ok := clearing.UniformPrice(outcome.Result.Matches); ok && job.Variant == VariantDoubleAuction {
			msg.UniformPrice = &p
		}
		r.hub.Broadcast(msg)
	}
	return res, nil
}

// ClearRange clears every interval concurrently. The first error cancels
// the intervals not yet started; summaries are returned in input order.
func (r *Runner) ClearRange(ctx context.Context, deliveryTimes []int64, job Job) ([]Summary, error) {
	summaries := make([]Summary, len(deliveryTimes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, ts := range deliveryTimes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.ClearInterval(ctx, ts, job)
			if err != nil {
				return err
			}
			summaries[i] = summarize(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("range clearing failed", "variant", job.Key(), "intervals", len(deliveryTimes), "err", err)
		return nil, err
	}
	return summaries, nil
}

// Settlement returns the state of an interval; never-cleared intervals are
// pending.
func (r *Runner) Settlement(ctx context.Context, deliveryTime int64) (*model.SettlementState, error) {
	return r.settlement(ctx, deliveryTime)
}

// MarkSettled moves a cleared interval to settled. Settling is idempotent.
func (r *Runner) MarkSettled(ctx context.Context, deliveryTime int64) (*model.SettlementState, error) {
	unlock := r.lock(deliveryTime)
	defer unlock()

	st, err := r.settlement(ctx, deliveryTime)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case model.SettlementSettled:
		return st, nil
	case model.SettlementPending:
		return nil, fmt.Errorf("%w: %d", ErrNotCleared, deliveryTime)
	}
	st.Status = model.SettlementSettled
	st.UpdatedAt = r.now().UTC()
	if err := r.store.PutSettlementState(ctx, st); err != nil {
		return nil, fmt.Errorf("put settlement state %d: %w", deliveryTime, err)
	}
	slog.Info("interval settled", "delivery_time", deliveryTime, "variants", st.Variants)
	return st, nil
}

// markCleared must be called with the interval locked.
func (r *Runner) markCleared(ctx context.Context, deliveryTime int64, variant string) error {
	st, err := r.settlement(ctx, deliveryTime)
	if err != nil {
		return err
	}
	if st.Status == model.SettlementSettled {
		return fmt.Errorf("%w: %d", ErrSettled, deliveryTime)
	}
	st.Status = model.SettlementCleared
	if !slices.Contains(st.Variants, variant) {
		st.Variants = append(st.Variants, variant)
		slices.Sort(st.Variants)
	}
	st.UpdatedAt = r.now().UTC()
	if err := r.store.PutSettlementState(ctx, st); err != nil {
		return fmt.Errorf("put settlement state %d: %w", deliveryTime, err)
	}
	return nil
}

func (r *Runner) settlement(ctx context.Context, deliveryTime int64) (*model.SettlementState, error) {
	st, err := r.store.GetSettlementState(ctx, deliveryTime)
	if errors.Is(err, store.ErrNotFound) {
		return &model.SettlementState{
			DeliveryTime: deliveryTime,
			Status:       model.SettlementPending,
			Variants:     []string{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement state %d: %w", deliveryTime, err)
	}
	return st, nil
}

func summarize(res *model.StoredResult) Summary {
	return Summary{
		DeliveryTime: res.DeliveryTime,
		Variant:      res.Variant,
		ResultID:     res.ID,
		Status:       res.Outcome.Status,
		Iterations:   res.Outcome.Iterations,
		TradedVolume: res.Outcome.Result.TradedVolume(),
		Matches:      len(res.Outcome.Result.Matches),
	}
}
