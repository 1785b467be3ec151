// Package market provides the HTTP handlers and orchestration for submitting
// positions, clearing delivery intervals and reading back results.
//
// Prices cross the API as shopspring/decimal currency amounts and are
// converted to the engine's fixed-point int64 with the market exponent.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lemx/clearing-engine/internal/config"
	"github.com/lemx/clearing-engine/internal/interval"
	"github.com/lemx/clearing-engine/internal/metrics"
	"github.com/lemx/clearing-engine/internal/model"
	"github.com/lemx/clearing-engine/internal/store"
	"github.com/lemx/clearing-engine/internal/validate"
)

const timeFormat = time.RFC3339

var (
	ErrInvalidRequest = errors.New("market: invalid request")
	ErrSettled        = errors.New("market: interval already settled")
	ErrNotCleared     = errors.New("market: interval has not been cleared")
)

// Service handles position submission and clearing requests.
type Service struct {
	store     store.Store
	market    config.Market
	validator *validate.Validator
	runner    *Runner

	// submitMu makes the user limit check and the insert atomic.
	submitMu sync.Mutex
}

// NewService creates a new clearing service.
func NewService(st store.Store, runner *Runner, market config.Market) *Service {
	return &Service{
		store:     st,
		market:    market,
		validator: validate.New(market),
		runner:    runner,
	}
}

// Routes registers the API under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/market", s.GetMarket)
	r.Post("/positions", s.SubmitPosition)
	r.Post("/clear", s.ClearRange)
	r.Route("/intervals/{ts}", func(r chi.Router) {
		r.Get("/positions", s.ListPositions)
		r.Post("/clear", s.ClearInterval)
		r.Get("/results/{variant}", s.GetResult)
		r.Get("/settlement", s.GetSettlement)
		r.Post("/settlement", s.Settle)
	})
}

// --- Request/Response types ---

// SubmitPositionRequest is the JSON body for POST /positions.
type SubmitPositionRequest struct {
	UserID       string          `json:"user_id"`
	Side         string          `json:"side"` // "bid" or "offer"
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Quality      model.Quality   `json:"quality"`
	PremiumPct   int64           `json:"premium_pct"`
	DeliveryTime string          `json:"delivery_time"` // unix seconds or RFC3339
}

// ClearRangeRequest is the JSON body for POST /clear.
type ClearRangeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	ClearRequest
}

// MarketInfo describes the market configuration.
type MarketInfo struct {
	Tiers           []config.Tier         `json:"tiers"`
	PriceExponent   int32                 `json:"price_exponent"`
	IntervalSeconds int64                 `json:"interval_seconds"`
	MaxIterations   int                   `json:"max_iterations"`
	PricingSchemes  []model.PricingScheme `json:"pricing_schemes"`
	ApplyPremium    bool                  `json:"apply_premium"`
	FairnessShuffle bool                  `json:"fairness_shuffle"`
	PriceMin        decimal.Decimal       `json:"price_min"`
	PriceMax        decimal.Decimal       `json:"price_max"`
	MaxUserQuantity int64                 `json:"max_user_quantity"`
}

// --- HTTP Handlers ---

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, _ *http.Request) {
	m := s.market
	writeJSON(w, http.StatusOK, MarketInfo{
		Tiers:           m.Tiers,
		PriceExponent:   m.PriceExponent,
		IntervalSeconds: m.IntervalSeconds,
		MaxIterations:   m.MaxIterations,
		PricingSchemes:  m.Schemes,
		ApplyPremium:    m.ApplyPremium,
		FairnessShuffle: m.FairnessShuffle,
		PriceMin:        fromFixed(m.PriceMin, m.PriceExponent),
		PriceMax:        fromFixed(m.PriceMax, m.PriceExponent),
		MaxUserQuantity: m.MaxUserQuantity,
	})
}

// SubmitPosition handles POST /api/v1/positions
func (s *Service) SubmitPosition(w http.ResponseWriter, r *http.Request) {
	var req SubmitPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.toPosition(req)
	if err == nil {
		err = s.validator.Validate(p)
	}
	ctx := r.Context()
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if err == nil {
		var existing int64
		existing, err = s.store.GetUserOpenQuantity(ctx, p.UserID, p.Side, p.DeliveryTime)
		if err == nil {
			err = s.validator.CheckLimit(p, existing)
		}
	}
	if err != nil {
		if status := statusFor(err); status < http.StatusInternalServerError {
			metrics.PositionRejections.WithLabelValues(validate.Reason(err)).Inc()
		}
		writeErr(w, err)
		return
	}

	if err := s.store.InsertPosition(ctx, &p); err != nil {
		slog.Error("insert position failed", "user", p.UserID, "err", err)
		writeError(w, "failed to store position", http.StatusInternalServerError)
		return
	}
	metrics.PositionsSubmitted.WithLabelValues(p.Side.String()).Inc()

	slog.Info("position submitted",
		"id", p.ID,
		"user", p.UserID,
		"side", p.Side.String(),
		"qty", p.Quantity,
		"price", req.Price.String(),
		"quality", int(p.Quality),
		"delivery_time", p.DeliveryTime,
		"seq", p.Seq,
	)

	writeJSON(w, http.StatusCreated, positionView(p, s.market.PriceExponent))
}

// ListPositions handles GET /api/v1/intervals/{ts}/positions?side=
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deliveryTime(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	sides := []model.Side{model.Offer, model.Bid}
	if raw := r.URL.Query().Get("side"); raw != "" {
		side, err := model.ParseSide(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sides = []model.Side{side}
	}

	views := []PositionView{}
	for _, side := range sides {
		ps, err := s.store.GetOpenPositions(r.Context(), side, ts)
		if err != nil {
			writeError(w, "failed to load positions", http.StatusInternalServerError)
			return
		}
		views = append(views, positionViews(ps, s.market.PriceExponent)...)
	}
	writeJSON(w, http.StatusOK, views)
}

// ClearInterval handles POST /api/v1/intervals/{ts}/clear
func (s *Service) ClearInterval(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deliveryTime(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.decodeJob(r, nil)
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := s.runner.ClearInterval(r.Context(), ts, job)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultView(res, s.market.PriceExponent, s.market.IntervalSeconds))
}

// ClearRange handles POST /api/v1/clear
// Clears every interval in [from, to) concurrently.
func (s *Service) ClearRange(w http.ResponseWriter, r *http.Request) {
	var req ClearRangeRequest
	job, err := s.decodeJob(r, &req)
	if err != nil {
		writeErr(w, err)
		return
	}

	from, err := interval.Parse(req.From)
	if err != nil {
		writeErr(w, err)
		return
	}
	to, err := interval.Parse(req.To)
	if err != nil {
		writeErr(w, err)
		return
	}
	tss, err := interval.Range(from, to, s.market.IntervalSeconds)
	if err != nil {
		writeErr(w, err)
		return
	}

	summaries, err := s.runner.ClearRange(r.Context(), tss, job)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetResult handles GET /api/v1/intervals/{ts}/results/{variant}
// A ".csv" suffix on the variant selects the CSV export.
func (s *Service) GetResult(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deliveryTime(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	variant, asCSV := strings.CutSuffix(chi.URLParam(r, "variant"), ".csv")

	res, err := s.store.GetResult(r.Context(), ts, variant)
	if err != nil {
		writeErr(w, err)
		return
	}

	if asCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+csvName(res)+`"`)
		if err := writeCSV(w, res, s.market.Schemes); err != nil {
			slog.Error("csv export failed", "delivery_time", ts, "variant", variant, "err", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resultView(res, s.market.PriceExponent, s.market.IntervalSeconds))
}

// GetSettlement handles GET /api/v1/intervals/{ts}/settlement
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deliveryTime(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.runner.Settlement(r.Context(), ts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Settle handles POST /api/v1/intervals/{ts}/settlement
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deliveryTime(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.runner.MarkSettled(r.Context(), ts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- helpers ---

func (s *Service) toPosition(req SubmitPositionRequest) (model.Position, error) {
	side, err := model.ParseSide(req.Side)
	if err != nil {
		return model.Position{}, validate.ErrInvalidSide
	}
	ts, err := interval.Parse(req.DeliveryTime)
	if err != nil {
		return model.Position{}, fmt.Errorf("%w: %v", validate.ErrDeliveryTime, err)
	}
	price, err := toFixed(req.Price, s.market.PriceExponent)
	if err != nil {
		return model.Position{}, err
	}
	return model.Position{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Side:         side,
		Quantity:     req.Quantity,
		Price:        price,
		Quality:      req.Quality,
		PremiumPct:   req.PremiumPct,
		DeliveryTime: ts,
		Status:       model.StatusOpen,
	}, nil
}

func (s *Service) deliveryTime(r *http.Request) (int64, error) {
	return interval.ParseAligned(chi.URLParam(r, "ts"), s.market.IntervalSeconds)
}

// decodeJob reads a clear request body into dst (a ClearRangeRequest) or a
// plain ClearRequest when dst is nil. An empty body selects the defaults.
func (s *Service) decodeJob(r *http.Request, dst *ClearRangeRequest) (Job, error) {
	if dst == nil {
		dst = &ClearRangeRequest{}
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return Job{}, fmt.Errorf("%w: invalid request body", ErrInvalidRequest)
	}
	return NewJob(dst.ClearRequest, s.market)
}

// statusFor maps service, validation and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSettled),
		errors.Is(err, ErrNotCleared),
		errors.Is(err, validate.ErrUserLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, interval.ErrInvalidDeliveryTime),
		errors.Is(err, interval.ErrMisaligned),
		errors.Is(err, interval.ErrEmptyRange),
		validate.Reason(err) != "other":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeErr writes err with its mapped status. Internal errors are logged and
// their details withheld.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
