// Package store defines the persistence interface for the clearing service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/lemx/clearing-engine/internal/model"
)

var (
	// ErrNotFound is returned (wrapped) when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrSettled is returned by WriteResult once the interval is settled.
	ErrSettled = errors.New("store: interval settled")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Positions ---

	// InsertPosition persists an open position and assigns its Seq and
	// SubmittedAt. Seq increases strictly in submission order.
	InsertPosition(ctx context.Context, p *model.Position) error

	// GetOpenPositions returns the open positions for one side and delivery
	// interval, ordered by Seq.
	GetOpenPositions(ctx context.Context, side model.Side, deliveryTime int64) ([]model.Position, error)

	// GetUserOpenQuantity sums a user's open quantity for one side and interval.
	GetUserOpenQuantity(ctx context.Context, userID string, side model.Side, deliveryTime int64) (int64, error)

	// --- Clearing results ---

	// WriteResult stores one clearing run, replacing any earlier run for the
	// same (delivery time, variant) pair. The write is refused with
	// ErrSettled when the interval's settlement state is settled.
	WriteResult(ctx context.Context, r *model.StoredResult) error

	// GetResult retrieves the run for a (delivery time, variant) pair.
	GetResult(ctx context.Context, deliveryTime int64, variant string) (*model.StoredResult, error)

	// --- Settlement ---

	// GetSettlementState returns ErrNotFound for intervals never cleared.
	GetSettlementState(ctx context.Context, deliveryTime int64) (*model.SettlementState, error)

	// PutSettlementState creates or replaces the state of an interval.
	PutSettlementState(ctx context.Context, st *model.SettlementState) error
}
