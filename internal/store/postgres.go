package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lemx/clearing-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Submitted prices are stored as NUMERIC in currency units; the engine's
// fixed-point value is recovered with the market price exponent.
type PostgresStore struct {
	pool          *pgxpool.Pool
	priceExponent int32
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, priceExponent int32) *PostgresStore {
	return &PostgresStore{pool: pool, priceExponent: priceExponent}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) toNumeric(price int64) string {
	return decimal.New(price, -s.priceExponent).String()
}

func (s *PostgresStore) fromNumeric(v string) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", v, err)
	}
	return d.Shift(s.priceExponent).IntPart(), nil
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if p.Status == "" {
		p.Status = model.StatusOpen
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO positions (id, user_id, side, quantity, price, quality, premium_pct, delivery_time, status)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)
		 RETURNING seq, submitted_at`,
		p.ID, p.UserID, p.Side.String(), p.Quantity, s.toNumeric(p.Price),
		int16(p.Quality), p.PremiumPct, p.DeliveryTime, p.Status,
	).Scan(&p.Seq, &p.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOpenPositions(ctx context.Context, side model.Side, deliveryTime int64) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, side, quantity, price::TEXT, quality, premium_pct,
		        delivery_time, status, submitted_at, seq
		 FROM positions
		 WHERE side = $1 AND delivery_time = $2 AND status = 'open'
		 ORDER BY seq`, side.String(), deliveryTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanPositions(rows)
}

func (s *PostgresStore) GetUserOpenQuantity(ctx context.Context, userID string, side model.Side, deliveryTime int64) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::BIGINT
		 FROM positions
		 WHERE user_id = $1 AND side = $2 AND delivery_time = $3 AND status = 'open'`,
		userID, side.String(), deliveryTime).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("user open quantity %s: %w", userID, err)
	}
	return total, nil
}

// WriteResult replaces the run and its match rows in one transaction.
func (s *PostgresStore) WriteResult(ctx context.Context, r *model.StoredResult) error {
	outcome, err := json.Marshal(r.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	shares, err := json.Marshal(r.Outcome.Result.QualityShares.Pct)
	if err != nil {
		return fmt.Errorf("encode shares: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM settlement_states WHERE delivery_time = $1 FOR UPDATE`,
			r.DeliveryTime).Scan(&status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case status == model.SettlementSettled:
			return fmt.Errorf("%w: %d", ErrSettled, r.DeliveryTime)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM clearing_results WHERE delivery_time = $1 AND variant = $2`,
			r.DeliveryTime, r.Variant); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO clearing_results (id, delivery_time, variant, status, iterations, cleared_at, outcome)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.DeliveryTime, r.Variant, r.Outcome.Status.String(), r.Outcome.Iterations,
			r.ClearedAt, outcome); err != nil {
			return err
		}

		rows := make([][]any, 0, len(r.Outcome.Result.Matches))
		for _, m := range r.Outcome.Result.Matches {
			prices, err := json.Marshal(m.Prices)
			if err != nil {
				return err
			}
			rows = append(rows, []any{
				r.DeliveryTime, r.Variant,
				m.OfferUser, m.OfferSeq, m.OfferPrice,
				m.BidUser, m.BidSeq, m.BidPrice,
				m.TradedQuantity, prices, shares, r.ClearedAt,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"clearing_matches"},
			[]string{
				"delivery_time", "variant",
				"offer_user", "offer_seq", "offer_price",
				"bid_user", "bid_seq", "bid_price",
				"traded_quantity", "clearing_prices", "quality_shares", "cleared_at",
			},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}

func (s *PostgresStore) GetResult(ctx context.Context, deliveryTime int64, variant string) (*model.StoredResult, error) {
	var r model.StoredResult
	var outcome []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id::TEXT, delivery_time, variant, cleared_at, outcome
		 FROM clearing_results WHERE delivery_time = $1 AND variant = $2`,
		deliveryTime, variant).
		Scan(&r.ID, &r.DeliveryTime, &r.Variant, &r.ClearedAt, &outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: result %d/%s", ErrNotFound, deliveryTime, variant)
	}
	if err != nil {
		return nil, fmt.Errorf("get result %d/%s: %w", deliveryTime, variant, err)
	}
	if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
		return nil, fmt.Errorf("decode outcome %d/%s: %w", deliveryTime, variant, err)
	}
	return &r, nil
}

func (s *PostgresStore) GetSettlementState(ctx context.Context, deliveryTime int64) (*model.SettlementState, error) {
	var st model.SettlementState
	err := s.pool.QueryRow(ctx,
		`SELECT delivery_time, status, variants, updated_at
		 FROM settlement_states WHERE delivery_time = $1`, deliveryTime).
		Scan(&st.DeliveryTime, &st.Status, &st.Variants, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: settlement state %d", ErrNotFound, deliveryTime)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement state %d: %w", deliveryTime, err)
	}
	return &st, nil
}

func (s *PostgresStore) PutSettlementState(ctx context.Context, st *model.SettlementState) error {
	variants := st.Variants
	if variants == nil {
		variants = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_states (delivery_time, status, variants, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (delivery_time) DO UPDATE
		 SET status = EXCLUDED.status, variants = EXCLUDED.variants, updated_at = EXCLUDED.updated_at`,
		st.DeliveryTime, st.Status, variants, st.UpdatedAt)
	return err
}

// scanPositions reads pgx rows into Position slices.
func (s *PostgresStore) scanPositions(rows pgx.Rows) ([]model.Position, error) {
	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var side, priceS string
		var quality int16

		if err := rows.Scan(&p.ID, &p.UserID, &side, &p.Quantity, &priceS, &quality, &p.PremiumPct,
			&p.DeliveryTime, &p.Status, &p.SubmittedAt, &p.Seq); err != nil {
			return nil, err
		}

		var err error
		if p.Side, err = model.ParseSide(side); err != nil {
			return nil, err
		}
		if p.Price, err = s.fromNumeric(priceS); err != nil {
			return nil, err
		}
		p.Quality = model.Quality(quality)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
