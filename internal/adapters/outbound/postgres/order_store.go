package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that OrderStore implements outbound.OrderStore
var _ outbound.OrderStore = (*OrderStore)(nil)

const uniqueViolation = "23505"

// Decimals travel as text so no precision is lost in either direction.
const orderColumns = `id, owner, chain_id, side, base_token, quote_token,
	amount::text, limit_price::text, status, created_at, updated_at,
	tx_hash, fill_price::text, attempts, last_error, broadcast_tx_hash`

// OrderStore persists orders in the orders table.
type OrderStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewOrderStore creates a PostgreSQL order store.
func NewOrderStore(pool *pgxpool.Pool, logger *slog.Logger) (*OrderStore, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderStore{
		pool:   pool,
		logger: logger.With("component", "postgres-order-store"),
		now:    time.Now,
	}, nil
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, order *entity.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, owner, chain_id, side, base_token, quote_token,
			amount, limit_price, status, created_at, updated_at,
			tx_hash, fill_price, attempts, last_error, broadcast_tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11,
			$12, $13::numeric, $14, $15, $16)`,
		order.ID, order.Owner, order.ChainID, string(order.Side), order.BaseToken, order.QuoteToken,
		order.Amount.String(), order.LimitPrice.String(), string(order.Status),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		nullString(order.TxHash), decimalText(order.FillPrice), order.Attempts, nullString(order.LastError),
		nullString(order.BroadcastHash),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", entity.ErrOrderExists, order.ID)
		}
		return fmt.Errorf("inserting order %s: %w", order.ID, err)
	}
	return nil
}

// Get loads an order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (*entity.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return order, nil
}

// Update applies patch when the stored status equals expected.
func (s *OrderStore) Update(ctx context.Context, id string, expected entity.OrderStatus, patch outbound.OrderPatch) (*entity.Order, error) {
	var status any
	if patch.Status != "" {
		if err := entity.ValidateTransition(expected, patch.Status); err != nil {
			return nil, err
		}
		status = string(patch.Status)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE orders SET
			status     = COALESCE($3, status),
			tx_hash    = COALESCE($4, tx_hash),
			fill_price = COALESCE($5::numeric, fill_price),
			attempts   = COALESCE($6, attempts),
			last_error = COALESCE($7, last_error),
			updated_at = $8,
			broadcast_tx_hash = CASE WHEN $9::text IS NULL THEN broadcast_tx_hash ELSE NULLIF($9::text, '') END
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns,
		id, string(expected), status, patch.TxHash, decimalText(patch.FillPrice),
		patch.Attempts, patch.LastError, s.now().UTC(), patch.BroadcastHash,
	)
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: order %s is %s, expected %s", entity.ErrStatusConflict, id, current.Status, expected)
}

// ListActive returns non-terminal orders, oldest first.
func (s *OrderStore) ListActive(ctx context.Context, limit int) ([]*entity.Order, error) {
	statuses := make([]string, len(entity.ActiveStatuses))
	for i, st := range entity.ActiveStatuses {
		statuses[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at, id
		LIMIT $2`, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*entity.Order, error) {
	var (
		o                  entity.Order
		side, status       string
		amount, limitPrice string
		txHash, fillPrice  *string
		lastError          *string
		broadcastHash      *string
	)
	err := row.Scan(&o.ID, &o.Owner, &o.ChainID, &side, &o.BaseToken, &o.QuoteToken,
		&amount, &limitPrice, &status, &o.CreatedAt, &o.UpdatedAt,
		&txHash, &fillPrice, &o.Attempts, &lastError, &broadcastHash)
	if err != nil {
		return nil, err
	}

	if o.Side, err = entity.ParseOrderSide(side); err != nil {
		return nil, err
	}
	if o.Status, err = entity.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing amount: %w", err)
	}
	if o.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return nil, fmt.Errorf("parsing limit price: %w", err)
	}
	if fillPrice != nil {
		fp, err := decimal.NewFromString(*fillPrice)
		if err != nil {
			return nil, fmt.Errorf("parsing fill price: %w", err)
		}
		o.FillPrice = &fp
	}
	if txHash != nil {
		o.TxHash = *txHash
	}
	if lastError != nil {
		o.LastError = *lastError
	}
	if broadcastHash != nil {
		o.BroadcastHash = *broadcastHash
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
