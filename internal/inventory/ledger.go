package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ledger is the only writer of products.stock. Every mutation appends a
// ledger entry and updates the stock value in the same transaction, so
// the two can never disagree.
type Ledger struct {
	db *pgxpool.Pool
}

func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// ReserveTx decrements product stock inside the caller's transaction.
// The product row is locked for the remainder of the transaction, so a
// concurrent reservation on the same product waits and then re-reads the
// decremented value.
func (l *Ledger) ReserveTx(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int, orderID uuid.UUID) error {
	if qty <= 0 {
		return fmt.Errorf("inventory: reserve quantity must be positive, got %d", qty)
	}
	_, err := applyDelta(ctx, tx, productID, -qty, ReasonOrderPlaced, &orderID, nil)
	return err
}

// ReleaseTx restores stock previously reserved for an order. Used only
// as compensation on cancellation.
func (l *Ledger) ReleaseTx(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int, orderID uuid.UUID) error {
	if qty <= 0 {
		return fmt.Errorf("inventory: release quantity must be positive, got %d", qty)
	}
	_, err := applyDelta(ctx, tx, productID, qty, ReasonOrderCancelled, &orderID, nil)
	return err
}

// Adjust is the manual correction path for admins. No order linkage.
func (l *Ledger) Adjust(ctx context.Context, productID uuid.UUID, delta int, reason string, actorID uuid.UUID) (entry *LedgerEntry, err error) {
	if delta == 0 {
		return nil, errors.New("inventory: adjustment delta must be non-zero")
	}
	if reason == "" {
		reason = ReasonManualAdjustment
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("product_id", productID).Msg("inventory: failed to rollback adjustment")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("inventory: failed to commit adjustment: %w", commitErr)
				entry = nil
			}
		}
	}()

	entry, err = applyDelta(ctx, tx, productID, delta, reason, nil, &actorID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("product_id", productID).
		Int("delta", delta).
		Int("resulting_stock", entry.ResultingStock).
		Str("reason", reason).
		Msg("inventory: stock adjusted")

	return entry, nil
}

// History returns a product's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, productID uuid.UUID, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, product_id, change_quantity, resulting_stock, reason, order_id, actor_id, created_at
		FROM inventory_ledger
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.db.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to query ledger for product %s: %w", productID, err)
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0)
	for rows.Next() {
		var e LedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.ProductID,
			&e.ChangeQuantity,
			&e.ResultingStock,
			&e.Reason,
			&e.OrderID,
			&e.ActorID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inventory: failed to scan ledger entry for product %s: %w", productID, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: error iterating ledger for product %s: %w", productID, err)
	}

	return entries, nil
}

// applyDelta is the single critical section of the whole core: lock the
// product row, validate the resulting stock, append the ledger entry and
// write the new stock value. Callers own the transaction.
func applyDelta(ctx context.Context, tx pgx.Tx, productID uuid.UUID, delta int, reason string, orderID, actorID *uuid.UUID) (*LedgerEntry, error) {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("inventory: failed to lock product %s: %w", productID, err)
	}

	resulting := stock + delta
	if resulting < 0 {
		if delta < 0 {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, productID, stock, -delta)
		}
		return nil, fmt.Errorf("inventory: stock for product %s cannot go below zero", productID)
	}

	entryID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to generate ledger entry ID: %w", err)
	}

	entry := &LedgerEntry{
		ID:             entryID,
		ProductID:      productID,
		ChangeQuantity: delta,
		ResultingStock: resulting,
		Reason:         reason,
		OrderID:        orderID,
		ActorID:        actorID,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_ledger (id, product_id, change_quantity, resulting_stock, reason, order_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, entry.ID, entry.ProductID, entry.ChangeQuantity, entry.ResultingStock, entry.Reason, entry.OrderID, entry.ActorID).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to insert ledger entry for product %s: %w", productID, err)
	}

	_, err = tx.Exec(ctx, `UPDATE products SET stock = $1, updated_at = now() WHERE id = $2`, resulting, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to update stock for product %s: %w", productID, err)
	}

	return entry, nil
}
