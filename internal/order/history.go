package order

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

// recordStatusChange appends one immutable history row inside the
// caller's transaction. History rows are never updated or deleted, and
// nothing outside this package writes them.
func recordStatusChange(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, from *Status, to Status, changedBy *uuid.UUID, notes *string) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate history ID: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, orderID, from, to, changedBy, notes)
	if err != nil {
		return fmt.Errorf("repository: failed to insert status history for order %s: %w", orderID, err)
	}

	return nil
}
