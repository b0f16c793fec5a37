package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotCancellable = errors.New("order cannot be cancelled in its current status")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// StockReserver is the slice of the inventory ledger the order
// transaction needs: reserve on creation, release on cancellation, both
// inside the order's own transaction.
type StockReserver interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int, orderID uuid.UUID) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int, orderID uuid.UUID) error
}

type ListFilter struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	Limit         int
	Offset        int
}

type Repository interface {
	Create(ctx context.Context, o *Order, cartID *uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, int, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to Status, actor *uuid.UUID, notes *string) error
	UpdatePayment(ctx context.Context, orderID uuid.UUID, ps PaymentStatus, transactionID *string) error
	SetTracking(ctx context.Context, orderID uuid.UUID, trackingNumber, carrier string, estimatedDelivery *time.Time) error
	Cancel(ctx context.Context, orderID uuid.UUID, cancelledBy *uuid.UUID, reason *string) error
	History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error)
}

type postgresRepository struct {
	db       *pgxpool.Pool
	reserver StockReserver
}

func NewRepository(db *pgxpool.Pool, reserver StockReserver) Repository {
	return &postgresRepository{db: db, reserver: reserver}
}

// isRetryableTxError reports transient transaction aborts worth one
// transparent retry: serialization failures and deadlocks between
// concurrent checkouts locking the same product rows.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// IsOrderNumberCollision reports a unique violation on the order number,
// which the service resolves by generating a new number.
func IsOrderNumberCollision(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_order_number_key"
}

// Create inserts the order, its item snapshots, the stock reservations
// and the initial history row as one atomic unit, and marks the source
// cart converted when one is given. Either everything commits or nothing
// does.
func (r *postgresRepository) Create(ctx context.Context, o *Order, cartID *uuid.UUID) error {
	err := r.createOnce(ctx, o, cartID)
	if err != nil && isRetryableTxError(err) {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("repository: retrying order creation after transient conflict")
		err = r.createOnce(ctx, o, cartID)
	}
	return err
}

func (r *postgresRepository) createOnce(ctx context.Context, o *Order, cartID *uuid.UUID) (err error) {
	if o.ID == uuid.Nil {
		id, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		o.ID = id
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("repository: failed to rollback order creation")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit order creation: %w", commitErr)
			}
		}
	}()

	queryOrder := `
		INSERT INTO orders (
			id, order_number, user_id, status, payment_status, payment_method,
			total_amount, shipping_cost, tax_amount, discount_amount, shipping_address,
			guest_name, guest_email, guest_phone, guest_token, notes, promo_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, queryOrder,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.TotalAmount, o.ShippingCost, o.TaxAmount, o.DiscountAmount, o.ShippingAddress,
		o.GuestName, o.GuestEmail, o.GuestPhone, o.GuestToken, o.Notes, o.PromoCode,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, variation_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = o.ID

		_, err = tx.Exec(ctx, queryItem, item.ID, item.OrderID, item.ProductID, item.VariationID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}

		// Authoritative stock check happens here, under the product row
		// lock, in the same transaction as the order rows.
		if err = r.reserver.ReserveTx(ctx, tx, item.ProductID, item.Quantity, o.ID); err != nil {
			return err
		}
	}

	if err = recordStatusChange(ctx, tx, o.ID, nil, o.Status, o.UserID, nil); err != nil {
		return err
	}

	if cartID != nil {
		_, err = tx.Exec(ctx, `UPDATE carts SET status = 'converted', updated_at = now() WHERE id = $1`, *cartID)
		if err != nil {
			return fmt.Errorf("repository: failed to convert cart %s: %w", *cartID, err)
		}
	}

	return nil
}

const orderColumns = `
	id, order_number, user_id, status, payment_status, payment_method, transaction_id,
	total_amount, shipping_cost, tax_amount, discount_amount, shipping_address,
	tracking_number, carrier, estimated_delivery,
	guest_name, guest_email, guest_phone, guest_token,
	notes, admin_notes, promo_code,
	cancelled_at, cancelled_by, cancellation_reason,
	shipped_at, delivered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TransactionID,
		&o.TotalAmount, &o.ShippingCost, &o.TaxAmount, &o.DiscountAmount, &o.ShippingAddress,
		&o.TrackingNumber, &o.Carrier, &o.EstimatedDelivery,
		&o.GuestName, &o.GuestEmail, &o.GuestPhone, &o.GuestToken,
		&o.Notes, &o.AdminNotes, &o.PromoCode,
		&o.CancelledAt, &o.CancelledBy, &o.CancellationReason,
		&o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", id, err)
	}

	o.Items, err = r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", number, err)
	}

	o.Items, err = r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, variation_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariationID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for order %s: %w", orderID, err)
	}
	return items, nil
}

// ListByUser returns the user's orders newest first, without item
// snapshots (list views are summaries).
func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, int, error) {
	f = f.normalized()

	where := `WHERE user_id = $1`
	args := []any{userID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	return r.list(ctx, where, args, f)
}

func (r *postgresRepository) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	f = f.normalized()

	where := `WHERE TRUE`
	args := []any{}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.PaymentStatus != nil {
		args = append(args, *f.PaymentStatus)
		where += fmt.Sprintf(" AND payment_status = $%d", len(args))
	}

	return r.list(ctx, where, args, f)
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (r *postgresRepository) list(ctx context.Context, where string, args []any, f ListFilter) ([]Order, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	return orders, total, nil
}

// UpdateStatus applies a validated transition with compare-and-set
// semantics: if the row no longer holds the expected current status the
// update is rejected, so concurrent transitions cannot clobber each
// other. Entering SHIPPED or DELIVERED stamps the matching timestamp.
func (r *postgresRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to Status, actor *uuid.UUID, notes *string) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback status update")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit status update: %w", commitErr)
			}
		}
	}()

	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    admin_notes = COALESCE($2, admin_notes),
		    shipped_at = CASE WHEN $1 = 'shipped' THEN now() ELSE shipped_at END,
		    delivered_at = CASE WHEN $1 = 'delivered' THEN now() ELSE delivered_at END,
		    updated_at = now()
		WHERE id = $3 AND status = $4
	`, to, notes, orderID, from)
	if err != nil {
		return fmt.Errorf("repository: failed to update status for order %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", orderID, checkErr)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}

	return recordStatusChange(ctx, tx, orderID, &from, to, actor, notes)
}

func (r *postgresRepository) UpdatePayment(ctx context.Context, orderID uuid.UUID, ps PaymentStatus, transactionID *string) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1,
		    transaction_id = COALESCE($2, transaction_id),
		    updated_at = now()
		WHERE id = $3
	`, ps, transactionID, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status for order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) SetTracking(ctx context.Context, orderID uuid.UUID, trackingNumber, carrier string, estimatedDelivery *time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET tracking_number = $1, carrier = $2, estimated_delivery = $3, updated_at = now()
		WHERE id = $4
	`, trackingNumber, carrier, estimatedDelivery, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to set tracking for order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Cancel is the exact inverse of the creation reservations: the same
// product ids and quantities are released, the order moves to CANCELLED
// and the cancellation metadata is stamped, all in one transaction. The
// order row is locked first so a concurrent transition cannot interleave.
func (r *postgresRepository) Cancel(ctx context.Context, orderID uuid.UUID, cancelledBy *uuid.UUID, reason *string) error {
	err := r.cancelOnce(ctx, orderID, cancelledBy, reason)
	if err != nil && isRetryableTxError(err) {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("repository: retrying cancellation after transient conflict")
		err = r.cancelOnce(ctx, orderID, cancelledBy, reason)
	}
	return err
}

func (r *postgresRepository) cancelOnce(ctx context.Context, orderID uuid.UUID, cancelledBy *uuid.UUID, reason *string) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback cancellation")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit cancellation: %w", commitErr)
			}
		}
	}()

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}

	if !CanTransition(current, StatusCancelled) {
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, current)
	}

	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to query items for order %s: %w", orderID, err)
	}
	type line struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err = rows.Scan(&l.productID, &l.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("repository: failed to scan item for order %s: %w", orderID, err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating items for order %s: %w", orderID, err)
	}

	for _, l := range lines {
		if err = r.reserver.ReleaseTx(ctx, tx, l.productID, l.quantity, orderID); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled',
		    cancelled_at = now(),
		    cancelled_by = $1,
		    cancellation_reason = $2,
		    updated_at = now()
		WHERE id = $3
	`, cancelledBy, reason, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to cancel order %s: %w", orderID, err)
	}

	return recordStatusChange(ctx, tx, orderID, &current, StatusCancelled, cancelledBy, reason)
}

func (r *postgresRepository) History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]StatusHistory, 0)
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan history row for order %s: %w", orderID, err)
		}
		history = append(history, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating history for order %s: %w", orderID, err)
	}

	return history, nil
}
