package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/settlement"
)

const orderColumns = `id, user_id, total, discount, COALESCE(coupon_code, ''), status, is_paid,
	COALESCE(payment_reference, ''), COALESCE(failure_reason, ''), attempts, created_at, paid_at`

const (
	// Serializes order creation per user for the rest of the transaction.
	lockUserSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	countUserOrdersSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	insertOrderSQL = `INSERT INTO orders (id, user_id, total, discount, coupon_code, status, created_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
	VALUES ($1, $2, $3, $4, $5)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listUserOrdersSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1
	ORDER BY created_at DESC, id`

	listAllOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id`

	// Compare-and-swap on is_paid: a paid order never changes again.
	transitionOrderSQL = `UPDATE orders SET
		status = $2,
		is_paid = $3,
		paid_at = $4,
		payment_reference = NULLIF($5, ''),
		failure_reason = NULLIF($6, ''),
		attempts = attempts + 1
	WHERE id = $1 AND is_paid = FALSE
	RETURNING ` + orderColumns

	listOrderItemsSQL = `SELECT oi.order_id, oi.product_id, oi.quantity, oi.unit_price, p.name, p.image
	FROM order_items oi
	LEFT JOIN products p ON p.id = oi.product_id
	WHERE oi.order_id = ANY($1)
	ORDER BY oi.order_id, oi.line_no`
)

var (
	_ order.Store      = (*OrderRepository)(nil)
	_ order.Reader     = (*OrderRepository)(nil)
	_ settlement.Store = (*OrderRepository)(nil)
)

// OrderRepository persists orders and their line items.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreateForUser implements order.Store. The user's advisory lock is held
// from the prior-order count until commit.
func (r *OrderRepository) CreateForUser(ctx context.Context, userID string, build func(priorOrders int) (*order.Order, error)) error {
	return inTx(ctx, r.pool, "create order", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserSQL, userID); err != nil {
			return storageError("lock user", err)
		}

		var prior int
		if err := tx.QueryRow(ctx, countUserOrdersSQL, userID).Scan(&prior); err != nil {
			return storageError("count orders", err)
		}

		o, err := build(prior)
		if err != nil {
			return &callbackError{err: err}
		}
		if len(o.Items) == 0 {
			return &callbackError{err: order.ErrEmptyLines}
		}

		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.Total, o.Discount, o.CouponCode, string(o.Status), o.CreatedAt,
		); err != nil {
			return storageError("insert order", err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertOrderItemSQL, o.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storageError("insert order items", err)
		}
		return nil
	})
}

// WithLockedOrder implements settlement.Store using SELECT ... FOR UPDATE.
func (r *OrderRepository) WithLockedOrder(ctx context.Context, orderID, userID string,
	fn func(ctx context.Context, o *order.Order) (*order.Transition, error),
) (*order.Order, error) {
	var result *order.Order
	err := inTx(ctx, r.pool, "settle order", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockOrderSQL, orderID, userID)
		if err != nil {
			return storageError("lock order", err)
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &callbackError{err: order.ErrNotFound}
			}
			return storageError("lock order", err)
		}

		t, err := fn(ctx, &o)
		if err != nil {
			return &callbackError{err: err}
		}
		if t == nil {
			result = &o
		} else {
			rows, err := tx.Query(ctx, transitionOrderSQL,
				o.ID, string(t.Status), t.Status == order.StatusPaidSuccess, t.PaidAt, t.Reference, t.FailureReason,
			)
			if err != nil {
				return storageError("update order", err)
			}
			updated, err := pgx.CollectExactlyOneRow(rows, scanOrder)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return &callbackError{err: order.ErrAlreadyPaid}
				}
				return storageError("update order", err)
			}
			result = &updated
		}

		one := []order.Order{*result}
		if err := attachItems(ctx, tx, one); err != nil {
			return err
		}
		result = &one[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID implements order.Reader.
func (r *OrderRepository) GetByID(ctx context.Context, id, userID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id, userID)
	if err != nil {
		return nil, storageError("get order", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, storageError("get order", err)
	}
	one := []order.Order{o}
	if err := attachItems(ctx, r.pool, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// ListByUser implements order.Reader.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return r.list(ctx, "list user orders", listUserOrdersSQL, userID)
}

// ListAll implements order.Reader.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, "list orders", listAllOrdersSQL)
}

func (r *OrderRepository) list(ctx context.Context, op, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, storageError(op, err)
	}
	if err := attachItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads line items for orders with one query.
func attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return storageError("list order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID     string
			it          order.LineItem
			name, image *string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &name, &image); err != nil {
			return storageError("scan order item", err)
		}
		if name != nil {
			info := &order.ProductInfo{Name: *name}
			if image != nil {
				info.Image = *image
			}
			it.Product = info
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	if err := rows.Err(); err != nil {
		return storageError("list order items", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Total, &o.Discount, &o.CouponCode, &status, &o.Paid,
		&o.PaymentReference, &o.FailureReason, &o.Attempts, &o.CreatedAt, &o.PaidAt,
	)
	o.Status = order.Status(status)
	return o, err
}

// storageError wraps err, naming the violated constraint when there is one.
func storageError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		err = fmt.Errorf("constraint %s: %w", pgErr.ConstraintName, err)
	}
	return &order.StorageError{Op: op, Err: err}
}
