package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/lib/pq"
)

// notFound maps sql.ErrNoRows onto ErrNotFound with a description of the missing row
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

// ListPendingPayments retrieves one page of pending payments that already
// carry a checkout session, starting after afterID in id order
func (s *Store) ListPendingPayments(ctx context.Context, afterID int64, limit int) ([]models.PaymentRecord, error) {
	var payments []models.PaymentRecord
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = $1 AND session_id IS NOT NULL AND id > $2
		ORDER BY id
		LIMIT $3`,
		models.PaymentStatusPending, afterID, limit)
	return payments, err
}

// GetPaymentByID retrieves a payment record by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	var payment models.PaymentRecord
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "payment %d", id)
	}
	return &payment, nil
}

// TransitionPayment moves a payment out of pending. It returns false when the
// payment was no longer pending, which means another pass already resolved it.
func (s *Store) TransitionPayment(ctx context.Context, id int64, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		status, id, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListUnsettledPayments retrieves successful payments, resolved before the
// cutoff, that still have a pending cart line or entity or were never notified
func (s *Store) ListUnsettledPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRecord, error) {
	var payments []models.PaymentRecord
	err := s.db.SelectContext(ctx, &payments, `
		SELECT p.* FROM payments p
		WHERE p.status = $1 AND p.updated_at < $2
		  AND (p.notified_at IS NULL OR EXISTS (
			SELECT 1 FROM carts c
			LEFT JOIN course_bookings cb ON c.item_type = 'course' AND cb.id = c.item_id
			LEFT JOIN product_orders po ON c.item_type = 'product' AND po.id = c.item_id
			LEFT JOIN trip_bookings tb ON c.item_type = 'trip' AND tb.id = c.item_id
			WHERE c.id = ANY(p.cart_ids)
			  AND (c.status = $3 OR cb.status = $4 OR po.status = $4 OR tb.status = $4)
		  ))
		ORDER BY p.id
		LIMIT $5`,
		models.PaymentStatusSuccessful, cutoff, models.CartStatusPending, models.EntityStatusPending, limit)
	return payments, err
}

// MarkPaymentNotified records that the settlement notifications of a payment
// went out. Only the first caller gets true.
func (s *Store) MarkPaymentNotified(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET notified_at = NOW() WHERE id = $1 AND notified_at IS NULL", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetCartLine retrieves a cart line by ID
func (s *Store) GetCartLine(ctx context.Context, id int64) (*models.CartLine, error) {
	var line models.CartLine
	err := s.db.GetContext(ctx, &line, "SELECT * FROM carts WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "cart line %d", id)
	}
	return &line, nil
}

// CompleteCartLine marks a cart line complete; repeating it is a harmless rewrite
func (s *Store) CompleteCartLine(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE carts SET status = $1 WHERE id = $2",
		models.CartStatusComplete, id)
	return err
}

// ListCartLines returns the cart lines with the given ids, ordered by id
func (s *Store) ListCartLines(ctx context.Context, ids []int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	if len(ids) == 0 {
		return lines, nil
	}
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM carts WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	return lines, err
}
