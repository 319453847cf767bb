package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"booking-service/internal/models"
)

// markPaid flips a pending entity row to paid and loads it into dest. The
// boolean reports whether this call performed the transition; false means the
// row already left pending and no side effect should be repeated.
func (s *Store) markPaid(ctx context.Context, table string, id int64, dest interface{}) (bool, error) {
	err := s.db.GetContext(ctx, dest, fmt.Sprintf(`
		UPDATE %s SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`, table),
		models.EntityStatusPaid, id, models.EntityStatusPending)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to update %s: %w", table, err)
	}

	err = s.db.GetContext(ctx, dest, fmt.Sprintf("SELECT * FROM %s WHERE id = $1", table), id)
	if err != nil {
		return false, notFound(err, "%s %d", table, id)
	}
	return false, nil
}

// MarkCourseBookingPaid transitions a course booking to paid
func (s *Store) MarkCourseBookingPaid(ctx context.Context, id int64) (*models.CourseBooking, bool, error) {
	var booking models.CourseBooking
	changed, err := s.markPaid(ctx, "course_bookings", id, &booking)
	if err != nil {
		return nil, false, err
	}
	return &booking, changed, nil
}

// MarkProductOrderPaid transitions a product order to paid
func (s *Store) MarkProductOrderPaid(ctx context.Context, id int64) (*models.ProductOrder, bool, error) {
	var order models.ProductOrder
	changed, err := s.markPaid(ctx, "product_orders", id, &order)
	if err != nil {
		return nil, false, err
	}
	return &order, changed, nil
}

// MarkTripBookingPaid transitions a trip booking to paid
func (s *Store) MarkTripBookingPaid(ctx context.Context, id int64) (*models.TripBooking, bool, error) {
	var booking models.TripBooking
	changed, err := s.markPaid(ctx, "trip_bookings", id, &booking)
	if err != nil {
		return nil, false, err
	}
	return &booking, changed, nil
}
