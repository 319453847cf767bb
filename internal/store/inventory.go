package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DecrementVariantStock atomically decrements one variant's stock and
// recomputes the product's availability flag from all of its variants.
// The update is refused with ErrInsufficientStock if it would go negative.
func (s *Store) DecrementVariantStock(ctx context.Context, productID int64, variantKey string, quantity int) (int, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	// Concurrent decrements of sibling variants queue on the product row, so
	// the availability recompute below reads their committed quantities.
	var locked int64
	err = tx.GetContext(ctx, &locked, "SELECT id FROM products WHERE id = $1 FOR UPDATE", productID)
	if err != nil {
		return 0, false, notFound(err, "product %d", productID)
	}

	var remaining int
	err = tx.GetContext(ctx, &remaining, `
		UPDATE product_variants SET quantity = quantity - $1
		WHERE product_id = $2 AND variant_key = $3 AND quantity >= $1
		RETURNING quantity`,
		quantity, productID, variantKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, s.explainVariantMiss(ctx, productID, variantKey, quantity)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to decrement variant stock: %w", err)
	}

	var inStock bool
	err = tx.GetContext(ctx, &inStock, `
		UPDATE products SET
			in_stock = EXISTS (SELECT 1 FROM product_variants WHERE product_id = $1 AND quantity > 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING in_stock`,
		productID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return remaining, inStock, nil
}

// DecrementProductStock atomically decrements a product's flat stock and
// flips availability off once it reaches zero
func (s *Store) DecrementProductStock(ctx context.Context, productID int64, quantity int) (int, bool, error) {
	var row struct {
		Quantity int  `db:"quantity"`
		InStock  bool `db:"in_stock"`
	}
	err := s.db.GetContext(ctx, &row, `
		UPDATE products SET
			quantity = quantity - $1,
			in_stock = (quantity - $1) > 0,
			updated_at = NOW()
		WHERE id = $2 AND quantity >= $1
		RETURNING quantity, in_stock`,
		quantity, productID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetProductByID(ctx, productID); getErr != nil {
			return 0, false, getErr
		}
		return 0, false, fmt.Errorf("product %d: requested %d: %w", productID, quantity, ErrInsufficientStock)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to decrement product stock: %w", err)
	}
	return row.Quantity, row.InStock, nil
}

func (s *Store) explainVariantMiss(ctx context.Context, productID int64, variantKey string, quantity int) error {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT quantity FROM product_variants WHERE product_id = $1 AND variant_key = $2",
		productID, variantKey)
	if err != nil {
		return notFound(err, "variant %q of product %d", variantKey, productID)
	}
	return fmt.Errorf("variant %q of product %d: available=%d, requested=%d: %w",
		variantKey, productID, available, quantity, ErrInsufficientStock)
}
