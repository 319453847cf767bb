package store

import (
	"context"
	"fmt"

	"booking-service/internal/models"
)

// GetClassTitle retrieves the title of a class
func (s *Store) GetClassTitle(ctx context.Context, id int64) (string, error) {
	return s.title(ctx, "classes", id)
}

// GetProductTitle retrieves the title of a product
func (s *Store) GetProductTitle(ctx context.Context, id int64) (string, error) {
	return s.title(ctx, "products", id)
}

// GetTripTitle retrieves the title of a trip
func (s *Store) GetTripTitle(ctx context.Context, id int64) (string, error) {
	return s.title(ctx, "trips", id)
}

func (s *Store) title(ctx context.Context, table string, id int64) (string, error) {
	var title string
	err := s.db.GetContext(ctx, &title, fmt.Sprintf("SELECT title FROM %s WHERE id = $1", table), id)
	if err != nil {
		return "", notFound(err, "%s %d", table, id)
	}
	return title, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetProductVariants retrieves all variants of a product
func (s *Store) GetProductVariants(ctx context.Context, productID int64) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := s.db.SelectContext(ctx, &variants,
		"SELECT * FROM product_variants WHERE product_id = $1 ORDER BY variant_key", productID)
	return variants, err
}

// ListProducts retrieves all products
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}
