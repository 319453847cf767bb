package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL; the tests are skipped without it
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate())
	return store
}

func seedVariantProduct(t *testing.T, s *Store, variants map[string]int) int64 {
	t.Helper()
	ctx := context.Background()

	var productID int64
	require.NoError(t, s.db.GetContext(ctx, &productID,
		"INSERT INTO products (title, price, quantity, in_stock) VALUES ('Dive Mask', 4500, 0, TRUE) RETURNING id"))
	for key, qty := range variants {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO product_variants (product_id, variant_key, quantity) VALUES ($1, $2, $3)",
			productID, key, qty)
		require.NoError(t, err)
	}
	return productID
}

func TestTransitionPaymentIsGuarded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	require.NoError(t, s.db.GetContext(ctx, &id,
		"INSERT INTO payments (user_id, cart_ids, session_id, total_price) VALUES (1, '{}', 'cs_test', 150) RETURNING id"))

	ok, err := s.TransitionPayment(ctx, id, models.PaymentStatusSuccessful)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPayment(ctx, id, models.PaymentStatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok, "a resolved payment must never transition again")

	payment, err := s.GetPaymentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccessful, payment.Status)
}

func TestDecrementVariantStockConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	productID := seedVariantProduct(t, s, map[string]int{"Large": 50, "Small": 0})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.DecrementVariantStock(ctx, productID, "Large", 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	variants, err := s.GetProductVariants(ctx, productID)
	require.NoError(t, err)
	for _, v := range variants {
		if v.VariantKey == "Large" {
			assert.Equal(t, 0, v.Quantity)
		}
	}

	product, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.False(t, product.InStock)

	_, _, err = s.DecrementVariantStock(ctx, productID, "Large", 1)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
}

func TestDecrementSiblingVariantsConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		productID := seedVariantProduct(t, s, map[string]int{"Blue": 1, "Red": 1})

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, key := range []string{"Blue", "Red"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				<-start
				_, _, err := s.DecrementVariantStock(ctx, productID, key, 1)
				assert.NoError(t, err)
			}(key)
		}
		close(start)
		wg.Wait()

		product, err := s.GetProductByID(ctx, productID)
		require.NoError(t, err)
		require.False(t, product.InStock, "round %d: both variants are sold out", round)
	}
}

func TestDecrementVariantStockMissingProduct(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.DecrementVariantStock(context.Background(), 987654321, "Large", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkPaidMissingEntity(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.MarkCourseBookingPaid(context.Background(), 987654321)
	assert.True(t, errors.Is(err, ErrNotFound))
}
