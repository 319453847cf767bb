package service

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/redisclient"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryAdjuster decrements stock for purchased products. The database
// counter is authoritative; the Redis mirror follows it on a best effort basis.
type InventoryAdjuster struct {
	stock  StockStore
	mirror StockMirror
	logger *zap.Logger
}

// NewInventoryAdjuster creates a new inventory adjuster; mirror may be nil
func NewInventoryAdjuster(stock StockStore, mirror StockMirror) *InventoryAdjuster {
	return &InventoryAdjuster{
		stock:  stock,
		mirror: mirror,
		logger: util.Component("inventory"),
	}
}

// Decrement takes quantity units from a product, or from one of its variants
// when variantKey is set, and refreshes the product's availability flag
func (a *InventoryAdjuster) Decrement(ctx context.Context, productID int64, variantKey *string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.Decrement", attribute.Int64("product_id", productID))
	defer span.End()

	if quantity <= 0 {
		return fmt.Errorf("invalid decrement quantity %d for product %d", quantity, productID)
	}

	var (
		remaining int
		inStock   bool
		err       error
		field     = redisclient.FlatStockField
		kind      = "flat"
	)
	if variantKey != nil && *variantKey != "" {
		field, kind = *variantKey, "variant"
		remaining, inStock, err = a.stock.DecrementVariantStock(ctx, productID, *variantKey, quantity)
	} else {
		remaining, inStock, err = a.stock.DecrementProductStock(ctx, productID, quantity)
	}

	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, store.ErrInsufficientStock) {
			util.InventoryInvariantViolations.Inc()
			a.logger.Error("Stock decrement refused, counter would go negative",
				zap.Int64("product_id", productID),
				zap.String("field", field),
				zap.Int("quantity", quantity),
				zap.Error(err))
		}
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	util.InventoryDecrementsTotal.WithLabelValues(kind).Inc()
	a.logger.Info("Stock decremented",
		zap.Int64("product_id", productID),
		zap.String("field", field),
		zap.Int("quantity", quantity),
		zap.Int("remaining", remaining),
		zap.Bool("in_stock", inStock))

	if !inStock {
		a.logger.Info("Product is out of stock", zap.Int64("product_id", productID))
	}

	a.mirrorDecrement(ctx, productID, field, quantity)
	return nil
}

func (a *InventoryAdjuster) mirrorDecrement(ctx context.Context, productID int64, field string, quantity int) {
	if a.mirror == nil {
		return
	}

	if _, _, err := a.mirror.DecrementStock(ctx, productID, field, quantity); err != nil {
		if errors.Is(err, redisclient.ErrStockNotTracked) {
			a.logger.Debug("Stock not mirrored", zap.Int64("product_id", productID))
			return
		}
		util.InventoryMirrorErrors.Inc()
		a.logger.Warn("Failed to mirror stock decrement",
			zap.Int64("product_id", productID),
			zap.String("field", field),
			zap.Error(err))
	}
}

// SyncStockMirror copies every product's database stock into Redis
func (a *InventoryAdjuster) SyncStockMirror(ctx context.Context) error {
	if a.mirror == nil {
		return nil
	}

	a.logger.Info("Starting stock sync to Redis")

	products, err := a.stock.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for _, product := range products {
		variants, err := a.stock.GetProductVariants(ctx, product.ID)
		if err != nil {
			a.logger.Error("Failed to get variants",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}

		fields := map[string]int{redisclient.FlatStockField: product.Quantity}
		if len(variants) > 0 {
			fields = make(map[string]int, len(variants))
			for _, v := range variants {
				fields[v.VariantKey] = v.Quantity
			}
		}

		if err := a.mirror.InitStock(ctx, product.ID, fields); err != nil {
			a.logger.Error("Failed to init Redis stock",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	a.logger.Info("Stock sync completed", zap.Int("count", len(products)))
	return nil
}
