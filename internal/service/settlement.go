package service

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrSkipLine marks a cart line that cannot be settled because its cart row
// or entity does not exist; the caller moves on to the next line
var ErrSkipLine = errors.New("cart line skipped")

// LineOutcome is what settling one cart line contributes to the payment's notifications
type LineOutcome struct {
	CartID    int64
	Entity    *SettledEntity
	Item      notify.PurchaseItem
	UserEmail string
}

// SettlementEngine settles the cart lines of a successful payment
type SettlementEngine struct {
	carts     CartStore
	updater   *EntityUpdater
	inventory *InventoryAdjuster
	users     UserDirectory
	events    EventPublisher
	logger    *zap.Logger
}

// NewSettlementEngine creates a new cart settlement engine
func NewSettlementEngine(
	carts CartStore,
	updater *EntityUpdater,
	inventory *InventoryAdjuster,
	users UserDirectory,
	events EventPublisher,
) *SettlementEngine {
	if events == nil {
		events = nopPublisher{}
	}
	return &SettlementEngine{
		carts:     carts,
		updater:   updater,
		inventory: inventory,
		users:     users,
		events:    events,
		logger:    util.Component("settlement"),
	}
}

// SettleLine completes one cart line of payment, flips its entity to paid and,
// for product lines, decrements stock. Errors other than ErrSkipLine abort the
// caller's processing of the payment.
func (e *SettlementEngine) SettleLine(ctx context.Context, payment *models.PaymentRecord, cartID int64) (*LineOutcome, error) {
	ctx, span := util.StartSpan(ctx, "SettlementEngine.SettleLine",
		attribute.Int64("payment_id", payment.ID),
		attribute.Int64("cart_id", cartID))
	defer span.End()

	line, err := e.carts.GetCartLine(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("cart line %d: %w", cartID, ErrSkipLine)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load cart line %d: %w", cartID, err)
	}

	if err := e.carts.CompleteCartLine(ctx, line.ID); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to complete cart line %d: %w", line.ID, err)
	}

	entity, err := e.updater.Settle(ctx, line.ItemType, line.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		util.SettlementFailuresTotal.WithLabelValues("entity_not_found").Inc()
		e.logger.Warn("Entity for cart line not found, skipping line",
			zap.Int64("payment_id", payment.ID),
			zap.Int64("cart_id", line.ID),
			zap.String("item_type", string(line.ItemType)),
			zap.Int64("item_id", line.ItemID))
		return nil, fmt.Errorf("cart line %d: %v: %w", line.ID, err, ErrSkipLine)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to settle %s %d: %w", line.ItemType, line.ItemID, err)
	}

	if entity.ItemType == models.ItemTypeProduct && entity.Transitioned {
		e.decrementStock(ctx, payment, line, entity)
	}

	util.CartLinesSettledTotal.WithLabelValues(string(line.ItemType)).Inc()
	e.logger.Info("Cart line settled",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("cart_id", line.ID),
		zap.String("item_type", string(line.ItemType)),
		zap.Int64("item_id", line.ItemID),
		zap.Bool("transitioned", entity.Transitioned))

	price := entity.Price
	if price == 0 {
		price = line.Price
	}

	return &LineOutcome{
		CartID: line.ID,
		Entity: entity,
		Item: notify.PurchaseItem{
			ItemType: entity.ItemType,
			Title:    entity.Title,
			Quantity: entity.DisplayQuantity,
			Price:    price,
		},
		UserEmail: e.userEmail(ctx, line, payment),
	}, nil
}

// decrementStock runs after the order is already paid, so a failure here is
// reported for operator follow-up instead of aborting the payment
func (e *SettlementEngine) decrementStock(ctx context.Context, payment *models.PaymentRecord, line *models.CartLine, entity *SettledEntity) {
	err := e.inventory.Decrement(ctx, entity.ProductID, entity.VariantKey, entity.Quantity)
	if err == nil {
		return
	}

	util.SettlementFailuresTotal.WithLabelValues("inventory").Inc()
	e.logger.Error("Failed to decrement stock for paid order",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", entity.ItemID),
		zap.Int64("product_id", entity.ProductID),
		zap.Error(err))

	event := &models.SettlementFailedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeSettlementFailed),
		PaymentID: payment.ID,
		CartID:    line.ID,
		Reason:    err.Error(),
	}
	if pubErr := e.events.PublishSettlementFailed(ctx, event); pubErr != nil {
		e.logger.Error("Failed to publish SettlementFailed event", zap.Error(pubErr))
	}
}

func (e *SettlementEngine) userEmail(ctx context.Context, line *models.CartLine, payment *models.PaymentRecord) string {
	userID := line.UserID
	if userID == 0 {
		userID = payment.UserID
	}

	email, err := e.users.GetUserEmail(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to resolve user email",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return ""
	}
	return email
}
