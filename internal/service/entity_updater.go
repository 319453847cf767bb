package service

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnknownItemType is returned for a cart line whose item type is not purchasable
var ErrUnknownItemType = errors.New("unknown item type")

// SettledEntity is the result of flipping one purchasable entity to paid
type SettledEntity struct {
	ItemType        models.ItemType
	ItemID          int64
	UserID          int64
	Title           string
	DisplayQuantity int
	Price           int64
	Status          string

	// Transitioned is true only for the call that moved the entity out of
	// pending; side effects such as stock decrements key off it.
	Transitioned bool

	// product orders
	ProductID  int64
	VariantKey *string
	Quantity   int

	// trip bookings
	Participants []models.Participant
}

// EntityUpdater transitions course bookings, product orders and trip bookings to paid
type EntityUpdater struct {
	entities EntityStore
	catalog  CatalogReader
	logger   *zap.Logger
}

// NewEntityUpdater creates a new entity status updater
func NewEntityUpdater(entities EntityStore, catalog CatalogReader) *EntityUpdater {
	return &EntityUpdater{
		entities: entities,
		catalog:  catalog,
		logger:   util.Component("entity_updater"),
	}
}

// Settle marks the entity referenced by a cart line as paid and gathers its display data.
// A missing entity yields an error wrapping store.ErrNotFound.
func (u *EntityUpdater) Settle(ctx context.Context, itemType models.ItemType, itemID int64) (*SettledEntity, error) {
	ctx, span := util.StartSpan(ctx, "EntityUpdater.Settle",
		attribute.String("item_type", string(itemType)),
		attribute.Int64("item_id", itemID))
	defer span.End()

	if !itemType.Valid() {
		err := fmt.Errorf("%w %q", ErrUnknownItemType, itemType)
		util.RecordError(span, err)
		return nil, err
	}

	var (
		settled *SettledEntity
		err     error
	)
	switch itemType {
	case models.ItemTypeCourse:
		settled, err = u.settleCourse(ctx, itemID)
	case models.ItemTypeProduct:
		settled, err = u.settleProduct(ctx, itemID)
	case models.ItemTypeTrip:
		settled, err = u.settleTrip(ctx, itemID)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if !settled.Transitioned {
		u.logger.Info("Entity was not pending, leaving it untouched",
			zap.String("item_type", string(itemType)),
			zap.Int64("item_id", itemID),
			zap.String("status", settled.Status))
	}
	return settled, nil
}

func (u *EntityUpdater) settleCourse(ctx context.Context, id int64) (*SettledEntity, error) {
	booking, changed, err := u.entities.MarkCourseBookingPaid(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark course booking paid: %w", err)
	}

	title, err := u.title(ctx, u.catalog.GetClassTitle, booking.ClassID)
	if err != nil {
		return nil, err
	}

	return &SettledEntity{
		ItemType:        models.ItemTypeCourse,
		ItemID:          booking.ID,
		UserID:          booking.UserID,
		Title:           title,
		DisplayQuantity: 1,
		Price:           booking.Price,
		Status:          booking.Status,
		Transitioned:    changed,
	}, nil
}

func (u *EntityUpdater) settleProduct(ctx context.Context, id int64) (*SettledEntity, error) {
	order, changed, err := u.entities.MarkProductOrderPaid(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark product order paid: %w", err)
	}

	title, err := u.title(ctx, u.catalog.GetProductTitle, order.ProductID)
	if err != nil {
		return nil, err
	}

	quantity := 1
	if order.Quantity.Valid && order.Quantity.Int64 > 0 {
		quantity = int(order.Quantity.Int64)
	}

	var variant *string
	if order.VariantKey.Valid && order.VariantKey.String != "" {
		v := order.VariantKey.String
		variant = &v
	}

	return &SettledEntity{
		ItemType:        models.ItemTypeProduct,
		ItemID:          order.ID,
		UserID:          order.UserID,
		Title:           title,
		DisplayQuantity: quantity,
		Price:           order.Price,
		Status:          order.Status,
		Transitioned:    changed,
		ProductID:       order.ProductID,
		VariantKey:      variant,
		Quantity:        quantity,
	}, nil
}

func (u *EntityUpdater) settleTrip(ctx context.Context, id int64) (*SettledEntity, error) {
	booking, changed, err := u.entities.MarkTripBookingPaid(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark trip booking paid: %w", err)
	}

	title, err := u.title(ctx, u.catalog.GetTripTitle, booking.TripID)
	if err != nil {
		return nil, err
	}

	quantity := len(booking.Participants)
	if quantity == 0 {
		quantity = 1
	}

	return &SettledEntity{
		ItemType:        models.ItemTypeTrip,
		ItemID:          booking.ID,
		UserID:          booking.UserID,
		Title:           title,
		DisplayQuantity: quantity,
		Price:           booking.Price,
		Status:          booking.Status,
		Transitioned:    changed,
		Participants:    booking.Participants,
	}, nil
}

// title looks up a catalog title. A catalog row that vanished after the
// booking was made only costs the notification its title.
func (u *EntityUpdater) title(ctx context.Context, lookup func(context.Context, int64) (string, error), id int64) (string, error) {
	title, err := lookup(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		u.logger.Warn("Catalog item missing, continuing without title", zap.Int64("catalog_id", id))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve catalog title: %w", err)
	}
	return title, nil
}
