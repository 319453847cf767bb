package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/provider"
)

// PaymentProvider is the read side of the external payment processor
type PaymentProvider interface {
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*provider.CheckoutSession, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*provider.PaymentIntent, error)
}

// PaymentStore persists payment records
type PaymentStore interface {
	ListPendingPayments(ctx context.Context, afterID int64, limit int) ([]models.PaymentRecord, error)
	ListUnsettledPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRecord, error)
	TransitionPayment(ctx context.Context, id int64, status string) (bool, error)
	MarkPaymentNotified(ctx context.Context, id int64) (bool, error)
}

// CartStore persists cart lines
type CartStore interface {
	GetCartLine(ctx context.Context, id int64) (*models.CartLine, error)
	CompleteCartLine(ctx context.Context, id int64) error
}

// EntityStore flips purchasable entities to paid. The boolean result reports
// whether the call performed the pending to paid transition.
type EntityStore interface {
	MarkCourseBookingPaid(ctx context.Context, id int64) (*models.CourseBooking, bool, error)
	MarkProductOrderPaid(ctx context.Context, id int64) (*models.ProductOrder, bool, error)
	MarkTripBookingPaid(ctx context.Context, id int64) (*models.TripBooking, bool, error)
}

// CatalogReader resolves display titles
type CatalogReader interface {
	GetClassTitle(ctx context.Context, id int64) (string, error)
	GetProductTitle(ctx context.Context, id int64) (string, error)
	GetTripTitle(ctx context.Context, id int64) (string, error)
}

// UserDirectory resolves user email addresses
type UserDirectory interface {
	GetUserEmail(ctx context.Context, userID int64) (string, error)
}

// StockStore is the authoritative inventory counter
type StockStore interface {
	DecrementVariantStock(ctx context.Context, productID int64, variantKey string, quantity int) (int, bool, error)
	DecrementProductStock(ctx context.Context, productID int64, quantity int) (int, bool, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProductVariants(ctx context.Context, productID int64) ([]models.ProductVariant, error)
}

// StockMirror is the Redis copy of inventory counters read by the storefront
type StockMirror interface {
	InitStock(ctx context.Context, productID int64, fields map[string]int) error
	DecrementStock(ctx context.Context, productID int64, field string, quantity int) (int, bool, error)
}

// Locker guards a payment against concurrent settlement across processes
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher publishes settlement domain events
type EventPublisher interface {
	PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error
	PublishPaymentCancelled(ctx context.Context, event *models.PaymentCancelledEvent) error
	PublishSettlementFailed(ctx context.Context, event *models.SettlementFailedEvent) error
}

// Notifier is the fire-and-forget notification dispatcher
type Notifier interface {
	NotifyPurchase(ctx context.Context, email string, itemType models.ItemType, title string, pc notify.PurchaseContext)
	NotifyAdminSummary(ctx context.Context, adminEmail string, summary notify.AdminSummary)
	NotifyConsolidatedProduct(ctx context.Context, email string, paymentID int64, orderIDs []int64)
}

type nopLocker struct{}

func (nopLocker) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", true, nil
}

func (nopLocker) ReleaseLock(context.Context, string, string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishPaymentSettled(context.Context, *models.PaymentSettledEvent) error {
	return nil
}

func (nopPublisher) PublishPaymentCancelled(context.Context, *models.PaymentCancelledEvent) error {
	return nil
}

func (nopPublisher) PublishSettlementFailed(context.Context, *models.SettlementFailedEvent) error {
	return nil
}
