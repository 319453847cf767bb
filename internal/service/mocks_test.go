package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/provider"
	"booking-service/internal/redisclient"
	"booking-service/internal/store"

	"github.com/lib/pq"
)

// fakeDB is an in-memory stand-in for the Postgres store. Every guarded
// update of the real store is reproduced under a single mutex.
type fakeDB struct {
	mu sync.Mutex

	payments map[int64]*models.PaymentRecord
	carts    map[int64]*models.CartLine
	courses  map[int64]*models.CourseBooking
	orders   map[int64]*models.ProductOrder
	trips    map[int64]*models.TripBooking
	titles   map[string]string
	emails   map[int64]string
	products map[int64]*models.Product
	variants map[int64]map[string]int

	// completeErr makes CompleteCartLine fail for a cart id
	completeErr map[int64]error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		payments:    make(map[int64]*models.PaymentRecord),
		carts:       make(map[int64]*models.CartLine),
		courses:     make(map[int64]*models.CourseBooking),
		orders:      make(map[int64]*models.ProductOrder),
		trips:       make(map[int64]*models.TripBooking),
		titles:      make(map[string]string),
		emails:      make(map[int64]string),
		products:    make(map[int64]*models.Product),
		variants:    make(map[int64]map[string]int),
		completeErr: make(map[int64]error),
	}
}

func (db *fakeDB) addPayment(id, userID int64, total int64, sessionID string, cartIDs ...int64) {
	db.payments[id] = &models.PaymentRecord{
		ID:         id,
		UserID:     userID,
		CartIDs:    pq.Int64Array(cartIDs),
		SessionID:  sqlString(sessionID),
		TotalPrice: total,
		Status:     models.PaymentStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func (db *fakeDB) addCartLine(id, userID int64, itemType models.ItemType, itemID int64, price int64) {
	db.carts[id] = &models.CartLine{
		ID:       id,
		UserID:   userID,
		ItemType: itemType,
		ItemID:   itemID,
		Price:    price,
		Quantity: 1,
		Status:   models.CartStatusPending,
	}
}

func (db *fakeDB) addCourseBooking(id, userID, classID int64, price int64, title string) {
	db.courses[id] = &models.CourseBooking{ID: id, UserID: userID, ClassID: classID, Participants: 1, Price: price, Status: models.EntityStatusPending}
	db.titles[fmt.Sprintf("class:%d", classID)] = title
}

func (db *fakeDB) addTripBooking(id, userID, tripID int64, price int64, title string, participants ...models.Participant) {
	db.trips[id] = &models.TripBooking{ID: id, UserID: userID, TripID: tripID, Participants: participants, Price: price, Status: models.EntityStatusPending}
	db.titles[fmt.Sprintf("trip:%d", tripID)] = title
}

func (db *fakeDB) addProductOrder(id, userID, productID int64, quantity int64, variant string, price int64) {
	order := &models.ProductOrder{ID: id, UserID: userID, ProductID: productID, Price: price, Status: models.EntityStatusPending}
	if quantity > 0 {
		order.Quantity.Int64, order.Quantity.Valid = quantity, true
	}
	if variant != "" {
		order.VariantKey = sqlString(variant)
	}
	db.orders[id] = order
}

func (db *fakeDB) addProduct(id int64, title string, quantity int, variants map[string]int) {
	db.products[id] = &models.Product{ID: id, Title: title, Quantity: quantity, InStock: true}
	db.titles[fmt.Sprintf("product:%d", id)] = title
	if variants != nil {
		db.variants[id] = variants
	}
}

func (db *fakeDB) payment(id int64) models.PaymentRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.payments[id]
}

func (db *fakeDB) cartStatus(id int64) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.carts[id].Status
}

func (db *fakeDB) variantStock(productID int64, key string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.variants[productID][key]
}

func (db *fakeDB) product(id int64) models.Product {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.products[id]
}

// PaymentStore

func (db *fakeDB) ListPendingPayments(_ context.Context, afterID int64, limit int) ([]models.PaymentRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []models.PaymentRecord
	for _, p := range db.payments {
		if p.Status == models.PaymentStatusPending && p.ID > afterID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *fakeDB) ListUnsettledPayments(_ context.Context, cutoff time.Time, limit int) ([]models.PaymentRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []models.PaymentRecord
	for _, p := range db.payments {
		if p.Status != models.PaymentStatusSuccessful || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		if !p.NotifiedAt.Valid || db.hasPendingLine(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *fakeDB) hasPendingLine(p *models.PaymentRecord) bool {
	for _, id := range p.CartIDs {
		line, ok := db.carts[id]
		if !ok {
			continue
		}
		if line.Status == models.CartStatusPending {
			return true
		}
		switch line.ItemType {
		case models.ItemTypeCourse:
			if b, ok := db.courses[line.ItemID]; ok && b.Status == models.EntityStatusPending {
				return true
			}
		case models.ItemTypeProduct:
			if o, ok := db.orders[line.ItemID]; ok && o.Status == models.EntityStatusPending {
				return true
			}
		case models.ItemTypeTrip:
			if b, ok := db.trips[line.ItemID]; ok && b.Status == models.EntityStatusPending {
				return true
			}
		}
	}
	return false
}

func (db *fakeDB) TransitionPayment(_ context.Context, id int64, status string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return true, nil
}

func (db *fakeDB) MarkPaymentNotified(_ context.Context, id int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.payments[id]
	if !ok || p.NotifiedAt.Valid {
		return false, nil
	}
	p.NotifiedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

// CartStore

func (db *fakeDB) GetCartLine(_ context.Context, id int64) (*models.CartLine, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	line, ok := db.carts[id]
	if !ok {
		return nil, fmt.Errorf("cart line %d: %w", id, store.ErrNotFound)
	}
	cp := *line
	return &cp, nil
}

func (db *fakeDB) CompleteCartLine(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.completeErr[id]; err != nil {
		return err
	}
	if line, ok := db.carts[id]; ok {
		line.Status = models.CartStatusComplete
	}
	return nil
}

// EntityStore

func (db *fakeDB) MarkCourseBookingPaid(_ context.Context, id int64) (*models.CourseBooking, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.courses[id]
	if !ok {
		return nil, false, fmt.Errorf("course_bookings %d: %w", id, store.ErrNotFound)
	}
	changed := b.Status == models.EntityStatusPending
	if changed {
		b.Status = models.EntityStatusPaid
	}
	cp := *b
	return &cp, changed, nil
}

func (db *fakeDB) MarkProductOrderPaid(_ context.Context, id int64) (*models.ProductOrder, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	o, ok := db.orders[id]
	if !ok {
		return nil, false, fmt.Errorf("product_orders %d: %w", id, store.ErrNotFound)
	}
	changed := o.Status == models.EntityStatusPending
	if changed {
		o.Status = models.EntityStatusPaid
	}
	cp := *o
	return &cp, changed, nil
}

func (db *fakeDB) MarkTripBookingPaid(_ context.Context, id int64) (*models.TripBooking, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.trips[id]
	if !ok {
		return nil, false, fmt.Errorf("trip_bookings %d: %w", id, store.ErrNotFound)
	}
	changed := b.Status == models.EntityStatusPending
	if changed {
		b.Status = models.EntityStatusPaid
	}
	cp := *b
	return &cp, changed, nil
}

// CatalogReader

func (db *fakeDB) lookupTitle(kind string, id int64) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	title, ok := db.titles[fmt.Sprintf("%s:%d", kind, id)]
	if !ok {
		return "", fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
	}
	return title, nil
}

func (db *fakeDB) GetClassTitle(_ context.Context, id int64) (string, error) {
	return db.lookupTitle("class", id)
}

func (db *fakeDB) GetProductTitle(_ context.Context, id int64) (string, error) {
	return db.lookupTitle("product", id)
}

func (db *fakeDB) GetTripTitle(_ context.Context, id int64) (string, error) {
	return db.lookupTitle("trip", id)
}

// UserDirectory

func (db *fakeDB) GetUserEmail(_ context.Context, userID int64) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email, ok := db.emails[userID]
	if !ok {
		return "", fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return email, nil
}

// StockStore

func (db *fakeDB) DecrementVariantStock(_ context.Context, productID int64, variantKey string, quantity int) (int, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	variants, ok := db.variants[productID]
	if !ok {
		return 0, false, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	available, ok := variants[variantKey]
	if !ok {
		return 0, false, fmt.Errorf("variant %q: %w", variantKey, store.ErrNotFound)
	}
	if available < quantity {
		return 0, false, fmt.Errorf("variant %q has %d, requested %d: %w", variantKey, available, quantity, store.ErrInsufficientStock)
	}
	variants[variantKey] = available - quantity

	inStock := false
	for _, q := range variants {
		if q > 0 {
			inStock = true
		}
	}
	if p, ok := db.products[productID]; ok {
		p.InStock = inStock
	}
	return variants[variantKey], inStock, nil
}

func (db *fakeDB) DecrementProductStock(_ context.Context, productID int64, quantity int) (int, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.products[productID]
	if !ok {
		return 0, false, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	if p.Quantity < quantity {
		return 0, false, fmt.Errorf("product %d: requested %d: %w", productID, quantity, store.ErrInsufficientStock)
	}
	p.Quantity -= quantity
	p.InStock = p.Quantity > 0
	return p.Quantity, p.InStock, nil
}

func (db *fakeDB) ListProducts(_ context.Context) ([]models.Product, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]models.Product, 0, len(db.products))
	for _, p := range db.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *fakeDB) GetProductVariants(_ context.Context, productID int64) ([]models.ProductVariant, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []models.ProductVariant
	for key, q := range db.variants[productID] {
		out = append(out, models.ProductVariant{ProductID: productID, VariantKey: key, Quantity: q})
	}
	return out, nil
}

// fakeProvider answers checkout session and payment intent lookups from maps
type fakeProvider struct {
	mu         sync.Mutex
	sessions   map[string]string
	intents    map[string]string
	sessionErr error
	panicOn    string
	calls      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions: make(map[string]string),
		intents:  make(map[string]string),
	}
}

func (p *fakeProvider) set(sessionID, intentID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = intentID
	if intentID != "" {
		p.intents[intentID] = status
	}
}

func (p *fakeProvider) RetrieveCheckoutSession(_ context.Context, sessionID string) (*provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if sessionID == p.panicOn {
		panic("provider exploded")
	}
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	intentID, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	return &provider.CheckoutSession{ID: sessionID, PaymentIntentID: intentID}, nil
}

func (p *fakeProvider) RetrievePaymentIntent(_ context.Context, intentID string) (*provider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", intentID)
	}
	return &provider.PaymentIntent{ID: intentID, Status: status}, nil
}

type purchaseCall struct {
	Email    string
	ItemType models.ItemType
	Title    string
	Context  notify.PurchaseContext
}

type consolidatedCall struct {
	Email     string
	PaymentID int64
	OrderIDs  []int64
}

type adminCall struct {
	Email   string
	Summary notify.AdminSummary
}

// recordingNotifier captures notifications synchronously
type recordingNotifier struct {
	mu           sync.Mutex
	purchases    []purchaseCall
	consolidated []consolidatedCall
	admin        []adminCall
}

func (n *recordingNotifier) NotifyPurchase(_ context.Context, email string, itemType models.ItemType, title string, pc notify.PurchaseContext) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases = append(n.purchases, purchaseCall{Email: email, ItemType: itemType, Title: title, Context: pc})
}

func (n *recordingNotifier) NotifyAdminSummary(_ context.Context, adminEmail string, summary notify.AdminSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, adminCall{Email: adminEmail, Summary: summary})
}

func (n *recordingNotifier) NotifyConsolidatedProduct(_ context.Context, email string, paymentID int64, orderIDs []int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.consolidated = append(n.consolidated, consolidatedCall{Email: email, PaymentID: paymentID, OrderIDs: orderIDs})
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.purchases) + len(n.consolidated) + len(n.admin)
}

// recordingPublisher captures domain events
type recordingPublisher struct {
	mu        sync.Mutex
	settled   []*models.PaymentSettledEvent
	cancelled []*models.PaymentCancelledEvent
	failed    []*models.SettlementFailedEvent
}

func (p *recordingPublisher) PublishPaymentSettled(_ context.Context, e *models.PaymentSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentCancelled(_ context.Context, e *models.PaymentCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *recordingPublisher) PublishSettlementFailed(_ context.Context, e *models.SettlementFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

// fakeMirror records stock mirror calls
type fakeMirror struct {
	mu         sync.Mutex
	stock      map[int64]map[string]int
	decrements int
	err        error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{stock: make(map[int64]map[string]int)}
}

func (m *fakeMirror) InitStock(_ context.Context, productID int64, fields map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]int, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.stock[productID] = cp
	return nil
}

func (m *fakeMirror) DecrementStock(_ context.Context, productID int64, field string, quantity int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrements++
	if m.err != nil {
		return 0, false, m.err
	}
	if _, ok := m.stock[productID][field]; !ok {
		return 0, false, redisclient.ErrStockNotTracked
	}
	m.stock[productID][field] -= quantity
	return m.stock[productID][field], m.stock[productID][field] > 0, nil
}

func sqlString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
