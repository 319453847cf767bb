// Package notify turns settlement results into user and admin emails.
//
// Every Notify* call returns immediately; delivery runs on its own goroutine
// and failures are logged and counted, never reported to the caller. Wait
// blocks until in-flight deliveries finish and is used on shutdown.
package notify

import (
	"context"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Template names understood by the notification collaborator
type Template string

const (
	TemplateCoursePurchase  Template = "course_purchase"
	TemplateTripPurchase    Template = "trip_purchase"
	TemplateProductPurchase Template = "product_purchase"
	TemplateAdminSummary    Template = "admin_summary"
)

// Message is one email handed to a transport
type Message struct {
	To       string
	Template Template
	Subject  string
	Data     map[string]interface{}
}

// Sender delivers a message; template rendering happens behind it
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PurchaseContext carries the per-line details of a purchase email
type PurchaseContext struct {
	PaymentID       int64
	Quantity        int
	Price           int64
	ParticipantName string
}

// PurchaseItem is one line of the admin summary
type PurchaseItem struct {
	ItemType models.ItemType `json:"item_type"`
	Title    string          `json:"title"`
	Quantity int             `json:"quantity"`
	Price    int64           `json:"price"`
}

// AdminSummary is the consolidated per-payment email sent to administrators
type AdminSummary struct {
	PaymentID     int64
	PaymentDate   time.Time
	TotalAmount   int64
	CustomerEmail string
	Items         []PurchaseItem
}

// Dispatcher sends notifications asynchronously
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: 15 * time.Second,
		logger:  util.Component("notify"),
	}
}

// NotifyPurchase sends a purchase confirmation for one course or trip line
func (d *Dispatcher) NotifyPurchase(ctx context.Context, email string, itemType models.ItemType, title string, pc PurchaseContext) {
	tmpl := TemplateCoursePurchase
	subject := "Your course booking is confirmed"
	if itemType == models.ItemTypeTrip {
		tmpl = TemplateTripPurchase
		subject = "Your trip booking is confirmed"
	}

	data := map[string]interface{}{
		"payment_id": pc.PaymentID,
		"item_type":  string(itemType),
		"title":      title,
		"quantity":   pc.Quantity,
		"price":      pc.Price,
		"price_text": FormatAmount(pc.Price),
	}
	if pc.ParticipantName != "" {
		data["participant_name"] = pc.ParticipantName
	}

	d.dispatch(ctx, Message{To: email, Template: tmpl, Subject: subject, Data: data})
}

// NotifyAdminSummary sends the consolidated payment summary to one administrator
func (d *Dispatcher) NotifyAdminSummary(ctx context.Context, adminEmail string, summary AdminSummary) {
	d.dispatch(ctx, Message{
		To:       adminEmail,
		Template: TemplateAdminSummary,
		Subject:  "New purchase received",
		Data: map[string]interface{}{
			"payment_id":     summary.PaymentID,
			"payment_date":   summary.PaymentDate.Format(time.RFC3339),
			"total_amount":   summary.TotalAmount,
			"total_text":     FormatAmount(summary.TotalAmount),
			"customer_email": summary.CustomerEmail,
			"items":          summary.Items,
		},
	})
}

// NotifyConsolidatedProduct sends one email covering every product order of a payment
func (d *Dispatcher) NotifyConsolidatedProduct(ctx context.Context, email string, paymentID int64, orderIDs []int64) {
	d.dispatch(ctx, Message{
		To:       email,
		Template: TemplateProductPurchase,
		Subject:  "Your order is confirmed",
		Data: map[string]interface{}{
			"payment_id": paymentID,
			"order_ids":  orderIDs,
		},
	})
}

// FormatAmount renders an amount in minor units with two decimals
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// Wait blocks until every in-flight notification has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	if msg.To == "" {
		d.logger.Warn("Dropping notification without recipient", zap.String("template", string(msg.Template)))
		util.NotificationsTotal.WithLabelValues(string(msg.Template), "dropped").Inc()
		return
	}

	// detach from the tick so a finished tick does not cancel delivery
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		if err := d.sender.Send(sendCtx, msg); err != nil {
			util.NotificationsTotal.WithLabelValues(string(msg.Template), "failed").Inc()
			d.logger.Error("Failed to send notification",
				zap.String("template", string(msg.Template)),
				zap.String("to", msg.To),
				zap.Error(err))
			return
		}

		util.NotificationsTotal.WithLabelValues(string(msg.Template), "sent").Inc()
		d.logger.Info("Notification sent",
			zap.String("template", string(msg.Template)),
			zap.String("to", msg.To))
	}()
}
