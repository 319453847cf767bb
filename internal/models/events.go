package models

import "time"

// Event types
const (
	EventTypePaymentSettled        = "PAYMENT_SETTLED"
	EventTypePaymentCancelled      = "PAYMENT_CANCELLED"
	EventTypeSettlementFailed      = "SETTLEMENT_FAILED"
	EventTypeNotificationRequested = "NOTIFICATION_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSettledEvent published once a payment has been claimed and its lines settled
type PaymentSettledEvent struct {
	BaseEvent
	PaymentID    int64         `json:"payment_id"`
	UserID       int64         `json:"user_id"`
	TotalPrice   int64         `json:"total_price"`
	SettledLines []SettledLine `json:"settled_lines"`
	SkippedLines []int64       `json:"skipped_lines,omitempty"`
	Recovered    bool          `json:"recovered,omitempty"`
}

// SettledLine describes one cart line in a settlement event
type SettledLine struct {
	CartID   int64    `json:"cart_id"`
	ItemType ItemType `json:"item_type"`
	ItemID   int64    `json:"item_id"`
	Title    string   `json:"title"`
	Quantity int      `json:"quantity"`
	Price    int64    `json:"price"`
}

// PaymentCancelledEvent published when the provider reports a cancelled intent
type PaymentCancelledEvent struct {
	BaseEvent
	PaymentID int64 `json:"payment_id"`
	UserID    int64 `json:"user_id"`
}

// SettlementFailedEvent published when settlement of a claimed payment aborted
type SettlementFailedEvent struct {
	BaseEvent
	PaymentID  int64  `json:"payment_id"`
	CartID     int64  `json:"cart_id"`
	Reason     string `json:"reason"`
	LinesDone  int    `json:"lines_done"`
	LinesTotal int    `json:"lines_total"`
}

// NotificationRequestedEvent asks the notification service to render and deliver an email
type NotificationRequestedEvent struct {
	BaseEvent
	Template string                 `json:"template"`
	To       string                 `json:"to"`
	Data     map[string]interface{} `json:"data"`
}
