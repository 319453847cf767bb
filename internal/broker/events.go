package broker

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher handles publishing settlement domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func paymentKey(paymentID int64) string {
	return fmt.Sprintf("payment-%d", paymentID)
}

// PublishPaymentSettled publishes PaymentSettled event
func (ep *EventPublisher) PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishPaymentCancelled publishes PaymentCancelled event
func (ep *EventPublisher) PublishPaymentCancelled(ctx context.Context, event *models.PaymentCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishSettlementFailed publishes SettlementFailed event
func (ep *EventPublisher) PublishSettlementFailed(ctx context.Context, event *models.SettlementFailedEvent) error {
	return ep.producer.PublishEvent(ctx, paymentKey(event.PaymentID), event.EventType, event)
}

// PublishNotificationRequested publishes NotificationRequested event keyed by recipient
func (ep *EventPublisher) PublishNotificationRequested(ctx context.Context, event *models.NotificationRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, event.To, event.EventType, event)
}
