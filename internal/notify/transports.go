package notify

import (
	"context"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

type notificationPublisher interface {
	PublishNotificationRequested(ctx context.Context, event *models.NotificationRequestedEvent) error
}

// KafkaSender hands messages to the notification service over Kafka
type KafkaSender struct {
	publisher notificationPublisher
}

// NewKafkaSender creates a Kafka transport
func NewKafkaSender(publisher notificationPublisher) *KafkaSender {
	return &KafkaSender{publisher: publisher}
}

// Send publishes a NotificationRequested event
func (k *KafkaSender) Send(ctx context.Context, msg Message) error {
	data := make(map[string]interface{}, len(msg.Data)+1)
	for key, v := range msg.Data {
		data[key] = v
	}
	data["subject"] = msg.Subject

	return k.publisher.PublishNotificationRequested(ctx, &models.NotificationRequestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeNotificationRequested),
		Template:  string(msg.Template),
		To:        msg.To,
		Data:      data,
	})
}

// LogSender only logs messages; used in development
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a logging transport
func NewLogSender() *LogSender {
	return &LogSender{logger: util.Component("notify.log")}
}

// Send logs the message
func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.logger.Info("Notification",
		zap.String("template", string(msg.Template)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Any("data", msg.Data))
	return nil
}
