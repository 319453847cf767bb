package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// notifyOnce claims the notifications of a payment and sends them. A payment
// already claimed by an earlier pass sends nothing; a failed claim is left for
// the orphan sweep.
func notifyOnce(ctx context.Context, payments PaymentStore, n Notifier, adminEmails []string, payment *models.PaymentRecord, outcomes []*LineOutcome, paidAt time.Time) bool {
	claimed, err := payments.MarkPaymentNotified(ctx, payment.ID)
	if err != nil {
		util.Component("notifications").Warn("Failed to claim payment notifications",
			zap.Int64("payment_id", payment.ID),
			zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}
	notifySettlement(ctx, n, adminEmails, payment, outcomes, paidAt)
	return true
}

// notifySettlement fans the outcomes of one payment out to the notifier:
// a purchase email per course or trip line (and per trip participant), one
// consolidated email for all product orders and an admin summary.
func notifySettlement(ctx context.Context, n Notifier, adminEmails []string, payment *models.PaymentRecord, outcomes []*LineOutcome, paidAt time.Time) {
	var userEmail string
	for _, o := range outcomes {
		if o.UserEmail != "" {
			userEmail = o.UserEmail
			break
		}
	}

	items := make([]notify.PurchaseItem, 0, len(outcomes))
	var productOrders []int64

	for _, o := range outcomes {
		items = append(items, o.Item)
		pc := notify.PurchaseContext{
			PaymentID: payment.ID,
			Quantity:  o.Item.Quantity,
			Price:     o.Item.Price,
		}

		switch o.Entity.ItemType {
		case models.ItemTypeProduct:
			productOrders = append(productOrders, o.Entity.ItemID)

		case models.ItemTypeCourse:
			n.NotifyPurchase(ctx, userEmail, models.ItemTypeCourse, o.Item.Title, pc)

		case models.ItemTypeTrip:
			n.NotifyPurchase(ctx, userEmail, models.ItemTypeTrip, o.Item.Title, pc)
			for _, p := range o.Entity.Participants {
				if p.Email == "" || p.Email == userEmail {
					continue
				}
				participant := pc
				participant.ParticipantName = p.Name
				n.NotifyPurchase(ctx, p.Email, models.ItemTypeTrip, o.Item.Title, participant)
			}
		}
	}

	if len(productOrders) > 0 {
		n.NotifyConsolidatedProduct(ctx, userEmail, payment.ID, productOrders)
	}

	if len(adminEmails) == 0 || len(items) == 0 || userEmail == "" {
		return
	}

	summary := notify.AdminSummary{
		PaymentID:     payment.ID,
		PaymentDate:   paidAt,
		TotalAmount:   payment.TotalPrice,
		CustomerEmail: userEmail,
		Items:         items,
	}
	for _, admin := range adminEmails {
		n.NotifyAdminSummary(ctx, admin, summary)
	}
}

func settledLines(outcomes []*LineOutcome) []models.SettledLine {
	lines := make([]models.SettledLine, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, models.SettledLine{
			CartID:   o.CartID,
			ItemType: o.Entity.ItemType,
			ItemID:   o.Entity.ItemID,
			Title:    o.Item.Title,
			Quantity: o.Item.Quantity,
			Price:    o.Item.Price,
		})
	}
	return lines
}
