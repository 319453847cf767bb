package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/provider"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is what one reconciliation pass did with a payment record
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// TickReport summarises one reconciliation tick
type TickReport struct {
	Examined  int `json:"examined"`
	Settled   int `json:"settled"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *TickReport) add(o Outcome) {
	r.Examined++
	switch o {
	case OutcomeSettled:
		r.Settled++
	case OutcomeCancelled:
		r.Cancelled++
	case OutcomePending:
		r.Pending++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// ReconcilerConfig tunes the reconciliation loop
type ReconcilerConfig struct {
	AdminEmails []string
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

// Reconciler polls the payment provider for pending payment records and
// settles the ones whose payment intent succeeded
type Reconciler struct {
	payments PaymentStore
	provider PaymentProvider
	engine   *SettlementEngine
	notifier Notifier
	locker   Locker
	events   EventPublisher
	cfg      ReconcilerConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewReconciler creates a new payment reconciler; locker and events may be nil
func NewReconciler(
	payments PaymentStore,
	paymentProvider PaymentProvider,
	engine *SettlementEngine,
	notifier Notifier,
	locker Locker,
	events EventPublisher,
	cfg ReconcilerConfig,
) *Reconciler {
	if locker == nil {
		locker = nopLocker{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Reconciler{
		payments: payments,
		provider: paymentProvider,
		engine:   engine,
		notifier: notifier,
		locker:   locker,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		logger:   util.Component("reconciler"),
	}
}

// Reconcile runs one tick over every pending payment record, fetched in
// pages of BatchSize by id. Records are independent: a failure on one is
// logged and never stops the others.
func (r *Reconciler) Reconcile(ctx context.Context) (TickReport, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	var report TickReport
	var mu sync.Mutex
	var afterID int64

	for ctx.Err() == nil {
		payments, err := r.payments.ListPendingPayments(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			util.RecordError(span, err)
			return report, fmt.Errorf("failed to list pending payments after %d: %w", afterID, err)
		}
		if len(payments) == 0 {
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(r.cfg.Concurrency)
		for i := range payments {
			payment := payments[i]
			g.Go(func() error {
				outcome := r.reconcileSafely(ctx, payment)
				mu.Lock()
				report.add(outcome)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		afterID = payments[len(payments)-1].ID
		if len(payments) < r.cfg.BatchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("examined", report.Examined),
		attribute.Int("settled", report.Settled),
		attribute.Int("failed", report.Failed))

	if report.Examined > 0 {
		r.logger.Info("Reconciliation tick finished",
			zap.Int("examined", report.Examined),
			zap.Int("settled", report.Settled),
			zap.Int("cancelled", report.Cancelled),
			zap.Int("pending", report.Pending),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// reconcileSafely is the per-record boundary: errors and panics stop here
func (r *Reconciler) reconcileSafely(ctx context.Context, payment models.PaymentRecord) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			util.SettlementFailuresTotal.WithLabelValues("panic").Inc()
			r.logger.Error("Panic while reconciling payment",
				zap.Int64("payment_id", payment.ID),
				zap.Any("panic", p),
				zap.Stack("stack"))
			outcome = OutcomeFailed
		}
	}()

	outcome, err := r.ReconcilePayment(ctx, payment)
	if err != nil {
		r.logger.Error("Failed to reconcile payment",
			zap.Int64("payment_id", payment.ID),
			zap.Error(err))
		return OutcomeFailed
	}
	return outcome
}

// ReconcilePayment resolves one pending payment record against the provider
func (r *Reconciler) ReconcilePayment(ctx context.Context, payment models.PaymentRecord) (Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcilePayment", attribute.Int64("payment_id", payment.ID))
	defer span.End()

	logger := r.logger.With(zap.Int64("payment_id", payment.ID))

	if !payment.SessionID.Valid || payment.SessionID.String == "" {
		return OutcomeSkipped, nil
	}

	lockKey := fmt.Sprintf("payment:%d", payment.ID)
	token, ok, err := r.locker.AcquireLock(ctx, lockKey, r.cfg.LockTTL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !ok {
		util.PaymentsClaimLostTotal.Inc()
		logger.Debug("Payment is locked by another pass")
		return OutcomeSkipped, nil
	}
	defer func() {
		if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			logger.Warn("Failed to release payment lock", zap.Error(err))
		}
	}()

	session, err := r.provider.RetrieveCheckoutSession(ctx, payment.SessionID.String)
	if err != nil {
		util.ProviderErrorsTotal.WithLabelValues("checkout_session").Inc()
		logger.Warn("Checkout session retrieval failed, retrying next tick", zap.Error(err))
		return OutcomeSkipped, nil
	}
	if session.PaymentIntentID == "" {
		logger.Debug("Checkout session has no payment intent yet",
			zap.String("session_id", payment.SessionID.String))
		return OutcomeSkipped, nil
	}

	intent, err := r.provider.RetrievePaymentIntent(ctx, session.PaymentIntentID)
	if err != nil {
		util.ProviderErrorsTotal.WithLabelValues("payment_intent").Inc()
		logger.Warn("Payment intent retrieval failed, retrying next tick",
			zap.String("intent_id", session.PaymentIntentID),
			zap.Error(err))
		return OutcomeSkipped, nil
	}

	switch intent.Status {
	case provider.IntentSucceeded:
		return r.settle(ctx, &payment)
	case provider.IntentCanceled:
		return r.cancel(ctx, &payment)
	default:
		logger.Debug("Payment intent not final", zap.String("status", intent.Status))
		return OutcomePending, nil
	}
}

func (r *Reconciler) cancel(ctx context.Context, payment *models.PaymentRecord) (Outcome, error) {
	claimed, err := r.payments.TransitionPayment(ctx, payment.ID, models.PaymentStatusCancelled)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to cancel payment: %w", err)
	}
	if !claimed {
		util.PaymentsClaimLostTotal.Inc()
		return OutcomeSkipped, nil
	}

	util.PaymentsResolvedTotal.WithLabelValues(string(OutcomeCancelled)).Inc()
	r.logger.Info("Payment cancelled", zap.Int64("payment_id", payment.ID))

	event := &models.PaymentCancelledEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentCancelled),
		PaymentID: payment.ID,
		UserID:    payment.UserID,
	}
	if err := r.events.PublishPaymentCancelled(ctx, event); err != nil {
		r.logger.Error("Failed to publish PaymentCancelled event", zap.Error(err))
	}
	return OutcomeCancelled, nil
}

// settle claims the payment with a guarded pending to successful update and
// then settles its cart lines strictly in stored order
func (r *Reconciler) settle(ctx context.Context, payment *models.PaymentRecord) (Outcome, error) {
	claimed, err := r.payments.TransitionPayment(ctx, payment.ID, models.PaymentStatusSuccessful)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to mark payment successful: %w", err)
	}
	if !claimed {
		util.PaymentsClaimLostTotal.Inc()
		return OutcomeSkipped, nil
	}

	util.PaymentsResolvedTotal.WithLabelValues(string(OutcomeSettled)).Inc()
	paidAt := r.now()
	payment.Status = models.PaymentStatusSuccessful

	outcomes := make([]*LineOutcome, 0, len(payment.CartIDs))
	var skipped []int64

	for i, cartID := range payment.CartIDs {
		outcome, err := r.engine.SettleLine(ctx, payment, cartID)
		if errors.Is(err, ErrSkipLine) {
			skipped = append(skipped, cartID)
			continue
		}
		if err != nil {
			util.SettlementFailuresTotal.WithLabelValues("aborted").Inc()
			event := &models.SettlementFailedEvent{
				BaseEvent:  broker.NewBaseEvent(models.EventTypeSettlementFailed),
				PaymentID:  payment.ID,
				CartID:     cartID,
				Reason:     err.Error(),
				LinesDone:  i,
				LinesTotal: len(payment.CartIDs),
			}
			if pubErr := r.events.PublishSettlementFailed(ctx, event); pubErr != nil {
				r.logger.Error("Failed to publish SettlementFailed event", zap.Error(pubErr))
			}
			return OutcomeFailed, fmt.Errorf("settlement aborted at cart line %d (%d/%d settled): %w",
				cartID, i, len(payment.CartIDs), err)
		}
		outcomes = append(outcomes, outcome)
	}

	notifyOnce(ctx, r.payments, r.notifier, r.cfg.AdminEmails, payment, outcomes, paidAt)

	event := &models.PaymentSettledEvent{
		BaseEvent:    broker.NewBaseEvent(models.EventTypePaymentSettled),
		PaymentID:    payment.ID,
		UserID:       payment.UserID,
		TotalPrice:   payment.TotalPrice,
		SettledLines: settledLines(outcomes),
		SkippedLines: skipped,
	}
	if err := r.events.PublishPaymentSettled(ctx, event); err != nil {
		r.logger.Error("Failed to publish PaymentSettled event", zap.Error(err))
	}

	r.logger.Info("Payment settled",
		zap.Int64("payment_id", payment.ID),
		zap.Int("lines", len(outcomes)),
		zap.Int("skipped", len(skipped)))
	return OutcomeSettled, nil
}
