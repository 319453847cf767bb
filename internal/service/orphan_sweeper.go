package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// SweepReport summarises one orphan sweep
type SweepReport struct {
	Payments  int `json:"payments"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
}

// OrphanSweeper finishes settlement of payments that were marked successful
// but whose cart lines or entities were left pending, or whose notifications
// never went out, because a pass aborted. Re-running a line is safe: the
// guarded entity transition reports whether it already happened and only
// fresh transitions decrement stock. Notifications cover every line of the
// payment and are sent once all of them settled.
type OrphanSweeper struct {
	payments    PaymentStore
	engine      *SettlementEngine
	notifier    Notifier
	locker      Locker
	events      EventPublisher
	adminEmails []string
	grace       time.Duration
	batchSize   int
	lockTTL     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewOrphanSweeper creates a sweeper that ignores payments resolved less than grace ago
func NewOrphanSweeper(
	payments PaymentStore,
	engine *SettlementEngine,
	notifier Notifier,
	locker Locker,
	events EventPublisher,
	cfg ReconcilerConfig,
	grace time.Duration,
) *OrphanSweeper {
	if locker == nil {
		locker = nopLocker{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &OrphanSweeper{
		payments:    payments,
		engine:      engine,
		notifier:    notifier,
		locker:      locker,
		events:      events,
		adminEmails: cfg.AdminEmails,
		grace:       grace,
		batchSize:   cfg.BatchSize,
		lockTTL:     cfg.LockTTL,
		now:         time.Now,
		logger:      util.Component("orphan_sweeper"),
	}
}

// Sweep re-settles every unsettled successful payment found
func (s *OrphanSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := util.StartSpan(ctx, "OrphanSweeper.Sweep")
	defer span.End()

	var report SweepReport

	payments, err := s.payments.ListUnsettledPayments(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		util.RecordError(span, err)
		return report, fmt.Errorf("failed to list unsettled payments: %w", err)
	}

	for i := range payments {
		if ctx.Err() != nil {
			break
		}
		report.Payments++

		recovered, err := s.SweepPayment(ctx, &payments[i])
		report.Recovered += recovered
		if err != nil {
			report.Failed++
			s.logger.Error("Failed to recover payment settlement",
				zap.Int64("payment_id", payments[i].ID),
				zap.Error(err))
		}
	}

	if report.Payments > 0 {
		s.logger.Info("Orphan sweep finished",
			zap.Int("payments", report.Payments),
			zap.Int("recovered", report.Recovered),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// SweepPayment settles the remaining lines of one successful payment and
// returns how many lines it recovered
func (s *OrphanSweeper) SweepPayment(ctx context.Context, payment *models.PaymentRecord) (int, error) {
	if payment.Status != models.PaymentStatusSuccessful {
		return 0, fmt.Errorf("payment %d is %s, only successful payments are swept", payment.ID, payment.Status)
	}

	lockKey := fmt.Sprintf("payment:%d", payment.ID)
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release payment lock", zap.Error(err))
		}
	}()

	var outcomes, recovered []*LineOutcome
	var lineErr error

	for _, cartID := range payment.CartIDs {
		outcome, err := s.engine.SettleLine(ctx, payment, cartID)
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			lineErr = fmt.Errorf("cart line %d: %w", cartID, err)
			break
		}
		outcomes = append(outcomes, outcome)
		if outcome.Entity.Transitioned {
			recovered = append(recovered, outcome)
		}
	}

	if len(recovered) > 0 {
		util.OrphanLinesRecoveredTotal.Add(float64(len(recovered)))

		event := &models.PaymentSettledEvent{
			BaseEvent:    broker.NewBaseEvent(models.EventTypePaymentSettled),
			PaymentID:    payment.ID,
			UserID:       payment.UserID,
			TotalPrice:   payment.TotalPrice,
			SettledLines: settledLines(recovered),
			Recovered:    true,
		}
		if err := s.events.PublishPaymentSettled(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentSettled event", zap.Error(err))
		}

		s.logger.Info("Recovered orphaned cart lines",
			zap.Int64("payment_id", payment.ID),
			zap.Int("lines", len(recovered)))
	}

	if lineErr == nil && notifyOnce(ctx, s.payments, s.notifier, s.adminEmails, payment, outcomes, payment.UpdatedAt) {
		s.logger.Info("Sent settlement notifications for recovered payment",
			zap.Int64("payment_id", payment.ID),
			zap.Int("lines", len(outcomes)))
	}

	return len(recovered), lineErr
}
