package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"gorm.io/gorm"
)

const (
	schedulerBatchSize    = 50
	schedulerRetryDelay   = 5 * time.Minute
	schedulerMaxAttempts  = 10
	defaultSchedulerCycle = 30 * time.Second
)

// errActionDeferred signals that the runner moved the row's run_at itself and
// the action should simply go back to pending, without the failure bookkeeping.
var errActionDeferred = errors.New("scheduled action deferred")

// Scheduler runs money-moving actions at computed future instants. Actions are
// persisted rows, not in-process timers: release, capture and deposit refunds
// fire days after they are scheduled and must survive restarts.
//
// Transient processor failures re-arm the row with a delay instead of
// retrying immediately, so a degraded dependency is not hammered.
type Scheduler struct {
	DB        *gorm.DB
	Processor PaymentProcessor
	Events    *PaymentEvents
	Interval  time.Duration
}

func NewScheduler(db *gorm.DB, processor PaymentProcessor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerCycle
	}
	return &Scheduler{DB: db, Processor: processor, Interval: interval}
}

// Schedule enqueues an action unless an identical pending one already exists,
// so event handlers invoked twice do not double-schedule.
func (s *Scheduler) Schedule(tx *gorm.DB, paymentID uint, action models.ScheduledActionType, runAt time.Time) error {
	var existing models.ScheduledAction
	err := tx.Where("payment_id = ? AND action = ? AND status = ?",
		paymentID, action, models.ScheduledActionPending).First(&existing).Error
	if err == nil {
		if !existing.RunAt.Equal(runAt) {
			return tx.Model(&existing).Update("run_at", runAt).Error
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(&models.ScheduledAction{
		PaymentID: paymentID,
		Action:    action,
		RunAt:     runAt,
		Status:    models.ScheduledActionPending,
	}).Error
}

// CancelPending cancels queued actions for a payment. An empty action cancels
// all of them.
func (s *Scheduler) CancelPending(tx *gorm.DB, paymentID uint, action models.ScheduledActionType) error {
	q := tx.Model(&models.ScheduledAction{}).
		Where("payment_id = ? AND status = ?", paymentID, models.ScheduledActionPending)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	return q.Update("status", models.ScheduledActionCancelled).Error
}

// Run polls for due actions until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunDueActions(ctx); err != nil {
				log.Printf("Scheduler cycle error: %v", err)
			}
		}
	}
}

// RunDueActions executes every action whose run_at has passed. Each row is
// claimed with a conditional status update so concurrent instances cannot
// execute the same action twice.
func (s *Scheduler) RunDueActions(ctx context.Context) error {
	var due []models.ScheduledAction
	err := s.DB.Where("status = ? AND run_at <= ?", models.ScheduledActionPending, time.Now()).
		Order("run_at").
		Limit(schedulerBatchSize).
		Find(&due).Error
	if err != nil {
		return err
	}

	for i := range due {
		action := &due[i]
		claim := s.DB.Model(&models.ScheduledAction{}).
			Where("id = ? AND status = ?", action.ID, models.ScheduledActionPending).
			Updates(map[string]interface{}{
				"status":   models.ScheduledActionRunning,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			continue
		}
		s.execute(ctx, action)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, action *models.ScheduledAction) {
	var err error
	switch action.Action {
	case models.ActionAutoCharge:
		err = s.runAutoCharge(ctx, action)
	case models.ActionCaptureAtRelease:
		err = s.runCaptureAtRelease(ctx, action)
	case models.ActionReleasePayout:
		err = s.runReleasePayout(ctx, action)
	case models.ActionDepositAutoRefund:
		err = s.runDepositAutoRefund(ctx, action)
	default:
		err = fmt.Errorf("unknown action type %q", action.Action)
	}

	if err == nil {
		s.DB.Model(action).Update("status", models.ScheduledActionDone)
		return
	}
	if errors.Is(err, errActionDeferred) {
		// A deferral is not a failure: give the claim's attempt back so a
		// payout parked ahead of its release time cannot exhaust the budget.
		s.DB.Model(action).Updates(map[string]interface{}{
			"status":   models.ScheduledActionPending,
			"attempts": gorm.Expr("attempts - 1"),
		})
		return
	}

	log.Printf("Scheduled action %d (%s, payment %d) failed: %v", action.ID, action.Action, action.PaymentID, err)
	if action.Attempts+1 >= schedulerMaxAttempts {
		s.DB.Model(action).Updates(map[string]interface{}{
			"status":     models.ScheduledActionFailed,
			"last_error": err.Error(),
		})
		return
	}
	// Transient failure: re-arm for the next natural firing.
	s.DB.Model(action).Updates(map[string]interface{}{
		"status":     models.ScheduledActionPending,
		"run_at":     time.Now().Add(schedulerRetryDelay),
		"last_error": err.Error(),
	})
}

// runAutoCharge attempts the deferred off-session charge at the payment due
// date.
func (s *Scheduler) runAutoCharge(ctx context.Context, action *models.ScheduledAction) error {
	var p models.Payment
	if err := s.DB.First(&p, action.PaymentID).Error; err != nil {
		return err
	}
	if p.Status != models.PaymentStatusMethodSaved && p.Status != models.PaymentStatusFailed {
		// Paid through another path, or cancelled. Nothing to do.
		return nil
	}
	if p.ProcessorMethodID == "" {
		_, err := s.Events.ApplyPaymentFailed(ctx, syntheticEventID("auto-charge", p.ID, "no-method"),
			p.ID, "no saved payment method at due date")
		return err
	}

	var host models.User
	if err := s.DB.First(&host, p.HostID).Error; err != nil {
		return err
	}

	result, err := s.Processor.ChargeSavedMethod(ctx, &p, &host)
	if err != nil {
		var declined *ChargeDeclinedError
		if errors.As(err, &declined) {
			_, applyErr := s.Events.ApplyPaymentFailed(ctx, syntheticEventID("auto-charge", p.ID, "declined"),
				p.ID, declined.Error())
			return applyErr
		}
		return err // transient; the action re-arms
	}

	_, err = s.Events.ApplyPaymentSucceeded(ctx, syntheticEventID("auto-charge", p.ID, result.IntentID), p.ID, *result)
	return err
}

// runCaptureAtRelease captures the held authorization at trip end. Capture IS
// the transfer under the manual-capture strategy: funds land on the host's
// destination account atomically, so success completes the booking in one
// step. An expired hold is a distinct failure from a technically failed
// capture because the remediations differ.
func (s *Scheduler) runCaptureAtRelease(ctx context.Context, action *models.ScheduledAction) error {
	var p models.Payment
	if err := s.DB.First(&p, action.PaymentID).Error; err != nil {
		return err
	}
	if p.Strategy != models.StrategyDestinationManualCapture ||
		p.Status != models.PaymentStatusPaid ||
		p.CaptureStatus != models.CaptureStatusPendingCapture {
		return nil
	}

	result, err := s.Processor.CaptureAuthorization(ctx, &p)
	if err != nil {
		var declined *ChargeDeclinedError
		if errors.As(err, &declined) {
			captureStatus := models.CaptureStatusCaptureFailed
			if declined.Code == AuthorizationExpiredCode {
				captureStatus = models.CaptureStatusExpired
			}
			return s.DB.Transaction(func(tx *gorm.DB) error {
				if err := tx.Model(&p).Updates(map[string]interface{}{
					"capture_status": captureStatus,
					"status":         models.PaymentStatusFailed,
					"payout_status":  models.PayoutStatusBlocked,
					"failure_reason": declined.Error(),
				}).Error; err != nil {
					return err
				}
				return tx.Model(&models.Booking{}).Where("id = ?", p.BookingID).
					Update("status", models.BookingStatusPaymentFailed).Error
			})
		}
		return err // transient; the action re-arms
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"capture_status": models.CaptureStatusCaptured,
			"payout_status":  models.PayoutStatusTransferred,
		}
		if result.ChargeID != "" {
			updates["processor_charge_id"] = result.ChargeID
		}
		if err := tx.Model(&p).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&models.Booking{}).Where("id = ?", p.BookingID).
			Update("status", models.BookingStatusCompleted).Error
	})
	if err != nil {
		return err
	}
	s.notifyPayment(ctx, &p, "trip_completed")
	return nil
}

// runReleasePayout transfers the host's share under the fallback strategy. A
// missing host capability blocks the payout (needs host action) rather than
// retrying; transfer failures are retryable errors.
func (s *Scheduler) runReleasePayout(ctx context.Context, action *models.ScheduledAction) error {
	var p models.Payment
	if err := s.DB.First(&p, action.PaymentID).Error; err != nil {
		return err
	}
	if p.Status != models.PaymentStatusPaid ||
		p.Strategy != models.StrategyPlatformTransferFallback {
		return nil
	}
	if p.PayoutStatus != models.PayoutStatusEligible && p.PayoutStatus != models.PayoutStatusError {
		return nil
	}
	if time.Now().Before(p.ReleaseAt) {
		if err := s.DB.Model(action).Update("run_at", p.ReleaseAt).Error; err != nil {
			return err
		}
		return errActionDeferred
	}

	var host models.User
	if err := s.DB.First(&host, p.HostID).Error; err != nil {
		return err
	}
	if !host.CanReceivePayouts() {
		return s.DB.Model(&p).Update("payout_status", models.PayoutStatusBlocked).Error
	}

	transferID, err := s.Processor.CreateHostTransfer(ctx, &p, &host, p.ReleaseAt.UTC().Format("20060102"))
	if err != nil {
		s.DB.Model(&p).Update("payout_status", models.PayoutStatusError)
		return err // retryable
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&p).Updates(map[string]interface{}{
			"payout_status": models.PayoutStatusTransferred,
			"transfer_id":   transferID,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Booking{}).Where("id = ?", p.BookingID).
			Update("status", models.BookingStatusCompleted).Error
	})
	if err != nil {
		return err
	}
	s.notifyPayment(ctx, &p, "payout_released")
	return nil
}

// runDepositAutoRefund refunds the deposit once the claim window closes,
// unless a dispute case has taken over the deposit's fate.
func (s *Scheduler) runDepositAutoRefund(ctx context.Context, action *models.ScheduledAction) error {
	var p models.Payment
	if err := s.DB.First(&p, action.PaymentID).Error; err != nil {
		return err
	}
	if p.DepositAmount <= 0 || p.DepositStatus != models.DepositStatusHeld {
		return nil
	}

	var openCases int64
	err := s.DB.Model(&models.DepositCase{}).
		Where("payment_id = ? AND status IN ?", p.ID, []models.DepositCaseStatus{
			models.DepositCaseStatusOpen,
			models.DepositCaseStatusUnderReview,
			models.DepositCaseStatusApproved,
			models.DepositCaseStatusPartiallyApproved,
		}).Count(&openCases).Error
	if err != nil {
		return err
	}
	if openCases > 0 {
		return s.DB.Model(&p).Update("deposit_status", models.DepositStatusCaseSubmitted).Error
	}

	if _, err := s.Processor.RefundDeposit(ctx, &p); err != nil {
		return err // transient; the action re-arms
	}
	// The refund notification moves the deposit to refunded; until then it is
	// pending so a second firing cannot refund twice.
	if err := s.DB.Model(&p).Update("deposit_status", models.DepositStatusRefundPending).Error; err != nil {
		return err
	}
	s.notifyPayment(ctx, &p, "deposit_refund_initiated")
	return nil
}

func (s *Scheduler) notifyPayment(ctx context.Context, p *models.Payment, event string) {
	if s.Events != nil {
		s.Events.notifyBookingUpdate(ctx, p.BookingID, event)
	}
}

// syntheticEventID builds a deterministic event id for facts the platform
// derives itself, so a later processor notification for the same fact is
// deduped by the normal path.
func syntheticEventID(kind string, paymentID uint, suffix string) string {
	id := fmt.Sprintf("local-%s-%d", kind, paymentID)
	if suffix != "" {
		id += "-" + suffix
	}
	return id
}
