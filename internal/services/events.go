package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"gorm.io/gorm"
)

// Outcome is the structured result of applying an external payment fact.
// Event ingestion and the reconciliation sweep are invoked speculatively, so
// "fact already applied" and "not yet applicable" are reported as benign
// no-ops rather than errors; callers branch on this routinely.
type Outcome struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
}

func Applied(reason string) Outcome {
	return Outcome{Applied: true, Reason: reason}
}

func Skipped(reason string) Outcome {
	return Outcome{Applied: false, Reason: reason}
}

// MethodCollectedInfo carries the processor ids learned when a setup flow
// completes.
type MethodCollectedInfo struct {
	CustomerID string
	MethodID   string
}

// PaymentEvents applies processor-pushed facts to payment and booking state.
// Every handler is idempotent: the incoming event id is claimed with a
// compare-and-set on last_processed_event_id inside the same transaction as
// the state change, so reapplying the same event id is a no-op and the
// webhook, redirect-confirm and sweep paths can all race safely.
type PaymentEvents struct {
	DB        *gorm.DB
	Processor PaymentProcessor
	Scheduler *Scheduler
	Hub       *Hub
}

func NewPaymentEvents(db *gorm.DB, processor PaymentProcessor, scheduler *Scheduler, hub *Hub) *PaymentEvents {
	return &PaymentEvents{DB: db, Processor: processor, Scheduler: scheduler, Hub: hub}
}

// withPayment runs fn inside a transaction after claiming eventID on the
// payment row. A duplicate or concurrently-applied event id short-circuits to
// a skipped outcome without side effects.
func (e *PaymentEvents) withPayment(eventID string, paymentID uint, fn func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error)) (Outcome, error) {
	var out Outcome
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := tx.First(&p, paymentID).Error; err != nil {
			return err
		}
		if eventID != "" {
			if p.LastProcessedEventID == eventID {
				out = Skipped("event already processed")
				return nil
			}
			claim := tx.Model(&models.Payment{}).
				Where("id = ? AND last_processed_event_id = ?", p.ID, p.LastProcessedEventID).
				Update("last_processed_event_id", eventID)
			if claim.Error != nil {
				return claim.Error
			}
			if claim.RowsAffected == 0 {
				out = Skipped("event claimed by concurrent handler")
				return nil
			}
			p.LastProcessedEventID = eventID
		}

		var b models.Booking
		if err := tx.First(&b, p.BookingID).Error; err != nil {
			return err
		}

		o, err := fn(tx, &p, &b)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// ApplyMethodCollected handles a completed method-setup flow. The overlap
// guard runs again here because time passed since intake; a late booking that
// lost the race is compensated by cancelling both records.
func (e *PaymentEvents) ApplyMethodCollected(ctx context.Context, eventID string, paymentID uint, info MethodCollectedInfo) (Outcome, error) {
	var notify *models.Booking
	out, err := e.withPayment(eventID, paymentID, func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error) {
		if p.Status != models.PaymentStatusMethodCollectionPending {
			return Skipped("payment not awaiting method collection"), nil
		}

		conflict, err := FindConflictingBooking(tx, p.CarID, b.StartDate, b.EndDate, b.ID)
		if err != nil {
			return Outcome{}, err
		}
		if conflict != nil {
			if err := cancelBookingAndPayment(tx, b, p, "dates were booked by another renter while the payment method was being collected"); err != nil {
				return Outcome{}, err
			}
			if err := e.Scheduler.CancelPending(tx, p.ID, ""); err != nil {
				return Outcome{}, err
			}
			notify = b
			return Applied("conflicting booking won the race; booking and payment cancelled"), nil
		}

		updates := map[string]interface{}{
			"status":                models.PaymentStatusMethodSaved,
			"processor_customer_id": info.CustomerID,
			"processor_method_id":   info.MethodID,
		}
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return Outcome{}, err
		}
		if err := tx.Model(b).Update("status", models.BookingStatusPaymentPending).Error; err != nil {
			return Outcome{}, err
		}

		runAt := p.PaymentDueAt
		if runAt.Before(time.Now()) {
			runAt = time.Now()
		}
		if err := e.Scheduler.Schedule(tx, p.ID, models.ActionAutoCharge, runAt); err != nil {
			return Outcome{}, err
		}
		notify = b
		return Applied("payment method saved; auto-charge scheduled"), nil
	})
	if err == nil && out.Applied && notify != nil {
		e.notifyBookingUpdate(ctx, notify.ID, "payment_method_saved")
	}
	return out, err
}

// ApplyPaymentSucceeded handles captured/authorized funds. Under the
// manual-capture strategy the funds stay authorized until trip end, so a
// capture action is scheduled instead of a payout release.
func (e *PaymentEvents) ApplyPaymentSucceeded(ctx context.Context, eventID string, paymentID uint, info ChargeResult) (Outcome, error) {
	var notify *models.Booking
	out, err := e.withPayment(eventID, paymentID, func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error) {
		if p.Status == models.PaymentStatusPaid {
			return Skipped("payment already paid"), nil
		}
		if !models.CanTransitionPayment(p.Status, models.PaymentStatusPaid) {
			return Skipped(fmt.Sprintf("payment in %s cannot become paid", p.Status)), nil
		}

		updates := map[string]interface{}{
			"status":         models.PaymentStatusPaid,
			"failure_reason": "",
		}
		if info.IntentID != "" {
			updates["processor_intent_id"] = info.IntentID
		}
		if info.ChargeID != "" {
			updates["processor_charge_id"] = info.ChargeID
		}
		if info.CustomerID != "" {
			updates["processor_customer_id"] = info.CustomerID
		}
		if info.MethodID != "" {
			updates["processor_method_id"] = info.MethodID
		}

		if p.DepositAmount > 0 {
			updates["deposit_status"] = models.DepositStatusHeld
		}

		if p.Strategy == models.StrategyDestinationManualCapture {
			updates["capture_status"] = models.CaptureStatusPendingCapture
			if err := e.Scheduler.Schedule(tx, p.ID, models.ActionCaptureAtRelease, p.ReleaseAt); err != nil {
				return Outcome{}, err
			}
		} else {
			updates["capture_status"] = models.CaptureStatusNotRequired
			updates["payout_status"] = models.PayoutStatusEligible
			if err := e.Scheduler.Schedule(tx, p.ID, models.ActionReleasePayout, p.ReleaseAt); err != nil {
				return Outcome{}, err
			}
		}
		if p.DepositAmount > 0 && p.DepositClaimWindowEndsAt != nil {
			if err := e.Scheduler.Schedule(tx, p.ID, models.ActionDepositAutoRefund, *p.DepositClaimWindowEndsAt); err != nil {
				return Outcome{}, err
			}
		}

		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return Outcome{}, err
		}
		if err := tx.Model(b).Update("status", models.BookingStatusConfirmed).Error; err != nil {
			return Outcome{}, err
		}
		notify = b
		return Applied("payment recorded as paid; booking confirmed"), nil
	})
	if err == nil && out.Applied && notify != nil {
		e.notifyBookingUpdate(ctx, notify.ID, "payment_confirmed")
	}
	return out, err
}

// ApplyPaymentFailed handles a declined or failed charge. A failure before the
// due date on a saved method is transient bookkeeping only, because the
// scheduled charge at the due date may still succeed.
func (e *PaymentEvents) ApplyPaymentFailed(ctx context.Context, eventID string, paymentID uint, reason string) (Outcome, error) {
	var notify *models.Booking
	out, err := e.withPayment(eventID, paymentID, func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error) {
		switch p.Status {
		case models.PaymentStatusPaid, models.PaymentStatusCancelled,
			models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded,
			models.PaymentStatusDisputed:
			return Skipped("payment already settled"), nil
		case models.PaymentStatusFailed:
			return Skipped("payment already failed"), nil
		}

		if p.Status == models.PaymentStatusMethodSaved && time.Now().Before(p.PaymentDueAt) {
			if err := tx.Model(p).Update("failure_reason", reason).Error; err != nil {
				return Outcome{}, err
			}
			return Applied("pre-due failure recorded; scheduled charge will retry"), nil
		}

		if err := tx.Model(p).Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"payout_status":  models.PayoutStatusBlocked,
			"failure_reason": reason,
		}).Error; err != nil {
			return Outcome{}, err
		}

		bookingStatus := models.BookingStatusPaymentFailed
		if time.Now().After(p.PaymentDueAt) && p.ProcessorMethodID == "" {
			bookingStatus = models.BookingStatusCancelled
		}
		if err := tx.Model(b).Update("status", bookingStatus).Error; err != nil {
			return Outcome{}, err
		}
		notify = b
		return Applied("payment failed"), nil
	})
	if err == nil && out.Applied && notify != nil {
		e.notifyBookingUpdate(ctx, notify.ID, "payment_failed")
	}
	return out, err
}

// ApplyChargeRefunded classifies a refund. A refund tagged (or sized) as the
// deposit sub-amount releases only the deposit; anything else refunds the
// rental and blocks any pending payout.
func (e *PaymentEvents) ApplyChargeRefunded(ctx context.Context, eventID string, paymentID uint, amountRefunded float64, purpose string) (Outcome, error) {
	var notify *models.Booking
	out, err := e.withPayment(eventID, paymentID, func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error) {
		if isDepositRefund(p, amountRefunded, purpose) {
			if p.DepositStatus == models.DepositStatusRefunded {
				return Skipped("deposit already refunded"), nil
			}
			if err := tx.Model(p).Update("deposit_status", models.DepositStatusRefunded).Error; err != nil {
				return Outcome{}, err
			}
			notify = b
			return Applied("deposit refund recorded"), nil
		}

		target := models.PaymentStatusPartiallyRefunded
		if amountRefunded >= p.RentalAmount+p.DepositAmount-0.001 {
			target = models.PaymentStatusRefunded
		}
		if !models.CanTransitionPayment(p.Status, target) {
			return Skipped(fmt.Sprintf("payment in %s cannot become %s", p.Status, target)), nil
		}

		updates := map[string]interface{}{"status": target}
		if p.PayoutStatus == models.PayoutStatusEligible || p.PayoutStatus == models.PayoutStatusError {
			updates["payout_status"] = models.PayoutStatusBlocked
		}
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return Outcome{}, err
		}
		if err := e.Scheduler.CancelPending(tx, p.ID, models.ActionReleasePayout); err != nil {
			return Outcome{}, err
		}
		notify = b
		return Applied(fmt.Sprintf("payment marked %s", target)), nil
	})
	if err == nil && out.Applied && notify != nil {
		e.notifyBookingUpdate(ctx, notify.ID, "payment_refunded")
	}
	return out, err
}

// ApplyDisputeCreated marks the payment disputed and claws back any transfer
// already issued to the host.
func (e *PaymentEvents) ApplyDisputeCreated(ctx context.Context, eventID string, paymentID uint) (Outcome, error) {
	var reverse *models.Payment
	out, err := e.withPayment(eventID, paymentID, func(tx *gorm.DB, p *models.Payment, b *models.Booking) (Outcome, error) {
		if p.Status == models.PaymentStatusDisputed {
			return Skipped("payment already disputed"), nil
		}
		if !models.CanTransitionPayment(p.Status, models.PaymentStatusDisputed) {
			return Skipped(fmt.Sprintf("payment in %s cannot become disputed", p.Status)), nil
		}

		updates := map[string]interface{}{"status": models.PaymentStatusDisputed}
		if p.PayoutStatus == models.PayoutStatusEligible || p.PayoutStatus == models.PayoutStatusError {
			updates["payout_status"] = models.PayoutStatusBlocked
		}
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return Outcome{}, err
		}
		if err := e.Scheduler.CancelPending(tx, p.ID, models.ActionReleasePayout); err != nil {
			return Outcome{}, err
		}
		if p.PayoutStatus == models.PayoutStatusTransferred && p.TransferID != "" {
			reverse = p
		}
		return Applied("payment marked disputed"), nil
	})
	if err != nil || !out.Applied {
		return out, err
	}

	// The reversal is an outbound call, so it runs after the state change
	// committed; its result is recorded in a follow-up write.
	if reverse != nil {
		if _, revErr := e.Processor.ReverseHostTransfer(ctx, reverse); revErr != nil {
			log.Printf("Failed to reverse host transfer for payment %d: %v", reverse.ID, revErr)
			e.DB.Model(&models.Payment{}).Where("id = ?", reverse.ID).
				Update("payout_status", models.PayoutStatusError)
		} else {
			e.DB.Model(&models.Payment{}).Where("id = ?", reverse.ID).
				Update("payout_status", models.PayoutStatusReversed)
		}
	}
	return out, nil
}

// ApplyAccountUpdated syncs a host's payout-capability flags from the
// processor's authoritative account object.
func (e *PaymentEvents) ApplyAccountUpdated(ctx context.Context, info AccountInfo) (Outcome, error) {
	res := e.DB.Model(&models.User{}).
		Where("processor_account_id = ?", info.ID).
		Updates(map[string]interface{}{
			"charges_enabled":   info.ChargesEnabled,
			"payouts_enabled":   info.PayoutsEnabled,
			"details_submitted": info.DetailsSubmitted,
		})
	if res.Error != nil {
		return Outcome{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Skipped("no host linked to this processor account"), nil
	}
	return Applied("host payout capability synced"), nil
}

// FindPaymentBySession resolves a payment from a processor session id.
func (e *PaymentEvents) FindPaymentBySession(sessionID string) (*models.Payment, error) {
	var p models.Payment
	if err := e.DB.Where("processor_session_id = ?", sessionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPaymentByIntent resolves a payment from a processor payment-intent id.
func (e *PaymentEvents) FindPaymentByIntent(intentID string) (*models.Payment, error) {
	var p models.Payment
	if err := e.DB.Where("processor_intent_id = ?", intentID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPaymentByMetadataID resolves a payment from the id embedded in session
// or intent metadata.
func (e *PaymentEvents) FindPaymentByMetadataID(idStr string) (*models.Payment, error) {
	if idStr == "" {
		return nil, gorm.ErrRecordNotFound
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	var p models.Payment
	if err := e.DB.First(&p, uint(id)).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *PaymentEvents) notifyBookingUpdate(ctx context.Context, bookingID uint, event string) {
	var b models.Booking
	if err := e.DB.First(&b, bookingID).Error; err != nil {
		return
	}
	InvalidateBookingDetails(ctx, b.ID)
	if err := PublishBookingUpdate(ctx, b.ID, string(b.Status), map[string]interface{}{"event": event}); err != nil {
		log.Printf("Failed to publish booking update for booking %d: %v", b.ID, err)
	}
	if e.Hub != nil {
		e.Hub.SendBookingUpdate(b.RenterID, BookingUpdate{BookingID: b.ID, Status: string(b.Status), Event: event})
		var car models.Car
		if err := e.DB.First(&car, b.CarID).Error; err == nil {
			e.Hub.SendBookingUpdate(car.HostID, BookingUpdate{BookingID: b.ID, Status: string(b.Status), Event: event})
		}
	}
	go SendBookingPush(context.Background(), e.DB, &b, event)
}

// isDepositRefund classifies a refund as a deposit release. An explicit
// purpose tag wins; absent a tag, exact amount equality with the deposit
// sub-amount is the remaining heuristic.
func isDepositRefund(p *models.Payment, amount float64, purpose string) bool {
	if p.DepositAmount <= 0 {
		return false
	}
	if purpose != "" {
		return purpose == "deposit"
	}
	return math.Abs(amount-p.DepositAmount) < 0.001
}

// cancelBookingAndPayment is the compensating transaction used when a later
// check invalidates records that passed an earlier one.
func cancelBookingAndPayment(tx *gorm.DB, b *models.Booking, p *models.Payment, reason string) error {
	if err := tx.Model(p).Updates(map[string]interface{}{
		"status":         models.PaymentStatusCancelled,
		"payout_status":  models.PayoutStatusBlocked,
		"failure_reason": reason,
	}).Error; err != nil {
		return err
	}
	return tx.Model(b).Update("status", models.BookingStatusCancelled).Error
}
