package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) dueAction(t *testing.T, action models.ScheduledActionType) models.ScheduledAction {
	t.Helper()
	row := models.ScheduledAction{
		PaymentID: f.payment.ID,
		Action:    action,
		RunAt:     time.Now().Add(-time.Minute),
		Status:    models.ScheduledActionPending,
	}
	require.NoError(t, f.db.Create(&row).Error)
	return row
}

func (f *fixture) reloadAction(t *testing.T, id uint) models.ScheduledAction {
	t.Helper()
	var a models.ScheduledAction
	require.NoError(t, f.db.First(&a, id).Error)
	return a
}

func TestScheduleDeduplicates(t *testing.T) {
	f := newFixture(t)
	runAt := time.Now().Add(time.Hour)

	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionAutoCharge, runAt))
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionAutoCharge, runAt))

	actions := f.pendingActions(t, models.ActionAutoCharge)
	require.Len(t, actions, 1)

	// A different run time moves the existing row instead of adding one.
	later := runAt.Add(time.Hour)
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionAutoCharge, later))
	actions = f.pendingActions(t, models.ActionAutoCharge)
	require.Len(t, actions, 1)
	assert.WithinDuration(t, later, actions[0].RunAt, time.Second)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	runAt := time.Now().Add(time.Hour)
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionAutoCharge, runAt))
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionReleasePayout, runAt))

	require.NoError(t, f.scheduler.CancelPending(f.db, f.payment.ID, models.ActionReleasePayout))
	assert.Len(t, f.pendingActions(t, models.ActionAutoCharge), 1)
	assert.Empty(t, f.pendingActions(t, models.ActionReleasePayout))

	require.NoError(t, f.scheduler.CancelPending(f.db, f.payment.ID, ""))
	assert.Empty(t, f.pendingActions(t, ""))
}

func TestRunAutoChargeSuccess(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":                models.PaymentStatusMethodSaved,
		"processor_customer_id": "cus_1",
		"processor_method_id":   "pm_1",
		"payment_due_at":        time.Now().Add(-time.Minute),
	})
	action := f.dueAction(t, models.ActionAutoCharge)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 1, f.processor.chargeCalls)
	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.Equal(t, "pi_fake", p.ProcessorIntentID)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status)
	assert.Equal(t, models.BookingStatusConfirmed, f.reloadBooking(t).Status)
}

func TestRunAutoChargeDeclined(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusMethodSaved,
		"processor_method_id": "pm_1",
		"payment_due_at":      time.Now().Add(-time.Minute),
	})
	f.processor.chargeErr = &ChargeDeclinedError{Code: "card_declined", Message: "insufficient funds"}
	action := f.dueAction(t, models.ActionAutoCharge)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, "card_declined")
	assert.Equal(t, models.BookingStatusPaymentFailed, f.reloadBooking(t).Status)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status,
		"a decline is a final outcome for this firing, not a retry")
}

func TestRunAutoChargeWithoutMethodFails(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusMethodSaved,
		"payment_due_at": time.Now().Add(-time.Minute),
	})
	f.dueAction(t, models.ActionAutoCharge)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.chargeCalls)
	assert.Equal(t, models.PaymentStatusFailed, f.reloadPayment(t).Status)
}

func TestRunAutoChargeTransientErrorRearms(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusMethodSaved,
		"processor_method_id": "pm_1",
		"payment_due_at":      time.Now().Add(-time.Minute),
	})
	f.processor.chargeErr = errors.New("processor timeout")
	action := f.dueAction(t, models.ActionAutoCharge)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	got := f.reloadAction(t, action.ID)
	assert.Equal(t, models.ScheduledActionPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.RunAt.After(time.Now()), "re-armed into the future")
	assert.Contains(t, got.LastError, "timeout")
	assert.Equal(t, models.PaymentStatusMethodSaved, f.reloadPayment(t).Status)
}

func TestRunAutoChargeGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusMethodSaved,
		"processor_method_id": "pm_1",
		"payment_due_at":      time.Now().Add(-time.Minute),
	})
	f.processor.chargeErr = errors.New("processor down")
	action := f.dueAction(t, models.ActionAutoCharge)
	require.NoError(t, f.db.Model(&action).Update("attempts", schedulerMaxAttempts-1).Error)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	got := f.reloadAction(t, action.ID)
	assert.Equal(t, models.ScheduledActionFailed, got.Status)
	assert.Contains(t, got.LastError, "processor down")
}

func TestRunCaptureAtReleaseSuccess(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusPaid,
		"capture_status":      models.CaptureStatusPendingCapture,
		"processor_intent_id": "pi_1",
	})
	f.setBooking(t, map[string]interface{}{"status": models.BookingStatusInProgress})
	action := f.dueAction(t, models.ActionCaptureAtRelease)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 1, f.processor.captureCalls)
	p := f.reloadPayment(t)
	assert.Equal(t, models.CaptureStatusCaptured, p.CaptureStatus)
	assert.Equal(t, models.PayoutStatusTransferred, p.PayoutStatus,
		"capture is the transfer under destination charges")
	assert.Equal(t, "ch_captured", p.ProcessorChargeID)
	assert.Equal(t, models.BookingStatusCompleted, f.reloadBooking(t).Status)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status)
	assert.Equal(t, 0, f.processor.transferCalls, "no separate transfer happens")
}

func TestRunCaptureAtReleaseExpiredAuthorization(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusPaid,
		"capture_status":      models.CaptureStatusPendingCapture,
		"processor_intent_id": "pi_1",
	})
	f.processor.captureErr = &ChargeDeclinedError{Code: AuthorizationExpiredCode, Message: "hold lapsed"}
	f.dueAction(t, models.ActionCaptureAtRelease)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	p := f.reloadPayment(t)
	assert.Equal(t, models.CaptureStatusExpired, p.CaptureStatus)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, models.BookingStatusPaymentFailed, f.reloadBooking(t).Status)
}

func TestRunCaptureAtReleaseSkipsWrongState(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusRefunded,
		"capture_status": models.CaptureStatusPendingCapture,
	})
	action := f.dueAction(t, models.ActionCaptureAtRelease)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.captureCalls)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status)
}

func TestRunReleasePayoutSuccess(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
		"release_at":    time.Now().Add(-time.Minute),
	})
	action := f.dueAction(t, models.ActionReleasePayout)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 1, f.processor.transferCalls)
	p := f.reloadPayment(t)
	assert.Equal(t, models.PayoutStatusTransferred, p.PayoutStatus)
	assert.Equal(t, "tr_fake", p.TransferID)
	assert.Equal(t, models.BookingStatusCompleted, f.reloadBooking(t).Status)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status)
}

func TestRunReleasePayoutBlocksWhenHostNotPayable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.host.ID).
		Update("payouts_enabled", false).Error)
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
		"release_at":    time.Now().Add(-time.Minute),
	})
	f.dueAction(t, models.ActionReleasePayout)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.transferCalls)
	assert.Equal(t, models.PayoutStatusBlocked, f.reloadPayment(t).PayoutStatus,
		"needs host action, not a retry loop")
}

func TestRunReleasePayoutTransferErrorRetries(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
		"release_at":    time.Now().Add(-time.Minute),
	})
	f.processor.transferErr = errors.New("transfer rate limited")
	action := f.dueAction(t, models.ActionReleasePayout)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, models.PayoutStatusError, f.reloadPayment(t).PayoutStatus)
	got := f.reloadAction(t, action.ID)
	assert.Equal(t, models.ScheduledActionPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestRunReleasePayoutBeforeReleaseTimeDefers(t *testing.T) {
	f := newFixture(t)
	releaseAt := time.Now().Add(2 * time.Hour)
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
		"release_at":    releaseAt,
	})
	action := f.dueAction(t, models.ActionReleasePayout)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.transferCalls)
	got := f.reloadAction(t, action.ID)
	assert.Equal(t, models.ScheduledActionPending, got.Status)
	assert.WithinDuration(t, releaseAt, got.RunAt, time.Second, "pushed out to the release instant")
	assert.Equal(t, 0, got.Attempts, "waiting for the release instant is not a failed attempt")
}

func TestRunDepositAutoRefund(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusPaid,
		"deposit_status":      models.DepositStatusHeld,
		"processor_intent_id": "pi_1",
	})
	action := f.dueAction(t, models.ActionDepositAutoRefund)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 1, f.processor.refundCalls)
	assert.Equal(t, models.DepositStatusRefundPending, f.reloadPayment(t).DepositStatus)
	assert.Equal(t, models.ScheduledActionDone, f.reloadAction(t, action.ID).Status)
}

func TestRunDepositAutoRefundDefersToOpenCase(t *testing.T) {
	f := newFixture(t)
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusPaid,
		"deposit_status": models.DepositStatusHeld,
	})
	require.NoError(t, f.db.Create(&models.DepositCase{
		PaymentID: f.payment.ID, BookingID: f.booking.ID,
		HostID: f.host.ID, RenterID: f.renter.ID,
		RequestedAmount: 10000, Status: models.DepositCaseStatusOpen, Reason: "scratched bumper",
	}).Error)
	f.dueAction(t, models.ActionDepositAutoRefund)

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.refundCalls)
	assert.Equal(t, models.DepositStatusCaseSubmitted, f.reloadPayment(t).DepositStatus)
}

func TestRunDueActionsIgnoresFutureActions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionAutoCharge, time.Now().Add(time.Hour)))

	require.NoError(t, f.scheduler.RunDueActions(context.Background()))

	assert.Equal(t, 0, f.processor.chargeCalls)
	assert.Len(t, f.pendingActions(t, models.ActionAutoCharge), 1)
}
