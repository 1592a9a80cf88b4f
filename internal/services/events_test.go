package services

import (
	"context"
	"testing"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMethodCollected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.events.ApplyMethodCollected(ctx, "evt_setup_1", f.payment.ID, MethodCollectedInfo{
		CustomerID: "cus_1", MethodID: "pm_1",
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusMethodSaved, p.Status)
	assert.Equal(t, "cus_1", p.ProcessorCustomerID)
	assert.Equal(t, "pm_1", p.ProcessorMethodID)
	assert.Equal(t, "evt_setup_1", p.LastProcessedEventID)

	assert.Equal(t, models.BookingStatusPaymentPending, f.reloadBooking(t).Status)

	actions := f.pendingActions(t, models.ActionAutoCharge)
	require.Len(t, actions, 1)
	assert.WithinDuration(t, p.PaymentDueAt, actions[0].RunAt, time.Second)
}

func TestApplyMethodCollectedDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info := MethodCollectedInfo{CustomerID: "cus_1", MethodID: "pm_1"}

	out, err := f.events.ApplyMethodCollected(ctx, "evt_setup_1", f.payment.ID, info)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	out, err = f.events.ApplyMethodCollected(ctx, "evt_setup_1", f.payment.ID, info)
	require.NoError(t, err)
	assert.False(t, out.Applied)

	assert.Len(t, f.pendingActions(t, models.ActionAutoCharge), 1)
}

func TestApplyMethodCollectedLosesOverlapRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A competing booking confirmed on the same dates while the method was
	// being collected.
	winner := models.Booking{
		CarID: f.car.ID, RenterID: f.renter.ID,
		StartDate: f.booking.StartDate, EndDate: f.booking.EndDate,
		Status: models.BookingStatusConfirmed, TotalPrice: 35000,
	}
	require.NoError(t, f.db.Create(&winner).Error)

	out, err := f.events.ApplyMethodCollected(ctx, "evt_setup_1", f.payment.ID, MethodCollectedInfo{
		CustomerID: "cus_1", MethodID: "pm_1",
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	assert.Equal(t, models.PaymentStatusCancelled, f.reloadPayment(t).Status)
	assert.Equal(t, models.BookingStatusCancelled, f.reloadBooking(t).Status)
	assert.Empty(t, f.pendingActions(t, ""))
}

func TestApplyPaymentSucceededManualCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{"status": models.PaymentStatusMethodSaved})

	out, err := f.events.ApplyPaymentSucceeded(ctx, "evt_paid_1", f.payment.ID, ChargeResult{
		IntentID: "pi_1", ChargeID: "ch_1",
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.Equal(t, models.CaptureStatusPendingCapture, p.CaptureStatus)
	assert.Equal(t, models.PayoutStatusBlocked, p.PayoutStatus, "payout waits for capture under manual capture")
	assert.Equal(t, models.DepositStatusHeld, p.DepositStatus)
	assert.Equal(t, "pi_1", p.ProcessorIntentID)

	assert.Equal(t, models.BookingStatusConfirmed, f.reloadBooking(t).Status)
	assert.Len(t, f.pendingActions(t, models.ActionCaptureAtRelease), 1)
	assert.Len(t, f.pendingActions(t, models.ActionDepositAutoRefund), 1)
	assert.Empty(t, f.pendingActions(t, models.ActionReleasePayout))
}

func TestApplyPaymentSucceededFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":   models.PaymentStatusCheckoutCreated,
		"strategy": models.StrategyPlatformTransferFallback,
	})

	out, err := f.events.ApplyPaymentSucceeded(ctx, "evt_paid_1", f.payment.ID, ChargeResult{
		IntentID: "pi_1", ChargeID: "ch_1",
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.Equal(t, models.CaptureStatusNotRequired, p.CaptureStatus)
	assert.Equal(t, models.PayoutStatusEligible, p.PayoutStatus)

	actions := f.pendingActions(t, models.ActionReleasePayout)
	require.Len(t, actions, 1)
	assert.WithinDuration(t, p.ReleaseAt, actions[0].RunAt, time.Second)
}

func TestApplyPaymentSucceededAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{"status": models.PaymentStatusPaid})

	out, err := f.events.ApplyPaymentSucceeded(ctx, "evt_paid_2", f.payment.ID, ChargeResult{IntentID: "pi_2"})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Empty(t, f.pendingActions(t, ""))
}

func TestApplyPaymentFailedBeforeDueDateIsTransient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":              models.PaymentStatusMethodSaved,
		"processor_method_id": "pm_1",
	})

	out, err := f.events.ApplyPaymentFailed(ctx, "evt_fail_1", f.payment.ID, "card declined")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusMethodSaved, p.Status, "still retried at the due date")
	assert.Equal(t, "card declined", p.FailureReason)
}

func TestApplyPaymentFailedPastDueWithoutMethodCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusCheckoutCreated,
		"payment_due_at": time.Now().Add(-time.Hour),
	})

	out, err := f.events.ApplyPaymentFailed(ctx, "evt_fail_1", f.payment.ID, "checkout session expired")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	assert.Equal(t, models.PaymentStatusFailed, f.reloadPayment(t).Status)
	assert.Equal(t, models.BookingStatusCancelled, f.reloadBooking(t).Status)
}

func TestApplyChargeRefundedDepositOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusPaid,
		"deposit_status": models.DepositStatusHeld,
	})

	out, err := f.events.ApplyChargeRefunded(ctx, "evt_refund_1", f.payment.ID, 15000, "deposit")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.DepositStatusRefunded, p.DepositStatus)
	assert.Equal(t, models.PaymentStatusPaid, p.Status, "rental money untouched by a deposit refund")
}

func TestApplyChargeRefundedAmountMatchesDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":         models.PaymentStatusPaid,
		"deposit_status": models.DepositStatusHeld,
	})

	// No purpose tag; classification falls back to amount equality.
	out, err := f.events.ApplyChargeRefunded(ctx, "evt_refund_1", f.payment.ID, 15000, "")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, models.DepositStatusRefunded, f.reloadPayment(t).DepositStatus)
}

func TestApplyChargeRefundedFullBlocksPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
	})
	require.NoError(t, f.scheduler.Schedule(f.db, f.payment.ID, models.ActionReleasePayout, time.Now().Add(time.Hour)))

	out, err := f.events.ApplyChargeRefunded(ctx, "evt_refund_1", f.payment.ID, 35000, "")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, models.PayoutStatusBlocked, p.PayoutStatus)
	assert.Empty(t, f.pendingActions(t, models.ActionReleasePayout))
}

func TestApplyChargeRefundedPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{"status": models.PaymentStatusPaid})

	out, err := f.events.ApplyChargeRefunded(ctx, "evt_refund_1", f.payment.ID, 8000, "")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, f.reloadPayment(t).Status)
}

func TestApplyChargeRefundedBeforePaidSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{"status": models.PaymentStatusMethodSaved})

	out, err := f.events.ApplyChargeRefunded(ctx, "evt_refund_1", f.payment.ID, 35000, "")
	require.NoError(t, err)
	assert.False(t, out.Applied, "out-of-order refund cannot apply before payment")
	assert.Equal(t, models.PaymentStatusMethodSaved, f.reloadPayment(t).Status)
}

func TestApplyDisputeCreatedReversesIssuedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusTransferred,
		"transfer_id":   "tr_1",
	})

	out, err := f.events.ApplyDisputeCreated(ctx, "evt_dispute_1", f.payment.ID)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PaymentStatusDisputed, p.Status)
	assert.Equal(t, models.PayoutStatusReversed, p.PayoutStatus)
	assert.Equal(t, 1, f.processor.reversalCalls)
}

func TestApplyDisputeCreatedBeforePayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPayment(t, map[string]interface{}{
		"status":        models.PaymentStatusPaid,
		"strategy":      models.StrategyPlatformTransferFallback,
		"payout_status": models.PayoutStatusEligible,
	})

	out, err := f.events.ApplyDisputeCreated(ctx, "evt_dispute_1", f.payment.ID)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	p := f.reloadPayment(t)
	assert.Equal(t, models.PayoutStatusBlocked, p.PayoutStatus)
	assert.Equal(t, 0, f.processor.reversalCalls, "nothing to reverse before a transfer")
}

func TestApplyAccountUpdated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.events.ApplyAccountUpdated(ctx, AccountInfo{
		ID: "acct_fake", ChargesEnabled: false, PayoutsEnabled: false, DetailsSubmitted: true,
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	var host models.User
	require.NoError(t, f.db.First(&host, f.host.ID).Error)
	assert.False(t, host.PayoutsEnabled)
	assert.False(t, host.ChargesEnabled)

	out, err = f.events.ApplyAccountUpdated(ctx, AccountInfo{ID: "acct_unknown"})
	require.NoError(t, err)
	assert.False(t, out.Applied)
}
