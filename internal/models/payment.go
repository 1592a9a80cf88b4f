package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentStrategy string

const (
	// StrategyDestinationManualCapture authorizes funds at booking time and
	// captures straight to the host's account at trip end. Only usable for
	// short trips because authorization holds expire.
	StrategyDestinationManualCapture PaymentStrategy = "destination_manual_capture"
	// StrategyPlatformTransferFallback captures immediately at payment time;
	// the platform transfers the host's share separately after the trip.
	StrategyPlatformTransferFallback PaymentStrategy = "platform_transfer_fallback"
)

type PaymentStatus string

const (
	PaymentStatusMethodCollectionPending PaymentStatus = "method_collection_pending"
	PaymentStatusMethodSaved             PaymentStatus = "method_saved"
	PaymentStatusCheckoutCreated         PaymentStatus = "checkout_created"
	PaymentStatusPaid                    PaymentStatus = "paid"
	PaymentStatusFailed                  PaymentStatus = "failed"
	PaymentStatusCancelled               PaymentStatus = "cancelled"
	PaymentStatusDisputed                PaymentStatus = "disputed"
	PaymentStatusRefunded                PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded       PaymentStatus = "partially_refunded"
)

type CaptureStatus string

const (
	CaptureStatusNotRequired    CaptureStatus = "not_required"
	CaptureStatusPendingCapture CaptureStatus = "pending_capture"
	CaptureStatusCaptured       CaptureStatus = "captured"
	CaptureStatusCaptureFailed  CaptureStatus = "capture_failed"
	CaptureStatusExpired        CaptureStatus = "expired"
)

type DepositStatus string

const (
	DepositStatusNotApplicable     DepositStatus = "not_applicable"
	DepositStatusHeld              DepositStatus = "held"
	DepositStatusCaseSubmitted     DepositStatus = "case_submitted"
	DepositStatusRefundPending     DepositStatus = "refund_pending"
	DepositStatusRefunded          DepositStatus = "refunded"
	DepositStatusPartiallyRefunded DepositStatus = "partially_refunded"
	DepositStatusRetained          DepositStatus = "retained"
)

type PayoutStatus string

const (
	PayoutStatusBlocked     PayoutStatus = "blocked"
	PayoutStatusEligible    PayoutStatus = "eligible"
	PayoutStatusTransferred PayoutStatus = "transferred"
	PayoutStatusReversed    PayoutStatus = "reversed"
	PayoutStatusError       PayoutStatus = "error"
)

// allowedPaymentTransitions keeps payment status monotonic: once paid,
// cancelled or failed there is no way back into a pending state. A failed
// payment may still become paid because the due-date retry can succeed.
var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusMethodCollectionPending: {
		PaymentStatusMethodSaved,
		PaymentStatusCheckoutCreated,
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	PaymentStatusCheckoutCreated: {
		PaymentStatusMethodSaved,
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	PaymentStatusMethodSaved: {
		PaymentStatusPaid,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	PaymentStatusFailed: {
		PaymentStatusPaid,
		PaymentStatusCancelled,
	},
	PaymentStatusPaid: {
		PaymentStatusDisputed,
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
		PaymentStatusFailed, // capture of a held authorization can still fail
	},
	PaymentStatusDisputed: {
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusRefunded,
		PaymentStatusDisputed,
	},
	PaymentStatusRefunded:  {},
	PaymentStatusCancelled: {},
}

// CanTransitionPayment reports whether a payment status change is allowed.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowedPaymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further charging activity is expected.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payment is the money-movement record for exactly one booking. It is the
// single source of truth for money state; booking status is only ever updated
// in the same transaction that updates the payment.
type Payment struct {
	gorm.Model
	BookingID uint `json:"bookingId" gorm:"not null;index"`
	CarID     uint `json:"carId" gorm:"not null"`
	RenterID  uint `json:"renterId" gorm:"not null;index"`
	HostID    uint `json:"hostId" gorm:"not null;index"`

	ProcessorSessionID  string `json:"-" gorm:"index"`
	ProcessorCustomerID string `json:"-"`
	ProcessorIntentID   string `json:"-" gorm:"index"`
	ProcessorChargeID   string `json:"-"`
	ProcessorMethodID   string `json:"-"`
	TransferID          string `json:"-"`

	Currency string          `json:"currency" gorm:"not null;default:'kes'"`
	Strategy PaymentStrategy `json:"paymentStrategy" gorm:"not null"`

	// Amounts are decimal major units; conversion to minor units happens only
	// at the processor boundary.
	RentalAmount      float64 `json:"rentalAmount" gorm:"not null"`
	PlatformFeeAmount float64 `json:"platformFeeAmount" gorm:"not null"`
	HostAmount        float64 `json:"hostAmount" gorm:"not null"`
	DepositAmount     float64 `json:"depositAmount" gorm:"not null;default:0"`

	Status        PaymentStatus `json:"status" gorm:"not null;default:'method_collection_pending'"`
	CaptureStatus CaptureStatus `json:"captureStatus" gorm:"not null;default:'not_required'"`
	DepositStatus DepositStatus `json:"depositStatus" gorm:"not null;default:'not_applicable'"`
	PayoutStatus  PayoutStatus  `json:"payoutStatus" gorm:"not null;default:'blocked'"`

	PaymentDueAt             time.Time  `json:"paymentDueAt" gorm:"not null"`
	ReleaseAt                time.Time  `json:"releaseAt" gorm:"not null"`
	DepositClaimWindowEndsAt *time.Time `json:"depositClaimWindowEndsAt"`

	// LastProcessedEventID dedupes external notifications: reapplying the same
	// event id is a no-op.
	LastProcessedEventID string `json:"-" gorm:"index"`
	FailureReason        string `json:"failureReason"`
}

// CanRetryPayout reports whether a host-triggered payout retry is allowed.
func (p *Payment) CanRetryPayout(now time.Time) bool {
	if p.Status != PaymentStatusPaid {
		return false
	}
	if p.Strategy != StrategyPlatformTransferFallback {
		return false
	}
	if p.PayoutStatus == PayoutStatusTransferred || p.PayoutStatus == PayoutStatusReversed {
		return false
	}
	return !now.Before(p.ReleaseAt)
}
