package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusPaymentPending BookingStatus = "payment_pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusInProgress     BookingStatus = "in_progress"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusPaymentFailed  BookingStatus = "payment_failed"
)

// BlocksOtherBookings reports whether a booking in this status reserves its
// date range against competing bookings on the same car.
func (s BookingStatus) BlocksOtherBookings() bool {
	return s == BookingStatusPaymentPending || s == BookingStatusConfirmed
}

type Booking struct {
	gorm.Model
	CarID     uint          `json:"carId" gorm:"not null;index"`
	Car       Car           `json:"car"`
	RenterID  uint          `json:"renterId" gorm:"not null;index"`
	Renter    User          `json:"renter"`
	StartDate time.Time     `json:"startDate" gorm:"not null"`
	EndDate   time.Time     `json:"endDate" gorm:"not null"`
	Status    BookingStatus `json:"status" gorm:"not null;default:'pending'"`
	TotalPrice float64      `json:"totalPrice" gorm:"not null"`
	PaymentID *uint         `json:"paymentId" gorm:"index"`

	// Handover metadata recorded when the host confirms collection.
	CollectedAt        *time.Time `json:"collectedAt"`
	CollectionOdometer *int       `json:"collectionOdometer"`
	CollectionNotes    string     `json:"collectionNotes"`
}

// OverlapsRange reports whether the booking's inclusive date range intersects
// [start, end].
func (b *Booking) OverlapsRange(start, end time.Time) bool {
	return !b.StartDate.After(end) && !b.EndDate.Before(start)
}

// CanCancelBooking decides whether a reservation may still be cancelled by its
// renter. Once funds have actually been paid, cancellation is no longer
// self-service.
func CanCancelBooking(b *Booking, p *Payment) bool {
	switch b.Status {
	case BookingStatusPending, BookingStatusPaymentPending, BookingStatusPaymentFailed:
	default:
		return false
	}
	if p == nil {
		return true
	}
	switch p.Status {
	case PaymentStatusMethodCollectionPending, PaymentStatusMethodSaved,
		PaymentStatusCheckoutCreated, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}
