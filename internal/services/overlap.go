package services

import (
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"gorm.io/gorm"
)

// FindConflictingBooking returns a booking that blocks the candidate range on
// the same car, or nil. Only bookings holding the range (payment_pending or
// confirmed) conflict; the comparison is inclusive on both ends.
//
// The check runs at intake time AND again when the payment method is
// confirmed, because a competing booking can complete in between. Callers on
// the second check must compensate by cancelling both records on conflict.
func FindConflictingBooking(db *gorm.DB, carID uint, start, end time.Time, excludeBookingID uint) (*models.Booking, error) {
	var conflict models.Booking
	err := db.Where("car_id = ?", carID).
		Where("id <> ?", excludeBookingID).
		Where("status IN ?", []models.BookingStatus{
			models.BookingStatusPaymentPending,
			models.BookingStatusConfirmed,
		}).
		Where("start_date <= ? AND end_date >= ?", end, start).
		First(&conflict).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}
