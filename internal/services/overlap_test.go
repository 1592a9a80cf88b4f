package services

import (
	"testing"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConflictingBooking(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)

	seed := func(status models.BookingStatus, s, e time.Time) models.Booking {
		b := models.Booking{
			CarID: f.car.ID, RenterID: f.renter.ID,
			StartDate: s, EndDate: e, Status: status, TotalPrice: 1,
		}
		require.NoError(t, f.db.Create(&b).Error)
		return b
	}

	t.Run("confirmed booking conflicts", func(t *testing.T) {
		b := seed(models.BookingStatusConfirmed, start, end)
		conflict, err := FindConflictingBooking(f.db, f.car.ID, start.AddDate(0, 0, 2), end.AddDate(0, 0, 2), 0)
		require.NoError(t, err)
		require.NotNil(t, conflict)
		assert.Equal(t, b.ID, conflict.ID)
		require.NoError(t, f.db.Delete(&b).Error)
	})

	t.Run("payment pending booking conflicts", func(t *testing.T) {
		b := seed(models.BookingStatusPaymentPending, start, end)
		conflict, err := FindConflictingBooking(f.db, f.car.ID, start, end, 0)
		require.NoError(t, err)
		assert.NotNil(t, conflict)
		require.NoError(t, f.db.Delete(&b).Error)
	})

	t.Run("non-blocking statuses do not conflict", func(t *testing.T) {
		for _, status := range []models.BookingStatus{
			models.BookingStatusPending,
			models.BookingStatusCancelled,
			models.BookingStatusPaymentFailed,
			models.BookingStatusCompleted,
		} {
			b := seed(status, start, end)
			conflict, err := FindConflictingBooking(f.db, f.car.ID, start, end, 0)
			require.NoError(t, err)
			assert.Nil(t, conflict, "status %s should not block", status)
			require.NoError(t, f.db.Delete(&b).Error)
		}
	})

	t.Run("touching boundary dates conflict", func(t *testing.T) {
		b := seed(models.BookingStatusConfirmed, start, end)
		conflict, err := FindConflictingBooking(f.db, f.car.ID, end, end.AddDate(0, 0, 3), 0)
		require.NoError(t, err)
		assert.NotNil(t, conflict, "inclusive range comparison")
		require.NoError(t, f.db.Delete(&b).Error)
	})

	t.Run("disjoint ranges do not conflict", func(t *testing.T) {
		b := seed(models.BookingStatusConfirmed, start, end)
		conflict, err := FindConflictingBooking(f.db, f.car.ID, end.AddDate(0, 0, 1), end.AddDate(0, 0, 4), 0)
		require.NoError(t, err)
		assert.Nil(t, conflict)
		require.NoError(t, f.db.Delete(&b).Error)
	})

	t.Run("a booking does not conflict with itself", func(t *testing.T) {
		b := seed(models.BookingStatusPaymentPending, start, end)
		conflict, err := FindConflictingBooking(f.db, f.car.ID, start, end, b.ID)
		require.NoError(t, err)
		assert.Nil(t, conflict)
		require.NoError(t, f.db.Delete(&b).Error)
	})
}
