package handlers

import (
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// captureConfig reads the strategy-selection knobs from the environment.
func captureConfig() (bool, int) {
	enabled := os.Getenv("MANUAL_CAPTURE_ENABLED") != "false"
	maxDays := utils.DefaultCaptureMaxDays
	if v := os.Getenv("CAPTURE_MAX_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxDays = n
		}
	}
	return enabled, maxDays
}

// GetQuote prices a prospective booking without creating anything.
func GetQuote(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			CarID     uint      `json:"carId" binding:"required"`
			StartDate time.Time `json:"startDate" binding:"required"`
			EndDate   time.Time `json:"endDate" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}
		// An equal-instant range is a valid one-day rental.
		if input.EndDate.Before(input.StartDate) {
			utils.HandleError(c, utils.NewInvalidInputError("endDate cannot be before startDate"))
			return
		}

		var car models.Car
		if err := db.First(&car, input.CarID).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Car"))
			return
		}

		breakdown := utils.CalculatePriceBreakdown(input.StartDate, input.EndDate, car.PricePerDay, car.DepositAmount)
		enabled, maxDays := captureConfig()
		selection := utils.SelectPaymentStrategy(breakdown.Days, enabled, maxDays)

		c.JSON(200, gin.H{
			"breakdown": breakdown,
			"strategy":  selection,
			"currency":  car.Currency,
		})
	}
}

// CreateBooking reserves a car and starts the payment flow. Bookings more than
// a day out collect a payment method now and charge at the due date; bookings
// inside the lead time go straight to a payment checkout.
func CreateBooking(db *gorm.DB, processor services.PaymentProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		var input struct {
			CarID     uint      `json:"carId" binding:"required"`
			StartDate time.Time `json:"startDate" binding:"required"`
			EndDate   time.Time `json:"endDate" binding:"required"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		now := time.Now()
		if input.EndDate.Before(input.StartDate) {
			utils.HandleError(c, utils.NewInvalidInputError("endDate cannot be before startDate"))
			return
		}
		if input.StartDate.Before(now) {
			utils.HandleError(c, utils.NewInvalidInputError("startDate must be in the future"))
			return
		}

		var car models.Car
		if err := db.First(&car, input.CarID).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Car"))
			return
		}
		if !car.IsActive {
			utils.HandleError(c, utils.NewInvalidInputError("Car is not available for booking"))
			return
		}
		if car.HostID == userId {
			utils.HandleError(c, utils.NewUnauthorizedError("You cannot book your own car"))
			return
		}
		if !car.CoversRange(input.StartDate, input.EndDate) {
			utils.HandleError(c, utils.NewInvalidInputError("Requested dates fall outside the car's availability window"))
			return
		}

		var host models.User
		if err := db.First(&host, car.HostID).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to load host"))
			return
		}
		// A booking on a host that cannot receive transfers would be born with
		// a payout that can never complete.
		if !host.CanReceivePayouts() {
			utils.HandleError(c, utils.NewUnavailableError("The host is not yet able to receive payouts"))
			return
		}

		if conflict, err := services.FindConflictingBooking(db, car.ID, input.StartDate, input.EndDate, 0); err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to check availability"))
			return
		} else if conflict != nil {
			utils.HandleError(c, utils.NewConflictError("Car is already booked for those dates"))
			return
		}

		breakdown := utils.CalculatePriceBreakdown(input.StartDate, input.EndDate, car.PricePerDay, car.DepositAmount)
		enabled, maxDays := captureConfig()
		// Destination charges land on the host's account, so the manual-capture
		// strategy additionally needs a chargeable host account.
		selection := utils.SelectPaymentStrategy(breakdown.Days, enabled && host.ChargesEnabled, maxDays)

		paymentDueAt := input.StartDate.Add(-utils.PaymentLeadTime)
		if paymentDueAt.Before(now) {
			paymentDueAt = now
		}
		payNow := !paymentDueAt.After(now)

		booking := models.Booking{
			CarID:      car.ID,
			RenterID:   userId,
			StartDate:  input.StartDate,
			EndDate:    input.EndDate,
			Status:     models.BookingStatusPending,
			TotalPrice: breakdown.RentalAmount + breakdown.DepositAmount,
		}

		payment := models.Payment{
			CarID:             car.ID,
			RenterID:          userId,
			HostID:            car.HostID,
			Currency:          car.Currency,
			Strategy:          selection.Strategy,
			RentalAmount:      breakdown.RentalAmount,
			PlatformFeeAmount: breakdown.PlatformFeeAmount,
			HostAmount:        breakdown.HostAmount,
			DepositAmount:     breakdown.DepositAmount,
			Status:            models.PaymentStatusMethodCollectionPending,
			CaptureStatus:     models.CaptureStatusNotRequired,
			DepositStatus:     models.DepositStatusNotApplicable,
			PayoutStatus:      models.PayoutStatusBlocked,
			PaymentDueAt:      paymentDueAt,
			ReleaseAt:         input.EndDate,
		}
		if payNow {
			payment.Status = models.PaymentStatusCheckoutCreated
		}
		if breakdown.DepositAmount > 0 {
			windowEnd := input.EndDate.Add(utils.DepositClaimWindow)
			payment.DepositClaimWindowEndsAt = &windowEnd
		}

		tx := db.Begin()
		if err := tx.Create(&booking).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to create booking"))
			return
		}
		payment.BookingID = booking.ID
		if err := tx.Create(&payment).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to create payment"))
			return
		}
		if err := tx.Model(&booking).Update("payment_id", payment.ID).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to link payment"))
			return
		}
		if err := tx.Commit().Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to create booking"))
			return
		}

		frontendURL := os.Getenv("FRONTEND_URL")
		successURL := frontendURL + "/bookings/confirm?session_id={CHECKOUT_SESSION_ID}"
		cancelURL := frontendURL + "/bookings/cancelled"

		var info *services.CheckoutSessionInfo
		var err error
		if payNow {
			info, err = processor.CreatePaymentCheckout(c.Request.Context(), &payment, &car, &host, successURL, cancelURL)
		} else {
			info, err = processor.CreateSetupCheckout(c.Request.Context(), &payment, successURL, cancelURL)
		}
		if err != nil {
			// Roll the reservation back so the dates are not held by a booking
			// whose payment flow never started.
			db.Model(&payment).Updates(map[string]interface{}{
				"status":         models.PaymentStatusCancelled,
				"failure_reason": "failed to start payment flow",
			})
			db.Model(&booking).Update("status", models.BookingStatusCancelled)
			utils.HandleError(c, &utils.AppError{Status: 502, Prefix: "UNAVAILABLE", Message: "Failed to start payment flow"})
			return
		}

		if err := db.Model(&payment).Update("processor_session_id", info.ID).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to record payment session"))
			return
		}

		c.JSON(201, gin.H{
			"booking":     booking,
			"payment":     payment,
			"breakdown":   breakdown,
			"strategy":    selection,
			"checkoutUrl": info.URL,
		})
	}
}

// GetBookingDetails returns a booking with its payment state. The projection is
// cached briefly; money state itself is always read from the database.
func GetBookingDetails(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var booking models.Booking
		if err := db.Preload("Car").Preload("Renter").First(&booking, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Booking"))
			return
		}
		if booking.RenterID != userId && booking.Car.HostID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Not a party to this booking"))
			return
		}

		if cached, err := services.GetCachedBookingDetails(c.Request.Context(), booking.ID); err == nil {
			c.JSON(200, cached)
			return
		}

		response := gin.H{
			"id":         booking.ID,
			"status":     booking.Status,
			"startDate":  booking.StartDate,
			"endDate":    booking.EndDate,
			"totalPrice": booking.TotalPrice,
			"car": gin.H{
				"id":    booking.Car.ID,
				"make":  booking.Car.Make,
				"model": booking.Car.CarModel,
				"plate": booking.Car.Plate,
			},
			"renter": gin.H{
				"username":    booking.Renter.Username,
				"phoneNumber": booking.Renter.PhoneNumber,
			},
		}
		if booking.CollectedAt != nil {
			response["collectedAt"] = booking.CollectedAt
			response["collectionOdometer"] = booking.CollectionOdometer
			response["collectionNotes"] = booking.CollectionNotes
		}

		if booking.PaymentID != nil {
			var payment models.Payment
			if err := db.First(&payment, *booking.PaymentID).Error; err == nil {
				response["payment"] = gin.H{
					"status":        payment.Status,
					"strategy":      payment.Strategy,
					"captureStatus": payment.CaptureStatus,
					"depositStatus": payment.DepositStatus,
					"payoutStatus":  payment.PayoutStatus,
					"rentalAmount":  payment.RentalAmount,
					"depositAmount": payment.DepositAmount,
					"paymentDueAt":  payment.PaymentDueAt,
					"failureReason": payment.FailureReason,
				}
			}
		}

		if err := services.CacheBookingDetails(c.Request.Context(), booking.ID, response); err == nil {
			c.Header("X-Cache", "MISS")
		}
		c.JSON(200, response)
	}
}

// GetMyTrips retrieves all bookings for a renter
func GetMyTrips(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var bookings []models.Booking
		if err := db.Where("renter_id = ?", userId).
			Preload("Car").
			Order("start_date DESC").
			Find(&bookings).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch bookings"))
			return
		}

		c.JSON(200, bookings)
	}
}

// GetHostBookings retrieves all bookings on a host's cars
func GetHostBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var bookings []models.Booking
		if err := db.Joins("Car").
			Where("\"Car\".host_id = ?", userId).
			Preload("Renter").
			Order("start_date DESC").
			Find(&bookings).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch bookings"))
			return
		}

		c.JSON(200, bookings)
	}
}

// CancelBooking lets a renter withdraw a reservation before funds have moved.
// Paid bookings go through support instead.
func CancelBooking(db *gorm.DB, scheduler *services.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var booking models.Booking
		if err := db.First(&booking, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Booking"))
			return
		}
		if booking.RenterID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Only the renter can cancel"))
			return
		}

		var payment *models.Payment
		if booking.PaymentID != nil {
			var p models.Payment
			if err := db.First(&p, *booking.PaymentID).Error; err != nil {
				utils.HandleError(c, utils.NewInternalError("Failed to load payment"))
				return
			}
			payment = &p
		}

		if !models.CanCancelBooking(&booking, payment) {
			utils.HandleError(c, utils.NewConflictError("Booking can no longer be cancelled; contact support"))
			return
		}

		tx := db.Begin()
		if err := tx.Model(&booking).Update("status", models.BookingStatusCancelled).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to cancel booking"))
			return
		}
		if payment != nil && !payment.Status.IsTerminal() {
			if err := tx.Model(payment).Updates(map[string]interface{}{
				"status":         models.PaymentStatusCancelled,
				"payout_status":  models.PayoutStatusBlocked,
				"failure_reason": "cancelled by renter",
			}).Error; err != nil {
				tx.Rollback()
				utils.HandleError(c, utils.NewInternalError("Failed to cancel payment"))
				return
			}
			if err := scheduler.CancelPending(tx, payment.ID, ""); err != nil {
				tx.Rollback()
				utils.HandleError(c, utils.NewInternalError("Failed to cancel scheduled actions"))
				return
			}
		}
		if err := tx.Commit().Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to cancel booking"))
			return
		}

		services.InvalidateBookingDetails(c.Request.Context(), booking.ID)
		services.PublishBookingUpdate(c.Request.Context(), booking.ID,
			string(models.BookingStatusCancelled), map[string]interface{}{"event": "booking_cancelled"})

		c.JSON(200, gin.H{"message": "Booking cancelled"})
	}
}

// ConfirmHandover records the host handing the car over and moves the trip
// into progress. Only confirmed, paid bookings can start.
func ConfirmHandover(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			Odometer *int   `json:"odometer"`
			Notes    string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		var booking models.Booking
		if err := db.Preload("Car").First(&booking, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Booking"))
			return
		}
		if booking.Car.HostID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Only the host can confirm handover"))
			return
		}
		if booking.Status != models.BookingStatusConfirmed {
			utils.HandleError(c, utils.NewConflictError("Booking is not confirmed for handover"))
			return
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":           models.BookingStatusInProgress,
			"collected_at":     now,
			"collection_notes": input.Notes,
		}
		if input.Odometer != nil {
			updates["collection_odometer"] = *input.Odometer
		}
		if err := db.Model(&booking).Updates(updates).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to confirm handover"))
			return
		}

		services.InvalidateBookingDetails(c.Request.Context(), booking.ID)
		services.PublishBookingUpdate(c.Request.Context(), booking.ID,
			string(models.BookingStatusInProgress), map[string]interface{}{"event": "handover_confirmed"})

		c.JSON(200, booking)
	}
}
