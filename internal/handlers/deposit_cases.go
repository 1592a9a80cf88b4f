package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// FileDepositCase lets a host dispute the held deposit within the claim
// window, once the trip has completed. Evidence photos come in the same
// multipart request; the filed case freezes the scheduled auto-refund until
// support resolves it.
func FileDepositCase(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		paymentId, err := strconv.ParseUint(c.PostForm("paymentId"), 10, 32)
		if err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("paymentId is required"))
			return
		}
		reason := c.PostForm("reason")
		if reason == "" {
			utils.HandleError(c, utils.NewInvalidInputError("reason is required"))
			return
		}

		var payment models.Payment
		if err := db.First(&payment, uint(paymentId)).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Payment"))
			return
		}
		if payment.HostID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Only the host can file a deposit case"))
			return
		}

		var booking models.Booking
		if err := db.First(&booking, payment.BookingID).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to load booking"))
			return
		}
		if booking.Status != models.BookingStatusCompleted {
			utils.HandleError(c, utils.NewConflictError("Deposit cases can only be filed after the trip completes"))
			return
		}

		if payment.DepositAmount <= 0 || payment.DepositStatus != models.DepositStatusHeld {
			utils.HandleError(c, utils.NewConflictError("No held deposit to claim against"))
			return
		}
		if payment.DepositClaimWindowEndsAt == nil || time.Now().After(*payment.DepositClaimWindowEndsAt) {
			utils.HandleError(c, utils.NewConflictError("The deposit claim window has closed"))
			return
		}

		// The requested amount defaults to the full deposit and is clamped to
		// what is actually held.
		requestedAmount := payment.DepositAmount
		if raw := c.PostForm("requestedAmount"); raw != "" {
			requestedAmount, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				utils.HandleError(c, utils.NewInvalidInputError("requestedAmount must be a number"))
				return
			}
			if requestedAmount < 0 {
				requestedAmount = 0
			}
			if requestedAmount > payment.DepositAmount {
				requestedAmount = payment.DepositAmount
			}
		}

		var active int64
		if err := db.Model(&models.DepositCase{}).
			Where("payment_id = ? AND status IN ?", payment.ID, []models.DepositCaseStatus{
				models.DepositCaseStatusOpen,
				models.DepositCaseStatusUnderReview,
				models.DepositCaseStatusApproved,
				models.DepositCaseStatusPartiallyApproved,
			}).Count(&active).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to check existing cases"))
			return
		}
		if active > 0 {
			utils.HandleError(c, utils.NewConflictError("An active deposit case already exists for this payment"))
			return
		}

		depositCase := models.DepositCase{
			PaymentID:       payment.ID,
			BookingID:       payment.BookingID,
			HostID:          payment.HostID,
			RenterID:        payment.RenterID,
			RequestedAmount: requestedAmount,
			Status:          models.DepositCaseStatusOpen,
			Reason:          reason,
		}

		tx := db.Begin()
		if err := tx.Create(&depositCase).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to file deposit case"))
			return
		}
		if err := tx.Model(&payment).Update("deposit_status", models.DepositStatusCaseSubmitted).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to update deposit status"))
			return
		}
		if err := tx.Commit().Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to file deposit case"))
			return
		}

		// Evidence uploads run after the case exists; a failed upload does not
		// invalidate the case itself.
		var urls []string
		if form, err := c.MultipartForm(); err == nil {
			for _, file := range form.File["photos"] {
				url, err := services.UploadEvidencePhoto(file, depositCase.ID)
				if err != nil {
					utils.HandleError(c, utils.NewInvalidInputError("Failed to upload evidence: %s", err.Error()))
					return
				}
				urls = append(urls, url)
			}
		}
		if len(urls) > 0 {
			encoded, _ := json.Marshal(urls)
			if err := db.Model(&depositCase).Update("evidence_urls", string(encoded)).Error; err != nil {
				utils.HandleError(c, utils.NewInternalError("Failed to record evidence"))
				return
			}
			depositCase.EvidenceURLs = string(encoded)
		}

		services.InvalidateBookingDetails(c.Request.Context(), payment.BookingID)
		go services.SendBookingPush(context.Background(), db,
			&models.Booking{Model: gorm.Model{ID: payment.BookingID}, RenterID: payment.RenterID, CarID: payment.CarID},
			"deposit_case_filed")

		c.JSON(201, depositCase)
	}
}

// GetDepositCase retrieves a case for either party or support.
func GetDepositCase(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var depositCase models.DepositCase
		if err := db.First(&depositCase, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Deposit case"))
			return
		}
		if depositCase.HostID != userId && depositCase.RenterID != userId &&
			c.GetString("userType") != string(models.UserTypeSupport) {
			utils.HandleError(c, utils.NewForbiddenError("Not a party to this case"))
			return
		}

		c.JSON(200, depositCase)
	}
}

// ListMyDepositCases lists cases where the caller is a party.
func ListMyDepositCases(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var cases []models.DepositCase
		if err := db.Where("host_id = ? OR renter_id = ?", userId, userId).
			Order("created_at DESC").
			Find(&cases).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch deposit cases"))
			return
		}

		c.JSON(200, cases)
	}
}

// ResolveDepositCase records support's decision on a filed case. A rejection
// puts the deposit back on the normal auto-refund path; approved amounts are
// settled outside the platform and only recorded here.
func ResolveDepositCase(db *gorm.DB, scheduler *services.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Status           string   `json:"status" binding:"required,oneof=approved partially_approved rejected"`
			ResolutionAmount *float64 `json:"resolutionAmount"`
			Note             string   `json:"note"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		var depositCase models.DepositCase
		if err := db.First(&depositCase, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Deposit case"))
			return
		}
		if depositCase.Status.IsResolved() {
			utils.HandleError(c, utils.NewConflictError("Deposit case is already resolved"))
			return
		}

		var payment models.Payment
		if err := db.First(&payment, depositCase.PaymentID).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to load payment"))
			return
		}

		status := models.DepositCaseStatus(input.Status)
		resolution := map[models.DepositCaseStatus]models.DepositStatus{
			models.DepositCaseStatusApproved:          models.DepositStatusRetained,
			models.DepositCaseStatusPartiallyApproved: models.DepositStatusPartiallyRefunded,
			models.DepositCaseStatusRejected:          models.DepositStatusHeld,
		}

		switch status {
		case models.DepositCaseStatusApproved:
			amount := depositCase.RequestedAmount
			input.ResolutionAmount = &amount
		case models.DepositCaseStatusPartiallyApproved:
			if input.ResolutionAmount == nil || *input.ResolutionAmount <= 0 ||
				*input.ResolutionAmount >= depositCase.RequestedAmount {
				utils.HandleError(c, utils.NewInvalidInputError("resolutionAmount must be between 0 and the requested amount"))
				return
			}
		case models.DepositCaseStatusRejected:
			input.ResolutionAmount = nil
		}

		now := time.Now()
		tx := db.Begin()
		updates := map[string]interface{}{
			"status":          status,
			"resolution_note": input.Note,
			"resolved_at":     now,
		}
		if input.ResolutionAmount != nil {
			updates["resolution_amount"] = *input.ResolutionAmount
		}
		if err := tx.Model(&depositCase).Updates(updates).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to resolve deposit case"))
			return
		}
		if err := tx.Model(&payment).Update("deposit_status", resolution[status]).Error; err != nil {
			tx.Rollback()
			utils.HandleError(c, utils.NewInternalError("Failed to update deposit status"))
			return
		}
		if status == models.DepositCaseStatusRejected {
			if err := scheduler.Schedule(tx, payment.ID, models.ActionDepositAutoRefund, now); err != nil {
				tx.Rollback()
				utils.HandleError(c, utils.NewInternalError("Failed to schedule deposit refund"))
				return
			}
		}
		if err := tx.Commit().Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to resolve deposit case"))
			return
		}

		services.InvalidateBookingDetails(c.Request.Context(), depositCase.BookingID)
		var booking models.Booking
		if err := db.First(&booking, depositCase.BookingID).Error; err == nil {
			go services.SendBookingPush(context.Background(), db, &booking, "deposit_case_resolved")
		}

		c.JSON(200, depositCase)
	}
}
