package handlers

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// LinkProcessorAccount attaches a processor account to the host and syncs its
// capability flags.
func LinkProcessorAccount(db *gorm.DB, processor services.PaymentProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		if c.GetString("userType") != string(models.UserTypeHost) {
			utils.HandleError(c, utils.NewForbiddenError("Only hosts can link a payout account"))
			return
		}

		var input struct {
			AccountID string `json:"accountId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		info, err := processor.FetchAccount(c.Request.Context(), input.AccountID)
		if err != nil {
			if processor.IsNotFound(err) {
				utils.HandleError(c, utils.NewNotFoundError("Processor account"))
				return
			}
			utils.HandleError(c, &utils.AppError{Status: 502, Prefix: "UNAVAILABLE", Message: "Failed to verify processor account"})
			return
		}

		if err := db.Model(&models.User{}).Where("id = ?", userId).Updates(map[string]interface{}{
			"processor_account_id": info.ID,
			"charges_enabled":      info.ChargesEnabled,
			"payouts_enabled":      info.PayoutsEnabled,
			"details_submitted":    info.DetailsSubmitted,
		}).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to link account"))
			return
		}

		c.JSON(200, gin.H{
			"accountId":        info.ID,
			"chargesEnabled":   info.ChargesEnabled,
			"payoutsEnabled":   info.PayoutsEnabled,
			"detailsSubmitted": info.DetailsSubmitted,
		})
	}
}

// GetPayoutStatus returns the host's payout capability, refreshed from the
// processor when an account is linked.
func GetPayoutStatus(db *gorm.DB, processor services.PaymentProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("User"))
			return
		}

		if user.ProcessorAccountID != "" {
			if info, err := processor.FetchAccount(c.Request.Context(), user.ProcessorAccountID); err == nil {
				db.Model(&user).Updates(map[string]interface{}{
					"charges_enabled":   info.ChargesEnabled,
					"payouts_enabled":   info.PayoutsEnabled,
					"details_submitted": info.DetailsSubmitted,
				})
				user.ChargesEnabled = info.ChargesEnabled
				user.PayoutsEnabled = info.PayoutsEnabled
				user.DetailsSubmitted = info.DetailsSubmitted
			}
		}

		c.JSON(200, gin.H{
			"accountLinked":     user.ProcessorAccountID != "",
			"chargesEnabled":    user.ChargesEnabled,
			"payoutsEnabled":    user.PayoutsEnabled,
			"detailsSubmitted":  user.DetailsSubmitted,
			"canReceivePayouts": user.CanReceivePayouts(),
		})
	}
}

// RetryPayout re-queues a release that was blocked or errored, once the host
// has fixed their account.
func RetryPayout(db *gorm.DB, scheduler *services.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var payment models.Payment
		if err := db.First(&payment, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Payment"))
			return
		}
		if payment.HostID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Unauthorized"))
			return
		}

		var host models.User
		if err := db.First(&host, userId).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to load host"))
			return
		}

		// A payout blocked on missing account capability becomes eligible again
		// once the host can actually receive transfers.
		if payment.PayoutStatus == models.PayoutStatusBlocked &&
			payment.Status == models.PaymentStatusPaid && host.CanReceivePayouts() {
			if err := db.Model(&payment).Update("payout_status", models.PayoutStatusEligible).Error; err != nil {
				utils.HandleError(c, utils.NewInternalError("Failed to update payout status"))
				return
			}
			payment.PayoutStatus = models.PayoutStatusEligible
		}

		if !payment.CanRetryPayout(time.Now()) {
			utils.HandleError(c, utils.NewConflictError("Payout cannot be retried for this payment"))
			return
		}

		if err := scheduler.Schedule(db, payment.ID, models.ActionReleasePayout, time.Now()); err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to queue payout"))
			return
		}

		c.JSON(202, gin.H{"message": "Payout queued"})
	}
}

// DownloadPayoutReport streams the host's payout history as a spreadsheet.
func DownloadPayoutReport(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		report, err := services.BuildHostPayoutReport(db, userId)
		if err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to build payout report"))
			return
		}

		filename := fmt.Sprintf("payouts-%d-%s.xlsx", userId, time.Now().Format("20060102"))
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := report.Write(c.Writer); err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to write payout report"))
		}
	}
}
