package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// RunStaleSweep triggers an immediate reconciliation pass over payments stuck
// in a pending status. The same sweep runs periodically in the background.
func RunStaleSweep(reconciler *services.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := reconciler.SweepStale(c.Request.Context())
		if err != nil {
			utils.HandleError(c, utils.NewInternalError("Sweep failed"))
			return
		}
		c.JSON(200, report)
	}
}

// ListScheduledActions exposes the pending action queue for a payment.
func ListScheduledActions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actions []models.ScheduledAction
		if err := db.Where("payment_id = ?", c.Param("id")).
			Order("run_at").
			Find(&actions).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch scheduled actions"))
			return
		}
		c.JSON(200, actions)
	}
}

// ListDepositCases lists deposit cases for support review, filterable by status.
func ListDepositCases(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := db.Order("created_at")
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}

		var cases []models.DepositCase
		if err := query.Find(&cases).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch deposit cases"))
			return
		}
		c.JSON(200, cases)
	}
}
