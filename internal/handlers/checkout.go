package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
)

// ConfirmCheckout is the landing call after the renter returns from the
// external payment flow. The session is re-fetched from the processor, so this
// works even when the redirect beats the webhook.
func ConfirmCheckout(reconciler *services.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			utils.HandleError(c, utils.NewInvalidInputError("session_id is required"))
			return
		}

		outcome, err := reconciler.ConfirmRedirect(c.Request.Context(), sessionID)
		if err != nil {
			utils.HandleError(c, &utils.AppError{Status: 502, Prefix: "UNAVAILABLE", Message: "Failed to confirm payment session"})
			return
		}

		c.JSON(200, outcome)
	}
}
