package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
)

// WebSocketHandler upgrades the connection for live booking updates.
func WebSocketHandler(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		if err := hub.UpgradeConnection(c.Writer, c.Request, userID, userType); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("Failed to upgrade connection"))
		}
	}
}
