package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// RegisterFCMToken stores the device token used for payment and booking pushes.
func RegisterFCMToken(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		if err := db.Model(&models.User{}).Where("id = ?", userId).
			Update("fcm_token", input.Token).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to register token"))
			return
		}

		c.JSON(200, gin.H{"message": "Token registered"})
	}
}

// RemoveFCMToken clears the device token, typically on logout.
func RemoveFCMToken(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		if err := db.Model(&models.User{}).Where("id = ?", userId).
			Update("fcm_token", "").Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to remove token"))
			return
		}

		c.JSON(200, gin.H{"message": "Token removed"})
	}
}
