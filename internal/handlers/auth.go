package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Phone    string `json:"phone"`
	UserType string `json:"userType" binding:"required,oneof=renter host"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func Register(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RegisterInput
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		// Hash the password
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to hash password"))
			return
		}

		user := models.User{
			Username:     input.Username,
			Email:        input.Email,
			PasswordHash: string(hashedPassword),
			PhoneNumber:  input.Phone,
			UserType:     input.UserType,
		}

		if result := db.Create(&user); result.Error != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to create user"))
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to generate token"))
			return
		}

		c.JSON(201, gin.H{
			"token": token,
			"user": gin.H{
				"id":          user.ID,
				"email":       user.Email,
				"username":    user.Username,
				"phoneNumber": user.PhoneNumber,
				"userType":    user.UserType,
			},
		})
	}
}

func Login(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		var user models.User
		if result := db.Where("email = ?", input.Email).First(&user); result.Error != nil {
			utils.HandleError(c, utils.NewUnauthorizedError("Invalid credentials"))
			return
		}

		if err := user.CheckPassword(input.Password); err != nil {
			utils.HandleError(c, utils.NewUnauthorizedError("Invalid credentials"))
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to generate token"))
			return
		}

		c.JSON(200, gin.H{
			"token": token,
			"user": gin.H{
				"id":          user.ID,
				"email":       user.Email,
				"username":    user.Username,
				"phoneNumber": user.PhoneNumber,
				"userType":    user.UserType,
			},
		})
	}
}

// GetProfile returns the authenticated user's own record.
func GetProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("User"))
			return
		}

		c.JSON(200, user)
	}
}
