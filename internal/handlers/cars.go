package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	"gorm.io/gorm"
)

// CreateCar publishes a new listing for the authenticated host.
func CreateCar(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		if c.GetString("userType") != string(models.UserTypeHost) {
			utils.HandleError(c, utils.NewForbiddenError("Only hosts can list cars"))
			return
		}

		var input struct {
			Make          string    `json:"make" binding:"required"`
			Model         string    `json:"model" binding:"required"`
			Plate         string    `json:"plate" binding:"required"`
			PricePerDay   float64   `json:"pricePerDay" binding:"required,gt=0"`
			DepositAmount float64   `json:"depositAmount" binding:"gte=0"`
			Currency      string    `json:"currency"`
			AvailableFrom time.Time `json:"availableFrom" binding:"required"`
			AvailableTo   time.Time `json:"availableTo" binding:"required"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		if !input.AvailableTo.After(input.AvailableFrom) {
			utils.HandleError(c, utils.NewInvalidInputError("availableTo must be after availableFrom"))
			return
		}

		car := models.Car{
			HostID:        userId,
			Make:          input.Make,
			CarModel:      input.Model,
			Plate:         input.Plate,
			PricePerDay:   input.PricePerDay,
			DepositAmount: input.DepositAmount,
			AvailableFrom: input.AvailableFrom,
			AvailableTo:   input.AvailableTo,
			IsActive:      true,
		}
		if input.Currency != "" {
			car.Currency = input.Currency
		}

		if err := db.Create(&car).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to create listing"))
			return
		}

		c.JSON(201, car)
	}
}

// UpdateCar edits a host's own listing.
func UpdateCar(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		carId := c.Param("id")

		var car models.Car
		if err := db.First(&car, carId).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Car"))
			return
		}
		if car.HostID != userId {
			utils.HandleError(c, utils.NewForbiddenError("Unauthorized"))
			return
		}

		var input struct {
			PricePerDay   *float64   `json:"pricePerDay"`
			DepositAmount *float64   `json:"depositAmount"`
			AvailableFrom *time.Time `json:"availableFrom"`
			AvailableTo   *time.Time `json:"availableTo"`
			IsActive      *bool      `json:"isActive"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("%s", err.Error()))
			return
		}

		updates := map[string]interface{}{}
		if input.PricePerDay != nil {
			if *input.PricePerDay <= 0 {
				utils.HandleError(c, utils.NewInvalidInputError("pricePerDay must be positive"))
				return
			}
			updates["price_per_day"] = *input.PricePerDay
		}
		if input.DepositAmount != nil {
			if *input.DepositAmount < 0 {
				utils.HandleError(c, utils.NewInvalidInputError("depositAmount cannot be negative"))
				return
			}
			updates["deposit_amount"] = *input.DepositAmount
		}
		if input.AvailableFrom != nil {
			updates["available_from"] = *input.AvailableFrom
		}
		if input.AvailableTo != nil {
			updates["available_to"] = *input.AvailableTo
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
		}

		if len(updates) > 0 {
			if err := db.Model(&car).Updates(updates).Error; err != nil {
				utils.HandleError(c, utils.NewInternalError("Failed to update listing"))
				return
			}
		}

		c.JSON(200, car)
	}
}

// GetMyCars lists the authenticated host's listings.
func GetMyCars(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var cars []models.Car
		if err := db.Where("host_id = ?", userId).Find(&cars).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch listings"))
			return
		}

		c.JSON(200, cars)
	}
}

// BrowseCars lists active cars, optionally filtered to those whose availability
// window covers a requested date range.
func BrowseCars(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := db.Where("is_active = ?", true)

		startStr := c.Query("start")
		endStr := c.Query("end")
		if startStr != "" && endStr != "" {
			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				utils.HandleError(c, utils.NewInvalidInputError("Invalid start date"))
				return
			}
			end, err := time.Parse(time.RFC3339, endStr)
			if err != nil {
				utils.HandleError(c, utils.NewInvalidInputError("Invalid end date"))
				return
			}
			query = query.Where("available_from <= ? AND available_to >= ?", start, end)
		}

		var cars []models.Car
		if err := query.Preload("Host").Find(&cars).Error; err != nil {
			utils.HandleError(c, utils.NewInternalError("Failed to fetch cars"))
			return
		}

		c.JSON(200, cars)
	}
}

// GetCar retrieves a single listing.
func GetCar(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var car models.Car
		if err := db.Preload("Host").First(&car, c.Param("id")).Error; err != nil {
			utils.HandleError(c, utils.NewNotFoundError("Car"))
			return
		}

		c.JSON(200, car)
	}
}
