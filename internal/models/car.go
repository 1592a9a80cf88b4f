package models

import (
	"time"

	"gorm.io/gorm"
)

// Car is a host's rental listing. Bookings may only cover dates inside the
// published availability window.
type Car struct {
	gorm.Model
	HostID        uint      `json:"hostId" gorm:"not null;index"`
	Host          User      `json:"host"`
	Make          string    `json:"make" gorm:"not null"`
	CarModel      string    `json:"model" gorm:"column:car_model;not null"`
	Plate         string    `json:"plate" gorm:"unique;not null"`
	PricePerDay   float64   `json:"pricePerDay" gorm:"not null"`
	DepositAmount float64   `json:"depositAmount" gorm:"not null;default:0"`
	Currency      string    `json:"currency" gorm:"not null;default:'kes'"`
	AvailableFrom time.Time `json:"availableFrom" gorm:"not null"`
	AvailableTo   time.Time `json:"availableTo" gorm:"not null"`
	IsActive      bool      `json:"isActive" gorm:"not null;default:true"`
}

// CoversRange reports whether [start, end] lies inside the availability window.
func (c *Car) CoversRange(start, end time.Time) bool {
	return !start.Before(c.AvailableFrom) && !end.After(c.AvailableTo)
}
