package utils

import (
	"math"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
)

const (
	// PlatformFeeRate is the platform's cut of the rental amount.
	PlatformFeeRate = 0.10

	// DefaultCaptureMaxDays is the longest trip that can ride on a held
	// authorization. Holds expire after roughly a week, so longer trips fall
	// back to immediate capture plus a separate host transfer.
	DefaultCaptureMaxDays = 6

	// DepositClaimWindow is how long after trip end a host may dispute the
	// held deposit before it auto-refunds.
	DepositClaimWindow = 72 * time.Hour

	// PaymentLeadTime is how long before trip start the rental is charged.
	PaymentLeadTime = 24 * time.Hour
)

// CalculateBillableDays returns the inclusive day count of a rental range:
// ceil((end-start+1ms)/24h), minimum 1. A range ending the same hour next day
// bills one day; a full 24h later bills two.
func CalculateBillableDays(start, end time.Time) int {
	span := end.Sub(start) + time.Millisecond
	days := int(math.Ceil(float64(span) / float64(24*time.Hour)))
	if days < 1 {
		return 1
	}
	return days
}

// PriceBreakdown contains the computed amounts for a booking, in decimal
// major units.
type PriceBreakdown struct {
	Days              int     `json:"days"`
	RentalAmount      float64 `json:"rentalAmount"`
	PlatformFeeAmount float64 `json:"platformFeeAmount"`
	HostAmount        float64 `json:"hostAmount"`
	DepositAmount     float64 `json:"depositAmount"`
}

// CalculatePriceBreakdown splits a rental's price between platform and host.
func CalculatePriceBreakdown(start, end time.Time, pricePerDay, depositAmount float64) PriceBreakdown {
	days := CalculateBillableDays(start, end)
	rental := float64(days) * pricePerDay
	rental = math.Round(rental*100) / 100
	fee := math.Round(rental*PlatformFeeRate*100) / 100

	return PriceBreakdown{
		Days:              days,
		RentalAmount:      rental,
		PlatformFeeAmount: fee,
		HostAmount:        rental - fee,
		DepositAmount:     depositAmount,
	}
}

// StrategySelection is the result of choosing a payment-capture strategy.
type StrategySelection struct {
	Strategy             models.PaymentStrategy `json:"strategy"`
	CaptureMaxDays       int                    `json:"captureMaxDays"`
	ManualCaptureEnabled bool                   `json:"manualCaptureEnabled"`
}

// SelectPaymentStrategy picks the capture strategy for a trip. Short trips use a
// held authorization captured at trip end; long trips (or a disabled flag) use
// immediate capture with a later host transfer.
func SelectPaymentStrategy(days int, manualCaptureEnabled bool, captureMaxDays int) StrategySelection {
	sel := StrategySelection{
		Strategy:             models.StrategyPlatformTransferFallback,
		CaptureMaxDays:       captureMaxDays,
		ManualCaptureEnabled: manualCaptureEnabled,
	}
	if manualCaptureEnabled && days <= captureMaxDays {
		sel.Strategy = models.StrategyDestinationManualCapture
	}
	return sel
}

// ToMinorUnits converts a decimal major-unit amount to processor minor units.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts processor minor units back to decimal major units.
func FromMinorUnits(n int64) float64 {
	return float64(n) / 100
}
