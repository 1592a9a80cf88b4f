package services

import (
	"fmt"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// BuildHostPayoutReport renders a host's booking and payout history as a
// spreadsheet. Read-only: the report never mutates money state.
func BuildHostPayoutReport(db *gorm.DB, hostID uint) (*excelize.File, error) {
	var payments []models.Payment
	err := db.Where("host_id = ?", hostID).
		Where("status IN ?", []models.PaymentStatus{
			models.PaymentStatusPaid,
			models.PaymentStatusRefunded,
			models.PaymentStatusPartiallyRefunded,
			models.PaymentStatusDisputed,
		}).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Payouts"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Booking ID", "Created", "Currency", "Rental", "Platform Fee", "Host Share", "Deposit", "Payment Status", "Payout Status", "Transfer ID", "Release Date"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, p := range payments {
		values := []interface{}{
			p.BookingID,
			p.CreatedAt.Format(time.RFC3339),
			p.Currency,
			p.RentalAmount,
			p.PlatformFeeAmount,
			p.HostAmount,
			p.DepositAmount,
			string(p.Status),
			string(p.PayoutStatus),
			p.TransferID,
			p.ReleaseAt.Format("2006-01-02"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	f.SetColWidth(sheet, "A", "K", 18)

	// Totals row for transferred payouts
	var total float64
	for _, p := range payments {
		if p.PayoutStatus == models.PayoutStatusTransferred {
			total += p.HostAmount
		}
	}
	totalRow := len(payments) + 3
	f.SetCellValue(sheet, fmt.Sprintf("E%d", totalRow), "Total transferred")
	f.SetCellValue(sheet, fmt.Sprintf("F%d", totalRow), total)

	return f, nil
}
