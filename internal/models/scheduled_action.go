package models

import (
	"time"

	"gorm.io/gorm"
)

type ScheduledActionType string

const (
	ActionAutoCharge        ScheduledActionType = "auto_charge"
	ActionCaptureAtRelease  ScheduledActionType = "capture_at_release"
	ActionReleasePayout     ScheduledActionType = "release_payout"
	ActionDepositAutoRefund ScheduledActionType = "deposit_auto_refund"
)

type ScheduledActionStatus string

const (
	ScheduledActionPending   ScheduledActionStatus = "pending"
	ScheduledActionRunning   ScheduledActionStatus = "running"
	ScheduledActionDone      ScheduledActionStatus = "done"
	ScheduledActionFailed    ScheduledActionStatus = "failed"
	ScheduledActionCancelled ScheduledActionStatus = "cancelled"
)

// ScheduledAction is a durable "run this at time T" row. Capture, payout
// release and deposit refunds are scheduled days ahead, so these must survive
// process restarts; a worker polls due rows and claims them with a conditional
// status update.
type ScheduledAction struct {
	gorm.Model
	PaymentID uint                  `json:"paymentId" gorm:"not null;index:idx_actions_payment"`
	Action    ScheduledActionType   `json:"action" gorm:"not null;index:idx_actions_payment"`
	RunAt     time.Time             `json:"runAt" gorm:"not null;index"`
	Status    ScheduledActionStatus `json:"status" gorm:"not null;default:'pending';index"`
	Attempts  int                   `json:"attempts" gorm:"not null;default:0"`
	LastError string                `json:"lastError"`
}
