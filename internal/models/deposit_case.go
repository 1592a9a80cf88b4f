package models

import (
	"time"

	"gorm.io/gorm"
)

type DepositCaseStatus string

const (
	DepositCaseStatusOpen              DepositCaseStatus = "open"
	DepositCaseStatusUnderReview       DepositCaseStatus = "under_review"
	DepositCaseStatusApproved          DepositCaseStatus = "approved"
	DepositCaseStatusPartiallyApproved DepositCaseStatus = "partially_approved"
	DepositCaseStatusRejected          DepositCaseStatus = "rejected"
)

// BlocksNewCase reports whether a case in this status counts against the
// one-active-case-per-payment rule.
func (s DepositCaseStatus) BlocksNewCase() bool {
	switch s {
	case DepositCaseStatusOpen, DepositCaseStatusUnderReview,
		DepositCaseStatusApproved, DepositCaseStatusPartiallyApproved:
		return true
	}
	return false
}

// IsResolved reports whether the case has received its final resolution.
func (s DepositCaseStatus) IsResolved() bool {
	switch s {
	case DepositCaseStatusApproved, DepositCaseStatusPartiallyApproved, DepositCaseStatusRejected:
		return true
	}
	return false
}

// DepositCase is a post-trip dispute over the held deposit. It is filed by the
// host within the claim window and immutable once resolved.
type DepositCase struct {
	gorm.Model
	PaymentID uint `json:"paymentId" gorm:"not null;index"`
	BookingID uint `json:"bookingId" gorm:"not null;index"`
	HostID    uint `json:"hostId" gorm:"not null"`
	RenterID  uint `json:"renterId" gorm:"not null"`

	RequestedAmount  float64           `json:"requestedAmount" gorm:"not null"`
	ResolutionAmount *float64          `json:"resolutionAmount"`
	Status           DepositCaseStatus `json:"status" gorm:"not null;default:'open'"`
	Reason           string            `json:"reason" gorm:"not null"`
	ResolutionNote   string            `json:"resolutionNote"`
	EvidenceURLs     string            `json:"evidenceUrls"` // JSON-encoded list of uploaded photo URLs
	ResolvedAt       *time.Time        `json:"resolvedAt"`
}
