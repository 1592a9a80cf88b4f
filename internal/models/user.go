package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeRenter  UserType = "renter"
	UserTypeHost    UserType = "host"
	UserTypeSupport UserType = "support"
)

type User struct {
	gorm.Model
	Username     string `json:"username" gorm:"column:username;unique;not null"`
	Email        string `json:"email" gorm:"column:email;unique;not null"`
	Password     string `json:"-" gorm:"-"` // Temporary field for password handling
	PasswordHash string `json:"-" gorm:"column:password_hash;not null"`
	PhoneNumber  string `json:"phoneNumber" gorm:"column:phone_number"`
	UserType     string `json:"userType" gorm:"column:user_type;not null"`
	FCMToken     string `json:"-" gorm:"column:fcm_token"`

	// Payment processor linkage. The account flags are synced from the
	// processor's account object and gate payout release for hosts.
	ProcessorCustomerID string `json:"-" gorm:"column:processor_customer_id"`
	ProcessorAccountID  string `json:"-" gorm:"column:processor_account_id"`
	ChargesEnabled      bool   `json:"chargesEnabled" gorm:"column:charges_enabled;default:false"`
	PayoutsEnabled      bool   `json:"payoutsEnabled" gorm:"column:payouts_enabled;default:false"`
	DetailsSubmitted    bool   `json:"detailsSubmitted" gorm:"column:details_submitted;default:false"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// CanReceivePayouts reports whether the host has a processor account that is
// allowed to receive transfers.
func (u *User) CanReceivePayouts() bool {
	return u.ProcessorAccountID != "" && u.PayoutsEnabled
}
