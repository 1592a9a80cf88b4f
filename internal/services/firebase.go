package services

import (
	"context"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

var (
	// FirebaseApp is the Firebase app instance
	FirebaseApp *firebase.App
	// MessagingClient is the Firebase Cloud Messaging client
	MessagingClient *messaging.Client
)

// NotificationPayload describes a push notification
type NotificationPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// InitFirebase initializes Firebase Admin SDK
func InitFirebase() error {
	ctx := context.Background()

	serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
	if serviceAccountPath == "" {
		log.Println("Warning: FIREBASE_SERVICE_ACCOUNT_PATH not set. Push notifications will be disabled.")
		return nil
	}

	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("error initializing messaging client: %v", err)
	}

	FirebaseApp = app
	MessagingClient = client
	return nil
}

// SendPushNotification sends a notification to a single device token
func SendPushNotification(ctx context.Context, token string, payload NotificationPayload) error {
	if MessagingClient == nil {
		return nil // push disabled
	}
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data: payload.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	_, err := MessagingClient.Send(ctx, message)
	return err
}

// SendUserNotification sends a push to a user's registered device
func SendUserNotification(ctx context.Context, db *gorm.DB, userID uint, payload NotificationPayload) error {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return err
	}
	if user.FCMToken == "" {
		return nil
	}
	return SendPushNotification(ctx, user.FCMToken, payload)
}

var pushMessages = map[string]struct{ title, body string }{
	"payment_confirmed":       {"Booking confirmed 🎉", "Your payment went through and the car is reserved."},
	"payment_failed":          {"Payment failed", "We could not charge your payment method. Please update it."},
	"payment_method_saved":    {"Payment method saved", "You will be charged automatically before the trip starts."},
	"payout_released":         {"Payout on the way 💸", "Your share for a completed trip has been transferred."},
	"trip_completed":          {"Trip completed", "The rental has ended and the payment was settled."},
	"deposit_refund_initiated": {"Deposit refund started", "The security deposit is being returned."},
	"deposit_case_filed":      {"Deposit claim filed", "The host filed a claim against the security deposit."},
	"deposit_case_resolved":   {"Deposit claim resolved", "Support resolved the deposit claim on your booking."},
	"booking_cancelled":       {"Booking cancelled", "The reservation was cancelled."},
}

// SendBookingPush notifies the renter about a booking/payment transition.
// Push delivery is best-effort and never gates a money transition.
func SendBookingPush(ctx context.Context, db *gorm.DB, booking *models.Booking, event string) {
	msg, ok := pushMessages[event]
	if !ok {
		return
	}
	payload := NotificationPayload{
		Title: msg.title,
		Body:  msg.body,
		Data: map[string]string{
			"type":      event,
			"bookingId": fmt.Sprintf("%d", booking.ID),
			"status":    string(booking.Status),
		},
	}
	if err := SendUserNotification(ctx, db, booking.RenterID, payload); err != nil {
		log.Printf("Failed to send push for booking %d: %v", booking.ID, err)
	}
}
