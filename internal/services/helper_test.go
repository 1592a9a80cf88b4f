package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Car{},
		&models.Booking{},
		&models.Payment{},
		&models.DepositCase{},
		&models.ScheduledAction{},
	))
	return db
}

var errFakeNotFound = errors.New("fake processor: not found")

// fakeProcessor scripts processor responses per call site and counts calls.
type fakeProcessor struct {
	chargeResult  *ChargeResult
	chargeErr     error
	captureResult *ChargeResult
	captureErr    error
	transferID    string
	transferErr   error
	reversalErr   error
	refundErr     error

	sessions map[string]*CheckoutSessionInfo
	intents  map[string]*ChargeResult
	account  *AccountInfo

	chargeCalls   int
	captureCalls  int
	transferCalls int
	reversalCalls int
	refundCalls   int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		sessions: map[string]*CheckoutSessionInfo{},
		intents:  map[string]*ChargeResult{},
	}
}

func (f *fakeProcessor) CreatePaymentCheckout(ctx context.Context, p *models.Payment, car *models.Car, host *models.User, successURL, cancelURL string) (*CheckoutSessionInfo, error) {
	return &CheckoutSessionInfo{ID: "cs_fake_payment", Mode: "payment", Status: "open", URL: "https://checkout.test/pay"}, nil
}

func (f *fakeProcessor) CreateSetupCheckout(ctx context.Context, p *models.Payment, successURL, cancelURL string) (*CheckoutSessionInfo, error) {
	return &CheckoutSessionInfo{ID: "cs_fake_setup", Mode: "setup", Status: "open", URL: "https://checkout.test/setup"}, nil
}

func (f *fakeProcessor) FetchCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionInfo, error) {
	if s, ok := f.sessions[sessionID]; ok {
		return s, nil
	}
	return nil, errFakeNotFound
}

func (f *fakeProcessor) FetchPaymentIntent(ctx context.Context, intentID string) (*ChargeResult, error) {
	if r, ok := f.intents[intentID]; ok {
		return r, nil
	}
	return nil, errFakeNotFound
}

func (f *fakeProcessor) ChargeSavedMethod(ctx context.Context, p *models.Payment, host *models.User) (*ChargeResult, error) {
	f.chargeCalls++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	if f.chargeResult != nil {
		return f.chargeResult, nil
	}
	return &ChargeResult{IntentID: "pi_fake", ChargeID: "ch_fake", Status: "succeeded"}, nil
}

func (f *fakeProcessor) CaptureAuthorization(ctx context.Context, p *models.Payment) (*ChargeResult, error) {
	f.captureCalls++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if f.captureResult != nil {
		return f.captureResult, nil
	}
	return &ChargeResult{IntentID: p.ProcessorIntentID, ChargeID: "ch_captured", Status: "succeeded"}, nil
}

func (f *fakeProcessor) CreateHostTransfer(ctx context.Context, p *models.Payment, host *models.User, keySuffix string) (string, error) {
	f.transferCalls++
	if f.transferErr != nil {
		return "", f.transferErr
	}
	if f.transferID != "" {
		return f.transferID, nil
	}
	return "tr_fake", nil
}

func (f *fakeProcessor) ReverseHostTransfer(ctx context.Context, p *models.Payment) (string, error) {
	f.reversalCalls++
	if f.reversalErr != nil {
		return "", f.reversalErr
	}
	return "trr_fake", nil
}

func (f *fakeProcessor) RefundDeposit(ctx context.Context, p *models.Payment) (string, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return "", f.refundErr
	}
	return "re_fake", nil
}

func (f *fakeProcessor) FetchAccount(ctx context.Context, accountID string) (*AccountInfo, error) {
	if f.account != nil && f.account.ID == accountID {
		return f.account, nil
	}
	return nil, errFakeNotFound
}

func (f *fakeProcessor) IsNotFound(err error) bool {
	return errors.Is(err, errFakeNotFound)
}

// fixture wires a booking plus payment through the real services against an
// in-memory database and a scripted processor.
type fixture struct {
	db        *gorm.DB
	processor *fakeProcessor
	scheduler *Scheduler
	events    *PaymentEvents

	renter  models.User
	host    models.User
	car     models.Car
	booking models.Booking
	payment models.Payment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:        newTestDB(t),
		processor: newFakeProcessor(),
	}
	f.scheduler = NewScheduler(f.db, f.processor, time.Second)
	f.events = NewPaymentEvents(f.db, f.processor, f.scheduler, nil)
	f.scheduler.Events = f.events

	f.renter = models.User{Username: "wanjiru", Email: "wanjiru@test.ke", PasswordHash: "x", UserType: "renter"}
	require.NoError(t, f.db.Create(&f.renter).Error)

	f.host = models.User{
		Username: "otieno", Email: "otieno@test.ke", PasswordHash: "x", UserType: "host",
		ProcessorAccountID: "acct_fake", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true,
	}
	require.NoError(t, f.db.Create(&f.host).Error)

	now := time.Now()
	f.car = models.Car{
		HostID: f.host.ID, Make: "Toyota", CarModel: "Axio", Plate: "KDA 123X",
		PricePerDay: 5000, DepositAmount: 15000,
		AvailableFrom: now.Add(-24 * time.Hour), AvailableTo: now.Add(90 * 24 * time.Hour),
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&f.car).Error)

	start := now.Add(48 * time.Hour)
	end := start.Add(3 * 24 * time.Hour)
	f.booking = models.Booking{
		CarID: f.car.ID, RenterID: f.renter.ID,
		StartDate: start, EndDate: end,
		Status: models.BookingStatusPending, TotalPrice: 35000,
	}
	require.NoError(t, f.db.Create(&f.booking).Error)

	windowEnd := end.Add(72 * time.Hour)
	f.payment = models.Payment{
		BookingID: f.booking.ID, CarID: f.car.ID, RenterID: f.renter.ID, HostID: f.host.ID,
		Currency: "kes", Strategy: models.StrategyDestinationManualCapture,
		RentalAmount: 20000, PlatformFeeAmount: 2000, HostAmount: 18000, DepositAmount: 15000,
		Status:        models.PaymentStatusMethodCollectionPending,
		CaptureStatus: models.CaptureStatusNotRequired,
		DepositStatus: models.DepositStatusNotApplicable,
		PayoutStatus:  models.PayoutStatusBlocked,
		PaymentDueAt:  start.Add(-24 * time.Hour), ReleaseAt: end,
		DepositClaimWindowEndsAt: &windowEnd,
	}
	require.NoError(t, f.db.Create(&f.payment).Error)
	require.NoError(t, f.db.Model(&f.booking).Update("payment_id", f.payment.ID).Error)

	return f
}

func (f *fixture) setPayment(t *testing.T, updates map[string]interface{}) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Payment{}).Where("id = ?", f.payment.ID).Updates(updates).Error)
}

func (f *fixture) setBooking(t *testing.T, updates map[string]interface{}) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Booking{}).Where("id = ?", f.booking.ID).Updates(updates).Error)
}

func (f *fixture) reloadPayment(t *testing.T) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, f.db.First(&p, f.payment.ID).Error)
	return p
}

func (f *fixture) reloadBooking(t *testing.T) models.Booking {
	t.Helper()
	var b models.Booking
	require.NoError(t, f.db.First(&b, f.booking.ID).Error)
	return b
}

func (f *fixture) pendingActions(t *testing.T, action models.ScheduledActionType) []models.ScheduledAction {
	t.Helper()
	var actions []models.ScheduledAction
	q := f.db.Where("payment_id = ? AND status = ?", f.payment.ID, models.ScheduledActionPending)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	require.NoError(t, q.Find(&actions).Error)
	return actions
}
