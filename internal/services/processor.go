package services

import (
	"context"
	"fmt"
	"os"

	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/account"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/transferreversal"
	"github.com/stripe/stripe-go/v76/transfer"
)

// CheckoutSessionInfo is the boundary view of a processor checkout session.
// Processor payloads are dynamic; everything the orchestrator needs is copied
// into this explicit struct at the boundary and validated there.
type CheckoutSessionInfo struct {
	ID                string
	Mode              string // "payment" or "setup"
	Status            string // "open", "complete", "expired"
	PaymentStatus     string // "paid", "unpaid", "no_payment_required"
	URL               string
	CustomerID        string
	PaymentIntentID   string
	SetupIntentID     string
	PaymentMethodID   string
	ChargeID          string
	MetadataPaymentID string
}

// ChargeResult is the boundary view of a payment intent / charge outcome.
type ChargeResult struct {
	IntentID   string
	ChargeID   string
	CustomerID string
	MethodID   string
	Status     string // processor intent status, e.g. "succeeded", "requires_capture"
}

// AccountInfo is the boundary view of a host's processor account.
type AccountInfo struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// ChargeDeclinedError marks a charge the processor rejected for a
// non-transient reason (declined card, expired authorization). Anything else
// returned by the processor is treated as transient and retried on the
// scheduler's next firing.
type ChargeDeclinedError struct {
	Code    string
	Message string
}

func (e *ChargeDeclinedError) Error() string {
	return fmt.Sprintf("charge declined (%s): %s", e.Code, e.Message)
}

// AuthorizationExpiredCode is the processor's code for a capture attempted
// after the authorization hold lapsed.
const AuthorizationExpiredCode = "charge_expired_for_capture"

// PaymentProcessor is the outbound interface to the payment processor. Every
// mutating call carries an idempotency key so client-side retries of a
// timed-out call cannot double-charge or double-transfer.
type PaymentProcessor interface {
	CreatePaymentCheckout(ctx context.Context, p *models.Payment, car *models.Car, host *models.User, successURL, cancelURL string) (*CheckoutSessionInfo, error)
	CreateSetupCheckout(ctx context.Context, p *models.Payment, successURL, cancelURL string) (*CheckoutSessionInfo, error)
	FetchCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionInfo, error)
	FetchPaymentIntent(ctx context.Context, intentID string) (*ChargeResult, error)
	ChargeSavedMethod(ctx context.Context, p *models.Payment, host *models.User) (*ChargeResult, error)
	CaptureAuthorization(ctx context.Context, p *models.Payment) (*ChargeResult, error)
	CreateHostTransfer(ctx context.Context, p *models.Payment, host *models.User, keySuffix string) (string, error)
	ReverseHostTransfer(ctx context.Context, p *models.Payment) (string, error)
	RefundDeposit(ctx context.Context, p *models.Payment) (string, error)
	FetchAccount(ctx context.Context, accountID string) (*AccountInfo, error)
	IsNotFound(err error) bool
}

// StripeProcessor implements PaymentProcessor against Stripe.
type StripeProcessor struct{}

// InitProcessor configures the Stripe client from the environment.
func InitProcessor() error {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY not set")
	}
	stripe.Key = key
	return nil
}

func NewStripeProcessor() *StripeProcessor {
	return &StripeProcessor{}
}

// idempotencyKey builds a stable key from payment id plus semantic purpose so
// retries of the same logical operation are deduplicated by the processor.
func idempotencyKey(p *models.Payment, purpose, suffix string) string {
	key := fmt.Sprintf("pay-%d-%s", p.ID, purpose)
	if suffix != "" {
		key += "-" + suffix
	}
	return key
}

// CreatePaymentCheckout starts an immediate-payment flow for the rental plus
// deposit. Under the manual-capture strategy the funds are only authorized and
// routed to the host's account at capture time.
func (s *StripeProcessor) CreatePaymentCheckout(ctx context.Context, p *models.Payment, car *models.Car, host *models.User, successURL, cancelURL string) (*CheckoutSessionInfo, error) {
	total := p.RentalAmount + p.DepositAmount
	intentData := &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{
			"payment_id": fmt.Sprintf("%d", p.ID),
			"booking_id": fmt.Sprintf("%d", p.BookingID),
		},
	}
	if p.Strategy == models.StrategyDestinationManualCapture {
		intentData.CaptureMethod = stripe.String("manual")
		intentData.ApplicationFeeAmount = stripe.Int64(utils.ToMinorUnits(p.PlatformFeeAmount + p.DepositAmount))
		intentData.TransferData = &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
			Destination: stripe.String(host.ProcessorAccountID),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", p.ID)),
		PaymentIntentData: intentData,
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(utils.ToMinorUnits(total)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s %s rental", car.Make, car.CarModel)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "checkout", ""))
	params.AddMetadata("payment_id", fmt.Sprintf("%d", p.ID))

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

// CreateSetupCheckout starts a payment-method-setup flow; the saved method is
// charged off-session at the payment due date.
func (s *StripeProcessor) CreateSetupCheckout(ctx context.Context, p *models.Payment, successURL, cancelURL string) (*CheckoutSessionInfo, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
		ClientReferenceID:  stripe.String(fmt.Sprintf("%d", p.ID)),
		Currency:           stripe.String(p.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SetupIntentData: &stripe.CheckoutSessionSetupIntentDataParams{
			Metadata: map[string]string{
				"payment_id": fmt.Sprintf("%d", p.ID),
				"booking_id": fmt.Sprintf("%d", p.BookingID),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "setup", ""))
	params.AddMetadata("payment_id", fmt.Sprintf("%d", p.ID))

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

// FetchCheckoutSession re-fetches a session with its intent expanded. This is
// the authoritative read used by the redirect-confirm path and the stale sweep.
func (s *StripeProcessor) FetchCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionInfo, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	params.AddExpand("payment_intent.latest_charge")
	params.AddExpand("setup_intent")

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

func (s *StripeProcessor) FetchPaymentIntent(ctx context.Context, intentID string) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, err
	}
	return intentResult(pi), nil
}

// ChargeSavedMethod runs the deferred off-session charge at the payment due
// date. The due date is part of the idempotency key so a rescheduled charge
// after an earlier decline gets its own key.
func (s *StripeProcessor) ChargeSavedMethod(ctx context.Context, p *models.Payment, host *models.User) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(utils.ToMinorUnits(p.RentalAmount + p.DepositAmount)),
		Currency:      stripe.String(p.Currency),
		Customer:      stripe.String(p.ProcessorCustomerID),
		PaymentMethod: stripe.String(p.ProcessorMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"payment_id": fmt.Sprintf("%d", p.ID),
			"booking_id": fmt.Sprintf("%d", p.BookingID),
		},
	}
	if p.Strategy == models.StrategyDestinationManualCapture {
		params.CaptureMethod = stripe.String("manual")
		params.ApplicationFeeAmount = stripe.Int64(utils.ToMinorUnits(p.PlatformFeeAmount + p.DepositAmount))
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(host.ProcessorAccountID),
		}
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "charge", p.PaymentDueAt.UTC().Format("20060102")))

	pi, err := paymentintent.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			return nil, &ChargeDeclinedError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
		}
		return nil, err
	}
	return intentResult(pi), nil
}

// CaptureAuthorization converts the held authorization into an actual funds
// transfer. Under the manual-capture strategy this moves the host's share to
// their account atomically.
func (s *StripeProcessor) CaptureAuthorization(ctx context.Context, p *models.Payment) (*ChargeResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "capture", ""))

	pi, err := paymentintent.Capture(p.ProcessorIntentID, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok {
			if string(stripeErr.Code) == AuthorizationExpiredCode {
				return nil, &ChargeDeclinedError{Code: AuthorizationExpiredCode, Message: stripeErr.Msg}
			}
			if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Type == stripe.ErrorTypeInvalidRequest {
				return nil, &ChargeDeclinedError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
			}
		}
		return nil, err
	}
	return intentResult(pi), nil
}

// CreateHostTransfer forwards the host's share under the fallback strategy.
func (s *StripeProcessor) CreateHostTransfer(ctx context.Context, p *models.Payment, host *models.User, keySuffix string) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(utils.ToMinorUnits(p.HostAmount)),
		Currency:      stripe.String(p.Currency),
		Destination:   stripe.String(host.ProcessorAccountID),
		TransferGroup: stripe.String(fmt.Sprintf("booking-%d", p.BookingID)),
		Metadata: map[string]string{
			"payment_id": fmt.Sprintf("%d", p.ID),
			"booking_id": fmt.Sprintf("%d", p.BookingID),
		},
	}
	if p.ProcessorChargeID != "" {
		params.SourceTransaction = stripe.String(p.ProcessorChargeID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "transfer", keySuffix))

	tr, err := transfer.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

// ReverseHostTransfer pulls back an already-issued host transfer after a
// dispute.
func (s *StripeProcessor) ReverseHostTransfer(ctx context.Context, p *models.Payment) (string, error) {
	params := &stripe.TransferReversalParams{
		ID: stripe.String(p.TransferID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "reversal", ""))

	rev, err := transferreversal.New(params)
	if err != nil {
		return "", err
	}
	return rev.ID, nil
}

// RefundDeposit refunds exactly the deposit sub-amount. The purpose metadata
// tag lets event ingestion classify the refund without relying on amount
// equality.
func (s *StripeProcessor) RefundDeposit(ctx context.Context, p *models.Payment) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.ProcessorIntentID),
		Amount:        stripe.Int64(utils.ToMinorUnits(p.DepositAmount)),
		Metadata: map[string]string{
			"payment_id": fmt.Sprintf("%d", p.ID),
			"purpose":    "deposit",
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(p, "deposit-refund", ""))

	ref, err := refund.New(params)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// FetchAccount reads the authoritative state of a host's connected account.
func (s *StripeProcessor) FetchAccount(ctx context.Context, accountID string) (*AccountInfo, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := account.GetByID(accountID, params)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

// IsNotFound reports whether the processor said the referenced object does not
// exist, which the sweep's fallback chain treats as "try the next lookup".
func (s *StripeProcessor) IsNotFound(err error) bool {
	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		return false
	}
	return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func sessionInfo(sess *stripe.CheckoutSession) *CheckoutSessionInfo {
	info := &CheckoutSessionInfo{
		ID:            sess.ID,
		Mode:          string(sess.Mode),
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		URL:           sess.URL,
	}
	if sess.Customer != nil {
		info.CustomerID = sess.Customer.ID
	}
	if sess.Metadata != nil {
		info.MetadataPaymentID = sess.Metadata["payment_id"]
	}
	if sess.PaymentIntent != nil {
		info.PaymentIntentID = sess.PaymentIntent.ID
		if sess.PaymentIntent.LatestCharge != nil {
			info.ChargeID = sess.PaymentIntent.LatestCharge.ID
		}
		if sess.PaymentIntent.PaymentMethod != nil {
			info.PaymentMethodID = sess.PaymentIntent.PaymentMethod.ID
		}
		if sess.PaymentIntent.Customer != nil && info.CustomerID == "" {
			info.CustomerID = sess.PaymentIntent.Customer.ID
		}
	}
	if sess.SetupIntent != nil {
		info.SetupIntentID = sess.SetupIntent.ID
		if sess.SetupIntent.PaymentMethod != nil {
			info.PaymentMethodID = sess.SetupIntent.PaymentMethod.ID
		}
		if sess.SetupIntent.Customer != nil && info.CustomerID == "" {
			info.CustomerID = sess.SetupIntent.Customer.ID
		}
	}
	return info
}

func intentResult(pi *stripe.PaymentIntent) *ChargeResult {
	res := &ChargeResult{
		IntentID: pi.ID,
		Status:   string(pi.Status),
	}
	if pi.LatestCharge != nil {
		res.ChargeID = pi.LatestCharge.ID
	}
	if pi.Customer != nil {
		res.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		res.MethodID = pi.PaymentMethod.ID
	}
	return res
}
