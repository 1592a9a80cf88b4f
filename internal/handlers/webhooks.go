package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/mainamwangi/gariyetu-backend/pkg/utils"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

const webhookMaxBodyBytes = 65536

// StripeWebhook ingests processor notifications. The signature is verified
// against the raw body, duplicates are short-circuited through Redis, and each
// event type maps onto one idempotent transition; a processing error returns
// 500 so the processor redelivers.
func StripeWebhook(events *services.PaymentEvents, reconciler *services.Reconciler) gin.HandlerFunc {
	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBodyBytes)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("Failed to read request body"))
			return
		}

		event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), secret)
		if err != nil {
			utils.HandleError(c, utils.NewInvalidInputError("Invalid webhook signature"))
			return
		}

		ctx := c.Request.Context()
		fresh, err := services.MarkEventSeen(ctx, event.ID)
		if err == nil && !fresh {
			c.JSON(200, gin.H{"received": true, "duplicate": true})
			return
		}

		outcome, err := dispatchStripeEvent(c, events, reconciler, &event)
		if err != nil {
			services.UnmarkEventSeen(ctx, event.ID)
			utils.HandleError(c, utils.NewInternalError("Failed to process event"))
			return
		}

		c.JSON(200, gin.H{"received": true, "applied": outcome.Applied, "reason": outcome.Reason})
	}
}

func dispatchStripeEvent(c *gin.Context, events *services.PaymentEvents, reconciler *services.Reconciler, event *stripe.Event) (services.Outcome, error) {
	ctx := c.Request.Context()

	switch event.Type {
	case "checkout.session.completed":
		// The raw event omits the expanded intents, so the session is
		// re-fetched; this is the same path the renter's redirect takes.
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return services.Outcome{}, err
		}
		return reconciler.ConfirmRedirect(ctx, sess.ID)

	case "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return services.Outcome{}, err
		}
		p, err := paymentForWebhook(events, sess.ID, "", sess.Metadata["payment_id"])
		if err != nil {
			return ignoreUnknownPayment(err)
		}
		return events.ApplyPaymentFailed(ctx, event.ID, p.ID, "checkout session expired")

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return services.Outcome{}, err
		}
		p, err := paymentForWebhook(events, "", pi.ID, pi.Metadata["payment_id"])
		if err != nil {
			return ignoreUnknownPayment(err)
		}
		result := services.ChargeResult{IntentID: pi.ID, Status: string(pi.Status)}
		if pi.LatestCharge != nil {
			result.ChargeID = pi.LatestCharge.ID
		}
		if pi.Customer != nil {
			result.CustomerID = pi.Customer.ID
		}
		if pi.PaymentMethod != nil {
			result.MethodID = pi.PaymentMethod.ID
		}
		return events.ApplyPaymentSucceeded(ctx, event.ID, p.ID, result)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return services.Outcome{}, err
		}
		p, err := paymentForWebhook(events, "", pi.ID, pi.Metadata["payment_id"])
		if err != nil {
			return ignoreUnknownPayment(err)
		}
		reason := "payment failed at processor"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return events.ApplyPaymentFailed(ctx, event.ID, p.ID, reason)

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return services.Outcome{}, err
		}
		intentID := ""
		if ch.PaymentIntent != nil {
			intentID = ch.PaymentIntent.ID
		}
		p, err := paymentForWebhook(events, "", intentID, ch.Metadata["payment_id"])
		if err != nil {
			return ignoreUnknownPayment(err)
		}
		amount := utils.FromMinorUnits(ch.AmountRefunded)
		purpose := ""
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			latest := ch.Refunds.Data[0]
			amount = utils.FromMinorUnits(latest.Amount)
			purpose = latest.Metadata["purpose"]
		}
		return events.ApplyChargeRefunded(ctx, event.ID, p.ID, amount, purpose)

	case "charge.dispute.created":
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return services.Outcome{}, err
		}
		intentID := ""
		if d.PaymentIntent != nil {
			intentID = d.PaymentIntent.ID
		}
		p, err := paymentForWebhook(events, "", intentID, "")
		if err != nil {
			return ignoreUnknownPayment(err)
		}
		return events.ApplyDisputeCreated(ctx, event.ID, p.ID)

	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return services.Outcome{}, err
		}
		return events.ApplyAccountUpdated(ctx, services.AccountInfo{
			ID:               acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		})
	}

	return services.Skipped("event type not handled"), nil
}

// paymentForWebhook resolves a payment from whichever processor reference the
// event carries, falling back to the payment id in metadata.
func paymentForWebhook(events *services.PaymentEvents, sessionID, intentID, metadataID string) (*models.Payment, error) {
	if sessionID != "" {
		if p, err := events.FindPaymentBySession(sessionID); err == nil {
			return p, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if intentID != "" {
		if p, err := events.FindPaymentByIntent(intentID); err == nil {
			return p, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return events.FindPaymentByMetadataID(metadataID)
}

// ignoreUnknownPayment acknowledges events for payments this platform does not
// track, so the processor stops redelivering them.
func ignoreUnknownPayment(err error) (services.Outcome, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.Skipped("no payment for event"), nil
	}
	return services.Outcome{}, err
}
