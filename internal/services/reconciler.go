package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mainamwangi/gariyetu-backend/internal/models"
	"gorm.io/gorm"
)

// Reconciler re-derives truth from the processor for payments suspected of
// missing a notification. Two independent corrective paths exist: the
// renter's redirect back from the external payment flow, and a periodic sweep
// over payments stuck in a pending status. Both apply the exact same
// transitions as event ingestion, with deterministic synthetic event ids, so
// any interleaving of webhook, redirect and sweep converges to the same state.
type Reconciler struct {
	DB         *gorm.DB
	Processor  PaymentProcessor
	Events     *PaymentEvents
	StaleAfter time.Duration
}

func NewReconciler(db *gorm.DB, processor PaymentProcessor, events *PaymentEvents, staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Reconciler{DB: db, Processor: processor, Events: events, StaleAfter: staleAfter}
}

// ConfirmRedirect is called when the renter's client returns from the
// external payment flow. The session is re-fetched synchronously because the
// redirect can beat the processor's notification.
func (r *Reconciler) ConfirmRedirect(ctx context.Context, sessionID string) (Outcome, error) {
	info, err := r.Processor.FetchCheckoutSession(ctx, sessionID)
	if err != nil {
		if r.Processor.IsNotFound(err) {
			return Skipped("session unknown to processor"), nil
		}
		return Outcome{}, err
	}
	p, err := r.paymentForSession(info)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Skipped("no payment for session"), nil
		}
		return Outcome{}, err
	}
	return r.applySession(ctx, p, info)
}

// SweepReport summarizes one stale-sweep pass.
type SweepReport struct {
	RunID    string `json:"runId"`
	Scanned  int    `json:"scanned"`
	Resolved int    `json:"resolved"`
	Errors   int    `json:"errors"`
}

// SweepStale lists payments stuck in a pending status past the staleness
// threshold and re-fetches authoritative processor state for each. Lookups
// fall back from session id to the metadata payment id to the intent id; each
// fallback only runs if the previous one did not resolve the payment.
func (r *Reconciler) SweepStale(ctx context.Context) (SweepReport, error) {
	report := SweepReport{RunID: uuid.NewString()}
	cutoff := time.Now().Add(-r.StaleAfter)

	var stale []models.Payment
	err := r.DB.Where("status IN ?", []models.PaymentStatus{
		models.PaymentStatusMethodCollectionPending,
		models.PaymentStatusCheckoutCreated,
	}).Where("updated_at < ?", cutoff).
		Order("updated_at").
		Limit(100).
		Find(&stale).Error
	if err != nil {
		return report, err
	}

	report.Scanned = len(stale)
	for i := range stale {
		p := &stale[i]
		out, err := r.reconcilePayment(ctx, p)
		if err != nil {
			report.Errors++
			log.Printf("Sweep %s: payment %d reconcile error: %v", report.RunID, p.ID, err)
			continue
		}
		if out.Applied {
			report.Resolved++
		}
	}
	log.Printf("Sweep %s: scanned=%d resolved=%d errors=%d", report.RunID, report.Scanned, report.Resolved, report.Errors)
	return report, nil
}

// Run executes the sweep on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepStale(ctx); err != nil {
				log.Printf("Stale sweep error: %v", err)
			}
		}
	}
}

func (r *Reconciler) reconcilePayment(ctx context.Context, p *models.Payment) (Outcome, error) {
	// 1. By session id, then 2. by the payment id embedded in session
	// metadata, in case the stored session id points at a session that was
	// re-created for a different payment row.
	if p.ProcessorSessionID != "" {
		info, err := r.Processor.FetchCheckoutSession(ctx, p.ProcessorSessionID)
		if err == nil {
			out, applyErr := r.applySession(ctx, p, info)
			if applyErr != nil || out.Applied {
				return out, applyErr
			}
			if info.MetadataPaymentID != "" {
				if byMeta, merr := r.Events.FindPaymentByMetadataID(info.MetadataPaymentID); merr == nil && byMeta.ID != p.ID {
					out, applyErr = r.applySession(ctx, byMeta, info)
					if applyErr != nil || out.Applied {
						return out, applyErr
					}
				}
			}
		} else if !r.Processor.IsNotFound(err) {
			return Outcome{}, err
		}
	}

	// 3. By processor intent id.
	if p.ProcessorIntentID != "" {
		result, err := r.Processor.FetchPaymentIntent(ctx, p.ProcessorIntentID)
		if err != nil {
			if r.Processor.IsNotFound(err) {
				return Skipped("intent unknown to processor"), nil
			}
			return Outcome{}, err
		}
		return r.applyIntent(ctx, p, result)
	}

	return Skipped("no processor reference resolved the payment"), nil
}

// applySession maps a fetched session onto the same transitions event
// ingestion performs, under a deterministic synthetic event id.
func (r *Reconciler) applySession(ctx context.Context, p *models.Payment, info *CheckoutSessionInfo) (Outcome, error) {
	switch {
	case info.Mode == "setup" && info.Status == "complete":
		eventID := fmt.Sprintf("recon-session-%s-setup", info.ID)
		return r.Events.ApplyMethodCollected(ctx, eventID, p.ID, MethodCollectedInfo{
			CustomerID: info.CustomerID,
			MethodID:   info.PaymentMethodID,
		})
	case info.Mode == "payment" && info.PaymentStatus == "paid":
		eventID := fmt.Sprintf("recon-session-%s-paid", info.ID)
		return r.Events.ApplyPaymentSucceeded(ctx, eventID, p.ID, ChargeResult{
			IntentID:   info.PaymentIntentID,
			ChargeID:   info.ChargeID,
			CustomerID: info.CustomerID,
			MethodID:   info.PaymentMethodID,
		})
	case info.Status == "expired":
		eventID := fmt.Sprintf("recon-session-%s-expired", info.ID)
		return r.Events.ApplyPaymentFailed(ctx, eventID, p.ID, "checkout session expired")
	}
	return Skipped("session not yet payable"), nil
}

func (r *Reconciler) applyIntent(ctx context.Context, p *models.Payment, result *ChargeResult) (Outcome, error) {
	switch result.Status {
	case "succeeded", "requires_capture":
		eventID := fmt.Sprintf("recon-intent-%s-paid", result.IntentID)
		return r.Events.ApplyPaymentSucceeded(ctx, eventID, p.ID, *result)
	case "canceled":
		eventID := fmt.Sprintf("recon-intent-%s-failed", result.IntentID)
		return r.Events.ApplyPaymentFailed(ctx, eventID, p.ID, "payment intent cancelled at processor")
	}
	return Skipped("intent not yet conclusive"), nil
}

func (r *Reconciler) paymentForSession(info *CheckoutSessionInfo) (*models.Payment, error) {
	p, err := r.Events.FindPaymentBySession(info.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return r.Events.FindPaymentByMetadataID(info.MetadataPaymentID)
}
