// Package webhook receives provider notifications over HTTP and applies
// them to the transactions journal.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"easyswitch/internal/logger"
	"easyswitch/internal/metrics"
	"easyswitch/internal/payment"

	"go.uber.org/zap"
)

// maxPayloadBytes caps the body read from a notification.
const maxPayloadBytes = 1 << 20

// Parser authenticates and decodes a raw notification for a provider.
// *client.Client satisfies it.
type Parser interface {
	ValidateWebhook(p payment.Provider, payload []byte, headers http.Header) bool
	ParseWebhook(p payment.Provider, payload []byte, headers http.Header) (*payment.WebhookEvent, error)
}

// Outcomes recorded per provider in Stats.
const (
	OutcomeRejectedSignature = "rejected_signature"
	OutcomeInvalidPayload    = "invalid_payload"
	OutcomeDuplicate         = "duplicate"
	OutcomeNotApplied        = "not_applied"
	OutcomeFailed            = "failed"
	OutcomeProcessed         = "processed"
)

type Handler struct {
	Parser Parser
	Repo   payment.Repository
	// Stats is optional.
	Stats *metrics.Outcomes
}

func NewWebhookHandler(parser Parser, repo payment.Repository, stats *metrics.Outcomes) *Handler {
	return &Handler{Parser: parser, Repo: repo, Stats: stats}
}

// rejectedError is a notification that was stored but cannot be applied.
type rejectedError struct{ reason string }

func (e *rejectedError) Error() string { return e.reason }

func reject(format string, args ...any) error {
	return &rejectedError{reason: fmt.Sprintf(format, args...)}
}

// PaymentWebhookHandler serves POST /webhooks/{provider}. Forged payloads
// get a bare 401 before anything is decoded.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx)
	timer := metrics.StartTimer()

	provider, err := payment.ParseProvider(r.PathValue("provider"))
	if err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	log = log.With(zap.String("provider", string(provider)))
	count := func(outcome string) { h.Stats.Inc(string(provider), outcome) }

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.Parser.ValidateWebhook(provider, body, r.Header) {
		log.Warn("webhook signature rejected")
		count(OutcomeRejectedSignature)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := h.Parser.ParseWebhook(provider, body, r.Header)
	if err != nil {
		if errors.Is(err, payment.ErrWebhookValidation) {
			count(OutcomeRejectedSignature)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		log.Warn("webhook payload rejected", zap.Error(err))
		count(OutcomeInvalidPayload)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if event.TransactionID == "" {
		count(OutcomeInvalidPayload)
		http.Error(w, "missing transaction id", http.StatusBadRequest)
		return
	}
	log = log.With(
		zap.String("transaction_id", event.TransactionID),
		zap.String("event_type", event.EventType),
		zap.String("status", string(event.Status)),
	)

	webhookID, duplicate, err := h.Repo.SaveWebhook(ctx, event, body)
	if err != nil {
		log.Error("failed to store webhook", zap.Error(err))
		count(OutcomeFailed)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if duplicate {
		log.Info("duplicate webhook ignored")
		count(OutcomeDuplicate)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.apply(ctx, event); err != nil {
		if markErr := h.Repo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		var rejected *rejectedError
		if errors.As(err, &rejected) || errors.Is(err, payment.ErrTransactionNotFound) {
			log.Warn("webhook not applied", zap.String("reason", err.Error()))
			count(OutcomeNotApplied)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("webhook processing failed", zap.Error(err))
		count(OutcomeFailed)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.Repo.MarkWebhookProcessed(ctx, webhookID); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
	}
	count(OutcomeProcessed)
	log.Info("webhook processed", zap.Duration("duration", timer.Duration()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// apply moves the journaled transaction to the status reported by event.
func (h *Handler) apply(ctx context.Context, event *payment.WebhookEvent) error {
	rec, err := h.Repo.GetTransaction(ctx, event.Provider, event.TransactionID)
	if err != nil {
		return err
	}

	if !event.Amount.IsZero() && !rec.Amount.IsZero() && !event.Amount.Equal(rec.Amount) {
		return reject("amount mismatch: webhook=%s db=%s", event.Amount, rec.Amount)
	}
	if event.Currency != "" && rec.Currency != "" && event.Currency != rec.Currency {
		return reject("currency mismatch")
	}

	if event.Status == payment.StatusUnknown || event.Status == rec.Status {
		return nil
	}
	if !allowedTransition(rec.Status, event.Status) {
		return reject("invalid transition %s -> %s", rec.Status, event.Status)
	}
	return h.Repo.UpdateTransactionStatus(ctx, event.Provider, event.TransactionID, event.Status)
}

// allowedTransition keeps settled transactions settled. The one exception
// is a successful payment being refunded.
func allowedTransition(from, to payment.TransactionStatus) bool {
	switch from {
	case "", payment.StatusUnknown, payment.StatusPending, payment.StatusProcessing, payment.StatusInitiated:
		return true
	case payment.StatusSuccessful, payment.StatusCompleted, payment.StatusTransferred:
		return to == payment.StatusRefunded
	}
	return false
}
