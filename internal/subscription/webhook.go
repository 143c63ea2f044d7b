package subscription

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type subscriptionWriter interface {
	Activate(ctx context.Context, p ActivateParams) error
	UpdateStatus(ctx context.Context, stripeSubscriptionID string, status Status) (bool, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler processes Stripe billing events for the subscription
// lifecycle. Mounted without auth middleware; the signature is the auth.
type WebhookHandler struct {
	webhookSecret string
	subs          subscriptionWriter
	processed     processedTracker
	logger        *logging.Logger
}

func NewWebhookHandler(webhookSecret string, subs subscriptionWriter, processed processedTracker, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		subs:          subs,
		processed:     processed,
		logger:        logger,
	}
}

// Handle processes incoming Stripe billing webhook events.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if h.webhookSecret != "" {
		if !verifyStripeSignature(h.webhookSecret, body, r.Header.Get("Stripe-Signature")) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if event.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	var handle func(context.Context, json.RawMessage) error
	switch event.Type {
	case "checkout.session.completed":
		handle = h.handleCheckoutCompleted
	case "invoice.payment_succeeded":
		handle = h.handlePaymentSucceeded
	case "invoice.payment_failed":
		handle = h.handlePaymentFailed
	case "customer.subscription.deleted":
		handle = h.handleSubscriptionCancelled
	default:
		h.logger.Info("billing webhook: unhandled event", "type", event.Type)
		writeReceived(w)
		return
	}

	if h.processed != nil {
		done, err := h.processed.AlreadyProcessed(r.Context(), "stripe", event.ID)
		if err != nil {
			h.logger.Error("billing webhook: processed lookup failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if done {
			writeReceived(w)
			return
		}
	}

	if err := handle(r.Context(), event.Data.Object); err != nil {
		h.logger.Error("billing webhook: event failed", "type", event.Type, "event_id", event.ID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(r.Context(), "stripe", event.ID); err != nil {
			h.logger.Error("billing webhook: failed to record processed event", "error", err)
		}
	}

	writeReceived(w)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, data json.RawMessage) error {
	var session struct {
		ID                string            `json:"id"`
		Customer          string            `json:"customer"`
		Subscription      string            `json:"subscription"`
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
		CustomerDetails   struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer_details"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	practiceID := session.Metadata["practice_id"]
	if practiceID == "" {
		practiceID = session.ClientReferenceID
	}
	if practiceID == "" || session.Subscription == "" {
		// Acknowledge to stop retries; nothing to bind the session to.
		h.logger.Warn("billing webhook: checkout session missing practice or subscription",
			"session_id", session.ID, "practice_id", practiceID)
		return nil
	}

	h.logger.Info("billing: checkout completed",
		"practice_id", practiceID,
		"subscription", session.Subscription,
		"plan", session.Metadata["plan"],
	)

	return h.subs.Activate(ctx, ActivateParams{
		PracticeID:           practiceID,
		Plan:                 session.Metadata["plan"],
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		Email:                session.CustomerDetails.Email,
		CustomerName:         session.CustomerDetails.Name,
	})
}

func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, data json.RawMessage) error {
	return h.updateFromInvoice(ctx, data, StatusActive)
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, data json.RawMessage) error {
	return h.updateFromInvoice(ctx, data, StatusPastDue)
}

func (h *WebhookHandler) updateFromInvoice(ctx context.Context, data json.RawMessage, status Status) error {
	var invoice struct {
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(data, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	if invoice.Subscription == "" {
		h.logger.Warn("billing webhook: invoice without subscription", "customer", invoice.Customer)
		return nil
	}

	updated, err := h.subs.UpdateStatus(ctx, invoice.Subscription, status)
	if err != nil {
		return err
	}
	if !updated {
		h.logger.Warn("billing webhook: invoice for unknown subscription",
			"subscription", invoice.Subscription, "status", status)
	}
	return nil
}

func (h *WebhookHandler) handleSubscriptionCancelled(ctx context.Context, data json.RawMessage) error {
	var sub struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	if sub.ID == "" {
		return nil
	}

	h.logger.Info("billing: subscription cancelled", "subscription", sub.ID, "customer", sub.Customer)

	updated, err := h.subs.UpdateStatus(ctx, sub.ID, StatusCancelled)
	if err != nil {
		return err
	}
	if !updated {
		h.logger.Warn("billing webhook: cancellation for unknown subscription", "subscription", sub.ID)
	}
	return nil
}

func writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}

// verifyStripeSignature checks the Stripe-Signature header,
// t=<timestamp>,v1=<hmac>[,v1=<hmac>], against HMAC-SHA256 of
// "timestamp.payload" with a 5 minute timestamp tolerance.
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
