package claims

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// remittanceOutcomes maps clearinghouse webhook event types onto the claim
// lifecycle.
var remittanceOutcomes = map[string]string{
	"claim.accepted": StatusAccepted,
	"claim.rejected": StatusRejected,
	"claim.paid":     StatusPaid,
	"claim.denied":   StatusDenied,
}

// WebhookHandler receives adjudication results posted back by the
// clearinghouse. The endpoint is public, so requests are authenticated by
// the HMAC signature header and deduplicated through processed_events.
type WebhookHandler struct {
	secret    string
	service   *Service
	store     *Store
	processed processedTracker
	metrics   *metrics.ClaimsMetrics
	logger    *logging.Logger
	nowFunc   func() time.Time
}

// WebhookConfig wires the webhook handler.
type WebhookConfig struct {
	Secret    string
	Service   *Service
	Store     *Store
	Processed processedTracker
	Metrics   *metrics.ClaimsMetrics
	Logger    *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		secret:    cfg.Secret,
		service:   cfg.Service,
		store:     cfg.Store,
		processed: cfg.Processed,
		metrics:   cfg.Metrics,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

type remittanceEvent struct {
	ID   string `json:"event_id"`
	Type string `json:"type"`
	Data struct {
		ClaimNumber      string `json:"claim_number"`
		PayerClaimID     string `json:"payer_claim_id"`
		PaidCents        int64  `json:"paid_cents"`
		PatientOwesCents int64  `json:"patient_owes_cents"`
		Reason           string `json:"reason"`
	} `json:"data"`
}

// Handle processes a clearinghouse remittance webhook. Events the handler
// cannot act on (unknown types, unknown claims, decisions that arrive out of
// order) are acknowledged with 200 so the clearinghouse stops retrying them.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := h.nowFunc()

	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if h.secret != "" {
		if !h.verifySignature(body, r.Header.Get("X-Clearinghouse-Signature")) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var evt remittanceEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if processed, err := h.processed.AlreadyProcessed(r.Context(), "clearinghouse", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
	} else if processed {
		h.logger.Info("duplicate remittance event", "event_id", evt.ID)
		writeReceived(w)
		return
	}

	outcome, ok := remittanceOutcomes[evt.Type]
	if !ok {
		h.logger.Info("remittance webhook: unhandled event", "type", evt.Type)
		writeReceived(w)
		return
	}

	claim, err := h.store.GetByNumber(r.Context(), evt.Data.ClaimNumber)
	if err != nil {
		if errors.Is(err, ErrClaimNotFound) {
			h.logger.Warn("remittance for unknown claim",
				"claim_number", evt.Data.ClaimNumber, "event_id", evt.ID)
			writeReceived(w)
			return
		}
		h.logger.Error("claim lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	_, err = h.service.ApplyRemittance(r.Context(), claim.PracticeID, claim.ID, Remittance{
		Outcome:          outcome,
		PaidCents:        evt.Data.PaidCents,
		PatientOwesCents: evt.Data.PatientOwesCents,
		Reason:           evt.Data.Reason,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			h.logger.Warn("remittance out of order",
				"claim_number", claim.ClaimNumber, "status", claim.Status, "outcome", outcome)
			writeReceived(w)
			return
		}
		h.logger.Error("remittance failed", "error", err, "event_id", evt.ID)
		http.Error(w, "remittance failed", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(r.Context(), "clearinghouse", evt.ID); err != nil {
		h.logger.Error("failed to mark remittance processed", "error", err, "event_id", evt.ID)
	}
	h.metrics.ObserveWebhookLatency(evt.Type, h.nowFunc().Sub(start).Seconds())
	writeReceived(w)
}

func (h *WebhookHandler) verifySignature(payload []byte, sigHeader string) bool {
	if sigHeader == "" {
		return false
	}
	var timestamp, sig string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if timestamp == "" || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}
