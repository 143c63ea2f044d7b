package subscription

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type fakeSubscriptionStore struct {
	activated     []ActivateParams
	activateErr   error
	statusUpdates map[string]Status
	updateErr     error
	missing       bool
}

func (f *fakeSubscriptionStore) Activate(ctx context.Context, p ActivateParams) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, p)
	return nil
}

func (f *fakeSubscriptionStore) UpdateStatus(ctx context.Context, stripeSubscriptionID string, status Status) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	if f.statusUpdates == nil {
		f.statusUpdates = map[string]Status{}
	}
	f.statusUpdates[stripeSubscriptionID] = status
	return !f.missing, nil
}

type fakeProcessed struct {
	seen   map[string]bool
	marked []string
	err    error
}

func (f *fakeProcessed) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[provider+":"+eventID], nil
}

func (f *fakeProcessed) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	f.marked = append(f.marked, eventID)
	return true, nil
}

func signStripePayload(secret string, payload []byte) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(h *WebhookHandler, body string, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/subscription/webhook", strings.NewReader(body))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

const checkoutCompletedEvent = `{
	"id": "evt_1",
	"type": "checkout.session.completed",
	"data": {"object": {
		"id": "cs_123",
		"customer": "cus_123",
		"subscription": "sub_123",
		"client_reference_id": "prac-1",
		"metadata": {"practice_id": "prac-1", "plan": "practice"},
		"customer_details": {"email": "office@lakesidefm.example", "name": "Lakeside Family Medicine"}
	}}
}`

func TestWebhookCheckoutCompleted(t *testing.T) {
	store := &fakeSubscriptionStore{}
	processed := &fakeProcessed{}
	h := NewWebhookHandler("whsec_test", store, processed, logging.New("error"))

	sig := signStripePayload("whsec_test", []byte(checkoutCompletedEvent))
	rec := postWebhook(h, checkoutCompletedEvent, sig)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp["received"] {
		t.Fatal("expected received:true")
	}

	if len(store.activated) != 1 {
		t.Fatalf("expected 1 activation, got %d", len(store.activated))
	}
	got := store.activated[0]
	if got.PracticeID != "prac-1" || got.Plan != "practice" {
		t.Fatalf("unexpected activation: %#v", got)
	}
	if got.StripeSubscriptionID != "sub_123" || got.StripeCustomerID != "cus_123" {
		t.Fatalf("unexpected stripe ids: %#v", got)
	}
	if got.Email != "office@lakesidefm.example" {
		t.Fatalf("unexpected email: %q", got.Email)
	}

	if len(processed.marked) != 1 || processed.marked[0] != "evt_1" {
		t.Fatalf("expected event marked processed, got %v", processed.marked)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := &fakeSubscriptionStore{}
	h := NewWebhookHandler("whsec_test", store, &fakeProcessed{}, logging.New("error"))

	if rec := postWebhook(h, checkoutCompletedEvent, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: status = %d", rec.Code)
	}

	wrong := signStripePayload("whsec_other", []byte(checkoutCompletedEvent))
	if rec := postWebhook(h, checkoutCompletedEvent, wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}

	if len(store.activated) != 0 {
		t.Fatal("expected no activation on rejected events")
	}
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	h := NewWebhookHandler("whsec_test", &fakeSubscriptionStore{}, &fakeProcessed{}, logging.New("error"))

	ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write([]byte(checkoutCompletedEvent))
	sig := fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	if rec := postWebhook(h, checkoutCompletedEvent, sig); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookSkipsProcessedEvents(t *testing.T) {
	store := &fakeSubscriptionStore{}
	processed := &fakeProcessed{seen: map[string]bool{"stripe:evt_1": true}}
	h := NewWebhookHandler("", store, processed, logging.New("error"))

	rec := postWebhook(h, checkoutCompletedEvent, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.activated) != 0 {
		t.Fatal("expected duplicate event to be skipped")
	}
	if len(processed.marked) != 0 {
		t.Fatal("expected no re-mark of a processed event")
	}
}

func TestWebhookPaymentFailedMarksPastDue(t *testing.T) {
	store := &fakeSubscriptionStore{}
	h := NewWebhookHandler("", store, &fakeProcessed{}, logging.New("error"))

	body := `{"id":"evt_2","type":"invoice.payment_failed","data":{"object":{"customer":"cus_123","subscription":"sub_123"}}}`
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.statusUpdates["sub_123"] != StatusPastDue {
		t.Fatalf("expected past_due, got %v", store.statusUpdates)
	}
}

func TestWebhookPaymentSucceededMarksActive(t *testing.T) {
	store := &fakeSubscriptionStore{}
	h := NewWebhookHandler("", store, &fakeProcessed{}, logging.New("error"))

	body := `{"id":"evt_3","type":"invoice.payment_succeeded","data":{"object":{"customer":"cus_123","subscription":"sub_123"}}}`
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.statusUpdates["sub_123"] != StatusActive {
		t.Fatalf("expected active, got %v", store.statusUpdates)
	}
}

func TestWebhookCancellation(t *testing.T) {
	store := &fakeSubscriptionStore{}
	h := NewWebhookHandler("", store, &fakeProcessed{}, logging.New("error"))

	body := `{"id":"evt_4","type":"customer.subscription.deleted","data":{"object":{"id":"sub_123","customer":"cus_123"}}}`
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.statusUpdates["sub_123"] != StatusCancelled {
		t.Fatalf("expected cancelled, got %v", store.statusUpdates)
	}
}

func TestWebhookUnhandledEventAcknowledged(t *testing.T) {
	store := &fakeSubscriptionStore{}
	processed := &fakeProcessed{}
	h := NewWebhookHandler("", store, processed, logging.New("error"))

	rec := postWebhook(h, `{"id":"evt_5","type":"customer.updated","data":{"object":{}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.activated) != 0 || len(store.statusUpdates) != 0 {
		t.Fatal("expected no store calls for unhandled events")
	}
	if len(processed.marked) != 0 {
		t.Fatal("unhandled events should not consume processed slots")
	}
}

func TestWebhookStoreFailureReturns500(t *testing.T) {
	store := &fakeSubscriptionStore{activateErr: fmt.Errorf("pg down")}
	processed := &fakeProcessed{}
	h := NewWebhookHandler("", store, processed, logging.New("error"))

	rec := postWebhook(h, checkoutCompletedEvent, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(processed.marked) != 0 {
		t.Fatal("failed events must stay unprocessed so Stripe retries")
	}
}

func TestWebhookIgnoresSessionWithoutSubscription(t *testing.T) {
	store := &fakeSubscriptionStore{}
	h := NewWebhookHandler("", store, &fakeProcessed{}, logging.New("error"))

	body := `{"id":"evt_6","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"practice_id":"prac-1"}}}}`
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.activated) != 0 {
		t.Fatal("expected no activation without a subscription id")
	}
}

func TestWebhookBadRequests(t *testing.T) {
	h := NewWebhookHandler("", &fakeSubscriptionStore{}, &fakeProcessed{}, logging.New("error"))

	if rec := postWebhook(h, "{not json", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: status = %d", rec.Code)
	}
	if rec := postWebhook(h, `{"type":"invoice.payment_failed","data":{"object":{}}}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing event id: status = %d", rec.Code)
	}
}
