package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// CheckoutService creates Stripe Checkout Sessions for practice
// subscriptions. Plain REST with the secret key; no Stripe SDK.
type CheckoutService struct {
	secretKey  string
	prices     PlanPrices
	successURL string
	cancelURL  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// CheckoutConfig holds configuration for the checkout service.
type CheckoutConfig struct {
	StripeSecretKey string
	Prices          PlanPrices
	SuccessURL      string
	CancelURL       string
	Logger          *logging.Logger
}

func NewCheckoutService(cfg CheckoutConfig) *CheckoutService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &CheckoutService{
		secretKey:  cfg.StripeSecretKey,
		prices:     cfg.Prices,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		baseURL:    "https://api.stripe.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *CheckoutService) WithBaseURL(baseURL string) *CheckoutService {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// CreateSession creates a subscription-mode Checkout Session and returns
// its hosted URL. The practice ID rides along as client_reference_id and
// metadata so the webhook can bind the subscription to the tenant.
func (s *CheckoutService) CreateSession(ctx context.Context, practiceID string, plan Plan) (string, error) {
	priceID, ok := s.prices.PriceID(plan)
	if !ok {
		return "", fmt.Errorf("subscription: no price configured for plan %q", plan)
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("allow_promotion_codes", "true")
	form.Set("client_reference_id", practiceID)
	form.Set("metadata[practice_id]", practiceID)
	form.Set("metadata[plan]", string(plan))
	form.Set("subscription_data[metadata][practice_id]", practiceID)
	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/checkout/sessions",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("subscription: build request: %w", err)
	}
	req.SetBasicAuth(s.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("subscription: stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 65536))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subscription: stripe returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("subscription: parse response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("subscription: stripe response missing checkout url")
	}

	s.logger.Info("created checkout session", "practice_id", practiceID, "plan", plan, "session_id", result.ID)
	return result.URL, nil
}
