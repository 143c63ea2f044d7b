// Package clearinghouse is the EDI gateway client used for insurance
// eligibility checks and electronic claim submission.
package clearinghouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	defaultTimeout = 20 * time.Second

	// Tokens are refreshed slightly early so an in-flight request never
	// carries one that expires mid-call.
	tokenSkew = 30 * time.Second
)

// Client calls the clearinghouse REST API with OAuth2 client-credentials
// auth. The access token is cached until shortly before expiry.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *logging.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

// NewClient constructs a clearinghouse client.
func NewClient(baseURL, clientID, clientSecret string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       logger,
		now:          time.Now,
	}
}

// CheckCoverage runs a real-time eligibility inquiry.
func (c *Client) CheckCoverage(ctx context.Context, req CoverageRequest) (*CoverageResult, error) {
	if strings.TrimSpace(req.PayerID) == "" {
		return nil, fmt.Errorf("clearinghouse: payer id is required")
	}
	if strings.TrimSpace(req.MemberID) == "" {
		return nil, fmt.Errorf("clearinghouse: member id is required")
	}

	payload := map[string]any{
		"payer_id":  req.PayerID,
		"member_id": req.MemberID,
	}
	if req.GroupNumber != "" {
		payload["group_number"] = req.GroupNumber
	}
	if req.SubscriberName != "" {
		payload["subscriber_name"] = req.SubscriberName
	}
	if !req.ServiceDate.IsZero() {
		payload["service_date"] = req.ServiceDate.Format("2006-01-02")
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/eligibility/v1/coverage", payload)
	if err != nil {
		return nil, err
	}

	var resp coverageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("clearinghouse: decode coverage response: %w", err)
	}

	return &CoverageResult{
		Active:              strings.EqualFold(resp.Coverage.Status, "active"),
		PayerName:           resp.Coverage.PayerName,
		PlanName:            resp.Coverage.PlanName,
		CopayCents:          resp.Benefits.CopayCents,
		CoinsurancePct:      resp.Benefits.CoinsurancePct,
		DeductibleCents:     resp.Benefits.DeductibleCents,
		DeductibleMetCents:  resp.Benefits.DeductibleMetCents,
		OutOfPocketMaxCents: resp.Benefits.OutOfPocketMaxCents,
		OutOfPocketMetCents: resp.Benefits.OutOfPocketMetCents,
		Raw:                 raw,
	}, nil
}

// SubmitClaim sends an electronic claim for adjudication.
func (c *Client) SubmitClaim(ctx context.Context, sub ClaimSubmission) (*ClaimSubmissionResult, error) {
	if strings.TrimSpace(sub.ClaimNumber) == "" {
		return nil, fmt.Errorf("clearinghouse: claim number is required")
	}
	if len(sub.Lines) == 0 {
		return nil, fmt.Errorf("clearinghouse: claim has no service lines")
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/claims/v1/submit", sub)
	if err != nil {
		return nil, err
	}

	var result ClaimSubmissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("clearinghouse: decode submit response: %w", err)
	}
	if result.PayerClaimID == "" {
		return nil, fmt.Errorf("clearinghouse: submit returned no payer claim id")
	}
	return &result, nil
}

// GetRemittance polls the payer's current decision on a submitted claim.
// A claim that is still in adjudication comes back with status "pending".
func (c *Client) GetRemittance(ctx context.Context, payerClaimID string) (*RemittanceStatus, error) {
	if strings.TrimSpace(payerClaimID) == "" {
		return nil, fmt.Errorf("clearinghouse: payer claim id is required")
	}

	raw, err := c.doJSON(ctx, http.MethodGet, "/claims/v1/remittance/"+url.PathEscape(payerClaimID), nil)
	if err != nil {
		return nil, err
	}

	var status RemittanceStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("clearinghouse: decode remittance response: %w", err)
	}
	if status.Status == "" {
		return nil, fmt.Errorf("clearinghouse: remittance returned no status")
	}
	if status.PayerClaimID == "" {
		status.PayerClaimID = payerClaimID
	}
	return &status, nil
}

// token returns a valid bearer token, fetching a fresh one when the cached
// token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry.Add(-tokenSkew)) {
		return c.accessToken, nil
	}

	if strings.TrimSpace(c.clientID) == "" || strings.TrimSpace(c.clientSecret) == "" {
		return "", fmt.Errorf("clearinghouse: missing client credentials")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("clearinghouse: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("clearinghouse: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("clearinghouse: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clearinghouse: token endpoint returned %d: %s", resp.StatusCode, truncate(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("clearinghouse: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("clearinghouse: token endpoint returned empty token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("clearinghouse: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("clearinghouse: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clearinghouse: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("clearinghouse: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("clearinghouse: %s %s returned %d: %s", method, path, resp.StatusCode, truncate(respBody))
	}
	return respBody, nil
}

func truncate(b []byte) string {
	msg := string(b)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
