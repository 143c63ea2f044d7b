// Package main runs end-to-end tests of the practice platform REST surface
// against a live API. Each scenario provisions a throwaway practice, so runs
// never interfere with real tenants or with each other.
//
// Scenarios cover:
//   - Health and auth: /health, missing bearer, missing tenant header
//   - Practice provisioning and settings round-trip
//   - Patient CRUD and archive
//   - Tenant isolation between two practices
//   - Scheduling: book, check-in, complete, availability
//   - Insurance policy CRUD
//   - Claims lifecycle: draft → ready → queued with full event trail
//   - Claims void path
//   - Agent chat plus session history
//   - Subscription status for an unbilled practice
//
// Usage:
//
//	STAFF_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	STAFF_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go               # runs all
//	STAFF_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go patient-crud  # runs one
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const practiceHeader = "X-Practice-Id"

var (
	apiBase   string
	jwtSecret string
	jwt       string
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T collects check results for a single scenario. Failed check names are
// kept so the summary can repeat them after a long run.
type T struct {
	name     string
	passed   int
	failures []string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    pass  %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL  %s\n", name)
	t.failures = append(t.failures, name)
}

// fatalf records an unrecoverable scenario error. Callers return right
// after, skipping the remaining checks.
func (t *T) fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("    FATAL %s\n", msg)
	t.failures = append(t.failures, msg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// api performs an authenticated JSON request and decodes the response body.
func api(method, path, practiceID string, payload interface{}) (int, map[string]interface{}, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if practiceID != "" {
		req.Header.Set(practiceHeader, practiceID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	result := map[string]interface{}{}
	if len(raw) > 0 {
		// Error bodies are plain text on some endpoints; keep them readable.
		if err := json.Unmarshal(raw, &result); err != nil {
			result["_raw"] = string(raw)
		}
	}
	return resp.StatusCode, result, nil
}

// createPractice provisions a fresh tenant and returns its id.
func createPractice(name string) (string, error) {
	code, body, err := api("POST", "/admin/practices", "", map[string]string{
		"name":     name,
		"timezone": "America/Chicago",
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create practice returned %d: %v", code, body)
	}
	id, _ := body["practice_id"].(string)
	if id == "" {
		return "", fmt.Errorf("create practice returned no practice_id: %v", body)
	}
	return id, nil
}

func createPatient(practiceID, first, last string) (string, error) {
	code, body, err := api("POST", "/patients/", practiceID, map[string]interface{}{
		"first_name": first,
		"last_name":  last,
		"dob":        "1985-04-12T00:00:00Z",
		"email":      strings.ToLower(first) + "@example.test",
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create patient returned %d: %v", code, body)
	}
	id, _ := body["id"].(string)
	return id, nil
}

func createProvider(practiceID string) (string, error) {
	code, body, err := api("POST", "/providers/", practiceID, map[string]interface{}{
		"npi":         "1234567893",
		"first_name":  "Dana",
		"last_name":   "Reyes",
		"credentials": "MD",
		"specialties": []string{"family medicine"},
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create provider returned %d: %v", code, body)
	}
	id, _ := body["id"].(string)
	return id, nil
}

func createPolicy(practiceID, patientID string) (string, error) {
	code, body, err := api("POST", "/insurance/policies", practiceID, map[string]interface{}{
		"patient_id": patientID,
		"payer_id":   "AETNA",
		"payer_name": "Aetna",
		"member_id":  "W123456789",
		"plan_type":  "ppo",
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create policy returned %d: %v", code, body)
	}
	id, _ := body["id"].(string)
	return id, nil
}

func jstr(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func jlist(m map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range raw {
		if mm, ok := item.(map[string]interface{}); ok {
			out = append(out, mm)
		}
	}
	return out
}

// staffToken mints the HS256 bearer the API's staff middleware accepts.
func staffToken(secret string) string {
	now := time.Now()
	head := b64json(map[string]string{"alg": "HS256", "typ": "JWT"})
	body := b64json(map[string]interface{}{
		"sub": "e2e-runner",
		"iat": now.Unix(),
		"exp": now.Add(12 * time.Hour).Unix(),
	})
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", head, body)
	return head + "." + body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func b64json(v interface{}) string {
	b, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(b)
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// 1. Health endpoint answers without auth.
func scenarioHealth(t *T) {
	resp, err := http.Get(apiBase + "/health")
	if err != nil {
		t.fatalf("health request: %v", err)
		return
	}
	defer resp.Body.Close()
	t.check("health returns 200", resp.StatusCode == http.StatusOK)

	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	t.check("health reports ok", body["status"] == "ok")
}

// 2. Requests without a bearer token or tenant header are rejected.
func scenarioAuthAndTenancy(t *T) {
	req, _ := http.NewRequest("GET", apiBase+"/patients/", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.fatalf("unauthenticated request: %v", err)
		return
	}
	resp.Body.Close()
	t.check("missing bearer rejected with 401", resp.StatusCode == http.StatusUnauthorized)

	code, _, err := api("GET", "/patients/", "", nil)
	if err != nil {
		t.fatalf("missing header request: %v", err)
		return
	}
	t.check("missing tenant header rejected with 400", code == http.StatusBadRequest)
}

// 3. Provisioning a practice seeds settings that read back under the tenant.
func scenarioPracticeProvisioning(t *T) {
	practiceID, err := createPractice("E2E Provisioning Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("practice id assigned", practiceID != "")

	code, settings, err := api("GET", "/practice/settings", practiceID, nil)
	if err != nil {
		t.fatalf("get settings: %v", err)
		return
	}
	t.check("settings fetch returns 200", code == http.StatusOK)
	t.check("display name seeded", jstr(settings, "display_name") == "E2E Provisioning Clinic")
	t.check("timezone honored", jstr(settings, "timezone") == "America/Chicago")
}

// 4. Patient create, read, update, archive.
func scenarioPatientCRUD(t *T) {
	practiceID, err := createPractice("E2E Patient Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, created, err := api("POST", "/patients/", practiceID, map[string]interface{}{
		"first_name": "Maya",
		"last_name":  "Okafor",
		"dob":        "1990-06-01T00:00:00Z",
		"email":      "maya@example.test",
		"allergies":  []string{"penicillin"},
	})
	if err != nil {
		t.fatalf("create patient: %v", err)
		return
	}
	t.check("create returns 201", code == http.StatusCreated)
	patientID := jstr(created, "id")
	t.check("patient id assigned", patientID != "")
	t.check("mrn assigned", jstr(created, "mrn") != "")
	t.check("status active", jstr(created, "status") == "active")

	code, fetched, err := api("GET", "/patients/"+patientID, practiceID, nil)
	if err != nil {
		t.fatalf("get patient: %v", err)
		return
	}
	t.check("get returns 200", code == http.StatusOK)
	t.check("get returns same patient", jstr(fetched, "email") == "maya@example.test")

	code, updated, err := api("PUT", "/patients/"+patientID, practiceID, map[string]interface{}{
		"phone": "+12145550147",
	})
	if err != nil {
		t.fatalf("update patient: %v", err)
		return
	}
	t.check("update returns 200", code == http.StatusOK)
	t.check("update applied", jstr(updated, "phone") == "+12145550147")

	code, _, err = api("DELETE", "/patients/"+patientID, practiceID, nil)
	if err != nil {
		t.fatalf("archive patient: %v", err)
		return
	}
	t.check("archive accepted", code == http.StatusOK || code == http.StatusNoContent)

	code, listBody, err := api("GET", "/patients/", practiceID, nil)
	if err != nil {
		t.fatalf("list patients: %v", err)
		return
	}
	t.check("list returns 200", code == http.StatusOK)
	for _, p := range jlist(listBody, "patients") {
		if jstr(p, "id") == patientID && jstr(p, "status") == "active" {
			t.check("archived patient not listed as active", false)
			return
		}
	}
	t.check("archived patient not listed as active", true)
}

// 5. A patient created in one practice is invisible to another.
func scenarioTenantIsolation(t *T) {
	practiceA, err := createPractice("E2E Isolation A")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	practiceB, err := createPractice("E2E Isolation B")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	patientID, err := createPatient(practiceA, "Iris", "Stone")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, _, err := api("GET", "/patients/"+patientID, practiceB, nil)
	if err != nil {
		t.fatalf("cross-tenant get: %v", err)
		return
	}
	t.check("cross-tenant get returns 404", code == http.StatusNotFound)

	code, listBody, err := api("GET", "/patients/", practiceB, nil)
	if err != nil {
		t.fatalf("cross-tenant list: %v", err)
		return
	}
	t.check("cross-tenant list returns 200", code == http.StatusOK)
	for _, p := range jlist(listBody, "patients") {
		if jstr(p, "id") == patientID {
			t.check("patient absent from other tenant", false)
			return
		}
	}
	t.check("patient absent from other tenant", true)
}

// 6. Book an appointment, work it through check-in and completion, and pull
// availability for the same provider.
func scenarioSchedulingFlow(t *T) {
	practiceID, err := createPractice("E2E Scheduling Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	patientID, err := createPatient(practiceID, "Noah", "Fields")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	providerID, err := createProvider(practiceID)
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	start := time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Hour).Add(15 * time.Hour)
	code, appt, err := api("POST", "/appointments/", practiceID, map[string]interface{}{
		"patient_id":       patientID,
		"provider_id":      providerID,
		"start_time":       start.Format(time.RFC3339),
		"minutes_duration": 30,
		"reason":           "annual physical",
	})
	if err != nil {
		t.fatalf("book appointment: %v", err)
		return
	}
	t.check("book returns 201", code == http.StatusCreated)
	apptID := jstr(appt, "id")
	t.check("appointment booked", jstr(appt, "status") == "booked")

	code, availability, err := api("GET",
		fmt.Sprintf("/appointments/availability?provider_id=%s&date=%s", providerID, start.Format("2006-01-02")),
		practiceID, nil)
	if err != nil {
		t.fatalf("availability: %v", err)
		return
	}
	t.check("availability returns 200", code == http.StatusOK)
	booked := false
	for _, slot := range jlist(availability, "slots") {
		if s := jstr(slot, "start_time"); s != "" {
			ts, err := time.Parse(time.RFC3339, s)
			if err == nil && ts.Equal(start) {
				booked = true
			}
		}
	}
	t.check("booked slot no longer offered", !booked)

	code, checked, err := api("POST", "/appointments/"+apptID+"/check-in", practiceID, nil)
	if err != nil {
		t.fatalf("check-in: %v", err)
		return
	}
	t.check("check-in returns 200", code == http.StatusOK)
	t.check("status checked_in", jstr(checked, "status") == "checked_in")

	code, completed, err := api("POST", "/appointments/"+apptID+"/complete", practiceID, nil)
	if err != nil {
		t.fatalf("complete: %v", err)
		return
	}
	t.check("complete returns 200", code == http.StatusOK)
	t.check("status completed", jstr(completed, "status") == "completed")
}

// 7. Insurance policy create and read back by patient.
func scenarioInsurancePolicy(t *T) {
	practiceID, err := createPractice("E2E Insurance Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	patientID, err := createPatient(practiceID, "Lena", "Brooks")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	policyID, err := createPolicy(practiceID, patientID)
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("policy created", policyID != "")

	code, policy, err := api("GET", "/insurance/policies/"+policyID, practiceID, nil)
	if err != nil {
		t.fatalf("get policy: %v", err)
		return
	}
	t.check("get policy returns 200", code == http.StatusOK)
	t.check("payer retained", jstr(policy, "payer_id") == "AETNA")
	t.check("policy active", jstr(policy, "status") == "active")

	code, listBody, err := api("GET", "/insurance/policies?patient_id="+patientID, practiceID, nil)
	if err != nil {
		t.fatalf("list policies: %v", err)
		return
	}
	t.check("list returns 200", code == http.StatusOK)
	found := false
	for _, p := range jlist(listBody, "policies") {
		if jstr(p, "id") == policyID {
			found = true
		}
	}
	t.check("policy listed for patient", found)
}

// 8. Full claim path: draft with codes, submit through scrub, verify the
// event trail records draft → ready → queued.
func scenarioClaimsLifecycle(t *T) {
	practiceID, err := createPractice("E2E Claims Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	patientID, err := createPatient(practiceID, "Omar", "Diaz")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	providerID, err := createProvider(practiceID)
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	policyID, err := createPolicy(practiceID, patientID)
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, claim, err := api("POST", "/claims/", practiceID, map[string]interface{}{
		"patient_id":   patientID,
		"provider_id":  providerID,
		"policy_id":    policyID,
		"type":         "professional",
		"service_date": time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		"diagnoses":    []string{"J06.9"},
		"lines": []map[string]interface{}{
			{"cpt_code": "99213", "description": "Office visit, established", "units": 1, "charge_cents": 12500},
		},
	})
	if err != nil {
		t.fatalf("create claim: %v", err)
		return
	}
	t.check("create returns 201", code == http.StatusCreated)
	claimID := jstr(claim, "id")
	t.check("claim number assigned", strings.HasPrefix(jstr(claim, "claim_number"), "CB-"))
	t.check("claim starts as draft", jstr(claim, "status") == "draft")

	code, updated, err := api("PUT", "/claims/"+claimID, practiceID, map[string]interface{}{
		"lines": []map[string]interface{}{
			{"cpt_code": "99213", "description": "Office visit, established", "units": 1, "charge_cents": 12500},
			{"cpt_code": "87880", "description": "Rapid strep test", "units": 1, "charge_cents": 3500},
		},
	})
	if err != nil {
		t.fatalf("update claim: %v", err)
		return
	}
	t.check("update returns 200", code == http.StatusOK)
	if total, ok := updated["total_cents"].(float64); ok {
		t.check("total recomputed from lines", int64(total) == 16000)
	} else {
		t.check("total recomputed from lines", false)
	}

	code, submitted, err := api("POST", "/claims/"+claimID+"/submit", practiceID, nil)
	if err != nil {
		t.fatalf("submit claim: %v", err)
		return
	}
	t.check("submit returns 200", code == http.StatusOK)
	t.check("claim queued for submission", jstr(submitted, "status") == "queued")

	code, eventsBody, err := api("GET", "/claims/"+claimID+"/events", practiceID, nil)
	if err != nil {
		t.fatalf("claim events: %v", err)
		return
	}
	t.check("events return 200", code == http.StatusOK)
	var trail []string
	for _, evt := range jlist(eventsBody, "events") {
		trail = append(trail, jstr(evt, "to_status"))
	}
	t.check("event trail covers draft, ready, queued",
		contains(trail, "draft") && contains(trail, "ready") && contains(trail, "queued"))
}

// 9. Draft claims can be voided, and voided claims refuse submission.
func scenarioClaimsVoid(t *T) {
	practiceID, err := createPractice("E2E Void Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	patientID, err := createPatient(practiceID, "Tessa", "Lane")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, claim, err := api("POST", "/claims/", practiceID, map[string]interface{}{
		"patient_id":   patientID,
		"type":         "professional",
		"service_date": time.Now().UTC().Format("2006-01-02"),
	})
	if err != nil {
		t.fatalf("create claim: %v", err)
		return
	}
	t.check("create returns 201", code == http.StatusCreated)
	claimID := jstr(claim, "id")

	code, voided, err := api("POST", "/claims/"+claimID+"/void", practiceID, nil)
	if err != nil {
		t.fatalf("void claim: %v", err)
		return
	}
	t.check("void returns 200", code == http.StatusOK)
	t.check("claim voided", jstr(voided, "status") == "voided")

	code, _, err = api("POST", "/claims/"+claimID+"/submit", practiceID, nil)
	if err != nil {
		t.fatalf("submit voided claim: %v", err)
		return
	}
	t.check("submitting a voided claim rejected", code == http.StatusConflict || code == http.StatusBadRequest)
}

// 10. Agent chat answers and the turn lands in session history.
func scenarioAgentChat(t *T) {
	practiceID, err := createPractice("E2E Agent Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, reply, err := api("POST", "/agent/chat", practiceID, map[string]interface{}{
		"message": "What are your office hours?",
	})
	if err != nil {
		t.fatalf("agent chat: %v", err)
		return
	}
	t.check("chat returns 200", code == http.StatusOK)
	sessionID := jstr(reply, "session_id")
	t.check("session id assigned", sessionID != "")
	t.check("reply is non-empty", jstr(reply, "reply") != "")

	code, history, err := api("GET", "/agent/chat/history?session_id="+sessionID, practiceID, nil)
	if err != nil {
		t.fatalf("chat history: %v", err)
		return
	}
	t.check("history returns 200", code == http.StatusOK)
	t.check("history echoes session id", jstr(history, "session_id") == sessionID)

	code, _, err = api("POST", "/agent/chat", practiceID, map[string]interface{}{
		"message": "",
	})
	if err != nil {
		t.fatalf("empty chat: %v", err)
		return
	}
	t.check("empty message rejected with 400", code == http.StatusBadRequest)
}

// 11. A freshly provisioned practice has no subscription yet.
func scenarioSubscriptionStatus(t *T) {
	practiceID, err := createPractice("E2E Billing Clinic")
	if err != nil {
		t.fatalf("%v", err)
		return
	}

	code, status, err := api("GET", "/subscription/status", practiceID, nil)
	if err != nil {
		t.fatalf("subscription status: %v", err)
		return
	}
	t.check("status returns 200", code == http.StatusOK)
	t.check("unbilled practice reports none", jstr(status, "status") == "none")
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

var scenarios = []scenario{
	{"health", scenarioHealth},
	{"auth-and-tenancy", scenarioAuthAndTenancy},
	{"practice-provisioning", scenarioPracticeProvisioning},
	{"patient-crud", scenarioPatientCRUD},
	{"tenant-isolation", scenarioTenantIsolation},
	{"scheduling-flow", scenarioSchedulingFlow},
	{"insurance-policy", scenarioInsurancePolicy},
	{"claims-lifecycle", scenarioClaimsLifecycle},
	{"claims-void", scenarioClaimsVoid},
	{"agent-chat", scenarioAgentChat},
	{"subscription-status", scenarioSubscriptionStatus},
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	jwtSecret = os.Getenv("STAFF_JWT_SECRET")
	if apiBase == "" || jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and STAFF_JWT_SECRET required")
		os.Exit(1)
	}
	jwt = staffToken(jwtSecret)

	var only string
	if len(os.Args) > 1 {
		only = os.Args[1]
	}

	var (
		ran, passed, failed int
		lines               []string
	)
	for _, s := range scenarios {
		if only != "" && s.Name != only {
			continue
		}
		ran++

		fmt.Printf("\n=== %s ===\n", s.Name)
		t := &T{name: s.Name}
		start := time.Now()
		s.Fn(t)
		elapsed := time.Since(start).Round(time.Millisecond)

		passed += t.passed
		failed += len(t.failures)
		mark := "ok  "
		if len(t.failures) > 0 {
			mark = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("  %s  %-24s %3d passed %3d failed  %s",
			mark, s.Name, t.passed, len(t.failures), elapsed))
	}
	if ran == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: no scenario named %q\n", only)
		os.Exit(1)
	}

	fmt.Println("\n--- summary ---")
	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
