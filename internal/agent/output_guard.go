package agent

import (
	"regexp"
	"strings"
)

// OutputGuardResult is the verdict on an assistant reply before it is sent.
type OutputGuardResult struct {
	// Leaked is true when the reply appears to expose internal material.
	Leaked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
}

// safeReply replaces a reply the output guard rejected.
const safeReply = "I'm sorry, I can't share that. Is there anything else I can help you with, like scheduling an appointment or a billing question?"

var outputLeakPatterns = []promptGuardPattern{
	// Replies that quote their own operating instructions.
	{regexp.MustCompile(`(?i)my\s+(system\s+prompt|instructions?)\s+(is|are|say|says|state|include)`), "output_leak:system_prompt", 1},
	{regexp.MustCompile(`(?i)(here\s+(is|are)|these\s+are)\s+(my|the)\s+(system\s+prompt|instructions?|rules\s+i\s+follow)`), "output_leak:system_prompt_quote", 1},
	{regexp.MustCompile(`(?i)i\s+was\s+(told|instructed|configured|programmed)\s+to`), "output_leak:configuration", 1},
	// Credential-shaped strings must never appear in a reply.
	{regexp.MustCompile(`\b(?:sk_live|sk_test|whsec|rk_live)_[A-Za-z0-9]{8,}`), "output_leak:stripe_key", 1},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "output_leak:aws_key", 1},
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`), "output_leak:private_key", 1},
	{regexp.MustCompile(`(?i)\b(?:postgres|redis)://\S+:\S+@`), "output_leak:connection_string", 1},
	{regexp.MustCompile(`(?i)\b(api[_ ]?key|secret[_ ]?key|access[_ ]?token|password)\s*[:=]\s*\S+`), "output_leak:credential_pair", 1},
}

// ScanOutgoingReply checks an assistant reply for system prompt or credential
// leakage before it reaches the patient.
func ScanOutgoingReply(reply string) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{}
	}

	var reasons []string
	for _, p := range outputLeakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
		}
	}

	return OutputGuardResult{
		Leaked:  len(reasons) > 0,
		Reasons: reasons,
	}
}
