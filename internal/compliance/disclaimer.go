package compliance

import (
	"context"
	"strings"
)

// DisclaimerLevel selects how much legal text the assistant appends.
type DisclaimerLevel string

const (
	DisclaimerShort  DisclaimerLevel = "short"
	DisclaimerMedium DisclaimerLevel = "medium"
	DisclaimerFull   DisclaimerLevel = "full"
)

var disclaimerTemplates = map[DisclaimerLevel]string{
	DisclaimerShort:  "Auto-assistant. Not medical advice.",
	DisclaimerMedium: "This is an automated assistant. For medical advice, please contact your care team.",
	DisclaimerFull:   "This is an automated practice assistant. The information provided is general in nature and not a substitute for professional medical advice. Please consult with a licensed healthcare provider for medical guidance.",
}

// DisclaimerConfig controls when and which disclaimer is appended.
type DisclaimerConfig struct {
	Level            DisclaimerLevel
	Enabled          bool
	FirstMessageOnly bool
	// CustomText replaces the level template when a practice supplies
	// its own wording.
	CustomText string
}

// DefaultDisclaimerConfig appends the medium disclaimer to every reply.
func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{
		Level:   DisclaimerMedium,
		Enabled: true,
	}
}

// DisclaimerOptions carries the audit context for one reply.
type DisclaimerOptions struct {
	PracticeID     string
	PatientID      string
	IsFirstMessage bool
}

// DisclaimerService appends legal disclaimers to assistant replies and
// records each send in the audit trail.
type DisclaimerService struct {
	cfg   DisclaimerConfig
	audit *AuditService
}

func NewDisclaimerService(audit *AuditService, cfg DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{cfg: cfg, audit: audit}
}

// ShouldAddDisclaimer reports whether this reply gets a disclaimer under
// the current config.
func (s *DisclaimerService) ShouldAddDisclaimer(isFirstMessage bool) bool {
	if !s.cfg.Enabled {
		return false
	}
	if s.cfg.FirstMessageOnly && !isFirstMessage {
		return false
	}
	return true
}

// GetDisclaimerText returns the configured disclaimer wording.
func (s *DisclaimerService) GetDisclaimerText() string {
	if s.cfg.CustomText != "" {
		return s.cfg.CustomText
	}
	if text, ok := disclaimerTemplates[s.cfg.Level]; ok {
		return text
	}
	return disclaimerTemplates[DisclaimerMedium]
}

// AddDisclaimer appends the disclaimer to the message. A message that
// already contains the exact wording passes through unchanged, so the
// method is safe to call on replies that were built from earlier output.
func (s *DisclaimerService) AddDisclaimer(ctx context.Context, message string, opts DisclaimerOptions) (string, error) {
	if !s.ShouldAddDisclaimer(opts.IsFirstMessage) {
		return message, nil
	}

	text := s.GetDisclaimerText()
	if strings.Contains(message, text) {
		return message, nil
	}
	out := strings.TrimSpace(message) + "\n\n" + text

	if s.audit != nil && opts.PracticeID != "" {
		_ = s.audit.LogDisclaimerSent(ctx, opts.PracticeID, opts.PatientID, string(s.cfg.Level), text)
	}
	return out, nil
}
