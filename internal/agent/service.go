package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	maxHistoryMessages   = 24
	defaultMaxTokens     = 450
	defaultReplyDeadline = 60 * time.Second
)

var (
	ErrMissingPractice = errors.New("agent: practice id required")
	ErrEmptyMessage    = errors.New("agent: message required")
)

var agentTracer = otel.Tracer("carebridge.internal.agent")

// Service describes how the assistant engine behaves.
type Service interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatReply, error)
	History(ctx context.Context, practiceID, sessionID string) ([]Message, error)
}

// Message is a single transcript entry returned to the UI.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is one patient turn. PracticeID is filled from the auth
// context on the HTTP path and round-trips through queue payloads.
type ChatRequest struct {
	PracticeID string `json:"practice_id,omitempty"`
	PatientID  string `json:"patient_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message"`
}

// ChatReply is the assistant's answer for a turn.
type ChatReply struct {
	SessionID string    `json:"session_id"`
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationID builds the canonical conversation ID for a chat session.
func ConversationID(practiceID, sessionID string) string {
	return fmt.Sprintf("%s:%s", practiceID, sessionID)
}

// SettingsSource loads per-practice configuration for the system prompt.
type SettingsSource interface {
	Get(ctx context.Context, practiceID string) (*practice.Settings, error)
}

// AgentService runs the guarded chat pipeline against an LLM.
type AgentService struct {
	client        LLMClient
	history       *historyStore
	transcript    *TranscriptStore
	settings      SettingsSource
	audit         *compliance.AuditService
	disclaimer    *compliance.DisclaimerService
	metrics       *metrics.AgentMetrics
	model         string
	maxTokens     int32
	replyDeadline time.Duration
	logger        *logging.Logger
	nowFunc       func() time.Time
}

// AgentOption customizes the service.
type AgentOption func(*AgentService)

// WithAuditService wires the HIPAA audit trail for guard events.
func WithAuditService(audit *compliance.AuditService) AgentOption {
	return func(s *AgentService) {
		s.audit = audit
	}
}

// WithDisclaimerService appends the configured disclaimer to the first
// reply of each session.
func WithDisclaimerService(d *compliance.DisclaimerService) AgentOption {
	return func(s *AgentService) {
		s.disclaimer = d
	}
}

// WithTranscriptStore mirrors each turn into the patient-visible transcript.
func WithTranscriptStore(store *TranscriptStore) AgentOption {
	return func(s *AgentService) {
		s.transcript = store
	}
}

// WithAgentMetrics wires guard counters.
func WithAgentMetrics(m *metrics.AgentMetrics) AgentOption {
	return func(s *AgentService) {
		s.metrics = m
	}
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) AgentOption {
	return func(s *AgentService) {
		if n > 0 {
			s.maxTokens = int32(n)
		}
	}
}

// WithReplyDeadline bounds how long a single completion may take.
func WithReplyDeadline(d time.Duration) AgentOption {
	return func(s *AgentService) {
		if d > 0 {
			s.replyDeadline = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) AgentOption {
	return func(s *AgentService) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewAgentService builds the assistant engine.
func NewAgentService(client LLMClient, redisClient *redis.Client, settings SettingsSource, model string, logger *logging.Logger, opts ...AgentOption) *AgentService {
	if client == nil {
		panic("agent: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &AgentService{
		client:        client,
		history:       newHistoryStore(redisClient, agentTracer),
		settings:      settings,
		model:         model,
		maxTokens:     defaultMaxTokens,
		replyDeadline: defaultReplyDeadline,
		logger:        logger,
		nowFunc:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat runs one guarded turn: inbound guards, history, completion,
// outbound guard, persistence.
func (s *AgentService) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	practiceID := strings.TrimSpace(req.PracticeID)
	if practiceID == "" {
		return nil, ErrMissingPractice
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	convID := ConversationID(practiceID, sessionID)

	ctx, span := agentTracer.Start(ctx, "agent.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("carebridge.practice_id", practiceID),
		attribute.String("carebridge.session_id", sessionID),
	)

	scan := ScanForPromptInjection(message)
	if scan.Blocked {
		s.metrics.ObserveGuard("prompt", "block")
		if s.audit != nil {
			_ = s.audit.LogPromptInjection(ctx, practiceID, req.PatientID, scan.Reasons)
		}
		s.logger.Warn("chat message blocked by prompt guard",
			"practice_id", practiceID,
			"session_id", sessionID,
			"reasons", strings.Join(scan.Reasons, ","),
		)
		return s.deflect(ctx, practiceID, sessionID, req.PatientID, "[BLOCKED]", blockedReply, "prompt_blocked")
	}

	if _, sawPHI := RedactPHI(message); sawPHI {
		s.metrics.ObserveGuard("phi", "redact")
		if s.audit != nil {
			_ = s.audit.LogPHIDetected(ctx, practiceID, req.PatientID, "keyword")
		}
		return s.deflect(ctx, practiceID, sessionID, req.PatientID, "[REDACTED]", phiDeflectionReply, "phi_redacted")
	}

	if keywords := detectMedicalAdvice(message); len(keywords) > 0 {
		s.metrics.ObserveGuard("medical_advice", "refuse")
		if s.audit != nil {
			_ = s.audit.LogMedicalAdviceRefused(ctx, practiceID, req.PatientID, "[REDACTED]", keywords)
		}
		return s.deflect(ctx, practiceID, sessionID, req.PatientID, "[REDACTED]", medicalAdviceDeflectionReply, "medical_advice")
	}

	if scan.Score >= warnThreshold {
		s.metrics.ObserveGuard("prompt", "sanitize")
		message = SanitizeForLLM(message)
		if message == "" {
			return s.deflect(ctx, practiceID, sessionID, req.PatientID, "[BLOCKED]", blockedReply, "prompt_blocked")
		}
	}

	history, isFirst, err := s.loadOrOpen(ctx, practiceID, convID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	history = append(history, ChatMessage{Role: ChatRoleUser, Content: message})
	history = trimHistory(history, maxHistoryMessages)

	reply, err := s.generateReply(ctx, history)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if verdict := ScanOutgoingReply(reply); verdict.Leaked {
		s.metrics.ObserveGuard("output", "replace")
		s.logger.Warn("assistant reply failed output guard",
			"practice_id", practiceID,
			"session_id", sessionID,
			"reasons", strings.Join(verdict.Reasons, ","),
		)
		reply = safeReply
	}

	if isFirst && s.disclaimer != nil && s.disclaimer.ShouldAddDisclaimer(true) {
		withDisclaimer, derr := s.disclaimer.AddDisclaimer(ctx, reply, compliance.DisclaimerOptions{
			PracticeID:     practiceID,
			PatientID:      req.PatientID,
			IsFirstMessage: true,
		})
		if derr != nil {
			s.logger.Warn("failed to add disclaimer", "error", derr, "practice_id", practiceID)
		} else {
			reply = withDisclaimer
		}
	}

	history = append(history, ChatMessage{Role: ChatRoleAssistant, Content: reply})
	if err := s.history.Save(ctx, convID, history); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.appendTranscript(ctx, convID, "user", message, "")
	s.appendTranscript(ctx, convID, "assistant", reply, "")

	return &ChatReply{SessionID: sessionID, Reply: reply, Timestamp: s.nowFunc().UTC()}, nil
}

// History returns the patient-visible turns of a session, oldest first.
// An unknown session returns an empty history rather than an error.
func (s *AgentService) History(ctx context.Context, practiceID, sessionID string) ([]Message, error) {
	convID := ConversationID(practiceID, sessionID)
	history, err := s.history.Load(ctx, convID)
	if err != nil {
		if isUnknownConversation(err) {
			return []Message{}, nil
		}
		return nil, err
	}

	msgs := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role == ChatRoleSystem {
			continue
		}
		msgs = append(msgs, Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs, nil
}

// deflect answers a guarded message with a canned reply without calling
// the LLM. The stored user turn is the redacted placeholder, never the
// original text.
func (s *AgentService) deflect(ctx context.Context, practiceID, sessionID, patientID, userBody, reply, kind string) (*ChatReply, error) {
	convID := ConversationID(practiceID, sessionID)

	history, isFirst, err := s.loadOrOpen(ctx, practiceID, convID)
	if err != nil {
		return nil, err
	}

	if isFirst && s.disclaimer != nil && s.disclaimer.ShouldAddDisclaimer(true) {
		withDisclaimer, derr := s.disclaimer.AddDisclaimer(ctx, reply, compliance.DisclaimerOptions{
			PracticeID:     practiceID,
			PatientID:      patientID,
			IsFirstMessage: true,
		})
		if derr == nil {
			reply = withDisclaimer
		}
	}

	history = append(history,
		ChatMessage{Role: ChatRoleUser, Content: userBody},
		ChatMessage{Role: ChatRoleAssistant, Content: reply},
	)
	history = trimHistory(history, maxHistoryMessages)
	if err := s.history.Save(ctx, convID, history); err != nil {
		return nil, err
	}

	s.appendTranscript(ctx, convID, "user", userBody, kind)
	s.appendTranscript(ctx, convID, "assistant", reply, "")

	return &ChatReply{SessionID: sessionID, Reply: reply, Timestamp: s.nowFunc().UTC()}, nil
}

func (s *AgentService) loadOrOpen(ctx context.Context, practiceID, convID string) ([]ChatMessage, bool, error) {
	history, err := s.history.Load(ctx, convID)
	if err == nil {
		return history, false, nil
	}
	if !isUnknownConversation(err) {
		return nil, false, err
	}
	return []ChatMessage{{Role: ChatRoleSystem, Content: s.systemPrompt(ctx, practiceID)}}, true, nil
}

func (s *AgentService) systemPrompt(ctx context.Context, practiceID string) string {
	if s.settings == nil {
		return buildSystemPrompt(nil)
	}
	settings, err := s.settings.Get(ctx, practiceID)
	if err != nil {
		s.logger.Warn("failed to load practice settings for system prompt", "error", err, "practice_id", practiceID)
		return buildSystemPrompt(nil)
	}
	return buildSystemPrompt(settings)
}

func (s *AgentService) generateReply(ctx context.Context, history []ChatMessage) (string, error) {
	ctx, span := agentTracer.Start(ctx, "agent.llm")
	defer span.End()

	trimmed := trimHistory(history, maxHistoryMessages)
	system, messages := splitSystemAndMessages(trimmed)

	req := LLMRequest{
		Model:       s.model,
		System:      system,
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: 0.2,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.replyDeadline)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Complete(callCtx, req)
	latency := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(s.model, status).Observe(latency.Seconds())
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Float64("carebridge.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.String("carebridge.llm.model", s.model),
			attribute.Int("carebridge.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("carebridge.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.Int("carebridge.llm.total_tokens", int(resp.Usage.TotalTokens)),
			attribute.String("carebridge.llm.stop_reason", resp.StopReason),
		)
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("llm completion failed", "model", s.model, "latency_ms", latency.Milliseconds(), "error", err)
		return "", fmt.Errorf("agent: llm completion failed: %w", err)
	}
	if resp.Usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(s.model, "input").Add(float64(resp.Usage.InputTokens))
	}
	if resp.Usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(s.model, "output").Add(float64(resp.Usage.OutputTokens))
	}
	if resp.Usage.TotalTokens > 0 {
		llmTokensTotal.WithLabelValues(s.model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	text := strings.TrimSpace(resp.Text)
	s.logger.Info("llm completion finished",
		"model", s.model,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"stop_reason", resp.StopReason,
	)
	if text == "" {
		err := errors.New("agent: llm returned empty response")
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

func (s *AgentService) appendTranscript(ctx context.Context, convID, role, body, kind string) {
	if s.transcript == nil {
		return
	}
	msg := TranscriptMessage{
		Role:      role,
		Body:      body,
		Timestamp: s.nowFunc().UTC(),
		Kind:      kind,
	}
	if err := s.transcript.Append(ctx, convID, msg); err != nil {
		s.logger.Warn("failed to append chat transcript", "error", err, "conversation_id", convID)
	}
}

func splitSystemAndMessages(history []ChatMessage) ([]string, []ChatMessage) {
	if len(history) == 0 {
		return nil, nil
	}
	system := make([]string, 0, 4)
	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == ChatRoleSystem {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, msg)
	}
	return system, messages
}

func trimHistory(history []ChatMessage, limit int) []ChatMessage {
	if limit <= 0 || len(history) <= limit {
		return history
	}

	var result []ChatMessage
	system := history[0]
	if system.Role == ChatRoleSystem {
		result = append(result, system)
		remaining := limit - 1
		if remaining <= 0 {
			return result
		}
		start := len(history) - remaining
		if start < 1 {
			start = 1
		}
		result = append(result, history[start:]...)
		return result
	}
	return history[len(history)-limit:]
}

func isUnknownConversation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unknown conversation")
}
