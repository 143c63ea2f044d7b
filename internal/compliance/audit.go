// Package compliance implements the regulatory audit trail and the
// guardrails applied to assistant output before it reaches a patient.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEventType names one kind of audit trail entry.
type AuditEventType string

// Record events cover the staff-facing CRUD surface; the rest cover
// assistant guardrails.
const (
	EventRecordAccessed       AuditEventType = "compliance.record_accessed"
	EventRecordModified       AuditEventType = "compliance.record_modified"
	EventRecordArchived       AuditEventType = "compliance.record_archived"
	EventClaimSubmitted       AuditEventType = "compliance.claim_submitted"
	EventMedicalAdviceRefused AuditEventType = "compliance.medical_advice_refused"
	EventPHIDetected          AuditEventType = "compliance.phi_detected"
	EventDisclaimerSent       AuditEventType = "compliance.disclaimer_sent"
	EventPromptInjection      AuditEventType = "security.prompt_injection"
)

// AuditEvent is one immutable row in the audit trail.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	PracticeID    string          `json:"practice_id"`
	PatientID     string          `json:"patient_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	UserMessage   string          `json:"user_message,omitempty"`
	AgentResponse string          `json:"agent_response,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails is the union of per-event detail fields. Only the fields
// relevant to the event type are populated; omitempty keeps the stored
// JSON down to those.
type AuditDetails struct {
	// Record access, modification and claim submission.
	Resource      string   `json:"resource,omitempty"`
	ChangedFields []string `json:"changed_fields,omitempty"`
	ClaimNumber   string   `json:"claim_number,omitempty"`

	// Assistant guardrails.
	DetectedKeywords []string `json:"detected_keywords,omitempty"`
	RefusalReason    string   `json:"refusal_reason,omitempty"`
	PHIType          string   `json:"phi_type,omitempty"`
	PHIRedacted      bool     `json:"phi_redacted,omitempty"`
	DisclaimerLevel  string   `json:"disclaimer_level,omitempty"`
	DisclaimerText   string   `json:"disclaimer_text,omitempty"`
	InjectionReasons []string `json:"injection_reasons,omitempty"`
}

// AuditService writes and reads the audit trail. Callers treat writes as
// best-effort: handlers log a failed audit write and still serve the
// request rather than failing it.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

const insertAuditEvent = `
	INSERT INTO audit_events (
		id, event_type, practice_id, patient_id, actor_id,
		user_message, agent_response, details, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// LogEvent records a single audit event, filling in the id and timestamp
// when the caller left them zero.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertAuditEvent,
		event.ID, event.EventType, event.PracticeID,
		nullString(event.PatientID), nullString(event.ActorID),
		nullString(event.UserMessage), nullString(event.AgentResponse),
		event.Details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("compliance: log audit event: %w", err)
	}
	return nil
}

func (s *AuditService) log(ctx context.Context, event AuditEvent, details AuditDetails) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("compliance: marshal audit details: %w", err)
	}
	event.Details = payload
	return s.LogEvent(ctx, event)
}

// LogRecordAccess records a staff read of patient data. resource names what
// was read, e.g. "patient" or "document:<id>".
func (s *AuditService) LogRecordAccess(ctx context.Context, practiceID, patientID, actorID, resource string) error {
	return s.log(ctx, AuditEvent{
		EventType:  EventRecordAccessed,
		PracticeID: practiceID,
		PatientID:  patientID,
		ActorID:    actorID,
	}, AuditDetails{Resource: resource})
}

// LogRecordModified records a write to patient data, with the changed field
// names when the caller tracks them.
func (s *AuditService) LogRecordModified(ctx context.Context, practiceID, patientID, actorID, resource string, changedFields []string) error {
	return s.log(ctx, AuditEvent{
		EventType:  EventRecordModified,
		PracticeID: practiceID,
		PatientID:  patientID,
		ActorID:    actorID,
	}, AuditDetails{Resource: resource, ChangedFields: changedFields})
}

// LogRecordArchived records the soft-deletion of a patient record.
func (s *AuditService) LogRecordArchived(ctx context.Context, practiceID, patientID, actorID string) error {
	return s.log(ctx, AuditEvent{
		EventType:  EventRecordArchived,
		PracticeID: practiceID,
		PatientID:  patientID,
		ActorID:    actorID,
	}, AuditDetails{Resource: "patient"})
}

// LogClaimSubmitted records a claim leaving the practice for the
// clearinghouse.
func (s *AuditService) LogClaimSubmitted(ctx context.Context, practiceID, patientID, actorID, claimNumber string) error {
	return s.log(ctx, AuditEvent{
		EventType:  EventClaimSubmitted,
		PracticeID: practiceID,
		PatientID:  patientID,
		ActorID:    actorID,
	}, AuditDetails{ClaimNumber: claimNumber})
}

// LogMedicalAdviceRefused records the assistant declining a medical advice
// request, with the keywords that triggered the refusal.
func (s *AuditService) LogMedicalAdviceRefused(ctx context.Context, practiceID, patientID, userMessage string, keywords []string) error {
	return s.log(ctx, AuditEvent{
		EventType:   EventMedicalAdviceRefused,
		PracticeID:  practiceID,
		PatientID:   patientID,
		UserMessage: userMessage,
	}, AuditDetails{
		DetectedKeywords: keywords,
		RefusalReason:    "Detected medical advice request",
	})
}

// LogPHIDetected records PHI showing up in assistant traffic. The message
// itself is never stored, only the redaction marker.
func (s *AuditService) LogPHIDetected(ctx context.Context, practiceID, patientID, phiType string) error {
	return s.log(ctx, AuditEvent{
		EventType:   EventPHIDetected,
		PracticeID:  practiceID,
		PatientID:   patientID,
		UserMessage: "[REDACTED]",
	}, AuditDetails{PHIType: phiType, PHIRedacted: true})
}

// LogPromptInjection records a blocked prompt injection attempt. The
// payload is not stored.
func (s *AuditService) LogPromptInjection(ctx context.Context, practiceID, patientID string, reasons []string) error {
	return s.log(ctx, AuditEvent{
		EventType:   EventPromptInjection,
		PracticeID:  practiceID,
		PatientID:   patientID,
		UserMessage: "[BLOCKED]",
	}, AuditDetails{InjectionReasons: reasons})
}

// LogDisclaimerSent records a disclaimer being appended to a reply.
func (s *AuditService) LogDisclaimerSent(ctx context.Context, practiceID, patientID, level, disclaimerText string) error {
	return s.log(ctx, AuditEvent{
		EventType:  EventDisclaimerSent,
		PracticeID: practiceID,
		PatientID:  patientID,
	}, AuditDetails{DisclaimerLevel: level, DisclaimerText: disclaimerText})
}

// AuditFilter narrows a QueryEvents call. PracticeID is required, the rest
// are optional.
type AuditFilter struct {
	PracticeID string
	PatientID  string
	ActorID    string
	EventType  AuditEventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// QueryEvents returns matching audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	where := []string{"practice_id = $1"}
	args := []any{filter.PracticeID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.PatientID != "" {
		add("patient_id = $%d", filter.PatientID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if !filter.StartTime.IsZero() {
		add("created_at >= $%d", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("created_at <= $%d", filter.EndTime)
	}

	query := `
		SELECT id, event_type, practice_id, patient_id, actor_id,
		       user_message, agent_response, details, created_at
		FROM audit_events
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanAuditEvent(rows *sql.Rows) (AuditEvent, error) {
	var (
		e                                  AuditEvent
		patientID, actorID, userMsg, reply sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.EventType, &e.PracticeID, &patientID, &actorID,
		&userMsg, &reply, &e.Details, &e.CreatedAt); err != nil {
		return AuditEvent{}, fmt.Errorf("compliance: scan audit event: %w", err)
	}
	e.PatientID = patientID.String
	e.ActorID = actorID.String
	e.UserMessage = userMsg.String
	e.AgentResponse = reply.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
