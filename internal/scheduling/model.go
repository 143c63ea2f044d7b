// Package scheduling manages the appointment book: visits, status
// transitions, provider availability, and the live front-desk board.
package scheduling

import (
	"strings"
	"time"
)

// Appointment statuses. Transitions are enforced by the service:
// booked -> checked_in -> completed, booked -> cancelled/no_show,
// checked_in -> cancelled.
const (
	StatusBooked    = "booked"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Appointment is a scheduled visit on a provider's calendar.
type Appointment struct {
	ID                 string    `json:"id"`
	PracticeID         string    `json:"practice_id"`
	PatientID          string    `json:"patient_id"`
	ProviderID         string    `json:"provider_id"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	MinutesDuration    int       `json:"minutes_duration"`
	ServiceCode        string    `json:"service_code,omitempty"`
	Description        string    `json:"description,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Note               string    `json:"note,omitempty"`
	PatientInstruction string    `json:"patient_instruction,omitempty"`
	CancelReason       string    `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// BookRequest carries the fields needed to place a visit on the schedule.
// EndTime may be omitted; it is derived from MinutesDuration, which itself
// falls back to the practice default.
type BookRequest struct {
	PracticeID         string    `json:"-"`
	PatientID          string    `json:"patient_id"`
	ProviderID         string    `json:"provider_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time,omitempty"`
	MinutesDuration    int       `json:"minutes_duration,omitempty"`
	ServiceCode        string    `json:"service_code,omitempty"`
	Description        string    `json:"description,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Note               string    `json:"note,omitempty"`
	PatientInstruction string    `json:"patient_instruction,omitempty"`
}

// Validate checks required identifiers. Window checks live in the service
// because they depend on the clock and grace period.
func (r *BookRequest) Validate() error {
	if strings.TrimSpace(r.PracticeID) == "" {
		return ErrMissingPracticeID
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return ErrMissingPatientID
	}
	if strings.TrimSpace(r.ProviderID) == "" {
		return ErrMissingProviderID
	}
	if r.StartTime.IsZero() {
		return ErrMissingStartTime
	}
	return nil
}

// RescheduleRequest moves a booked visit to a new window.
type RescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
	MinutesDuration int       `json:"minutes_duration,omitempty"`
}

// ListFilter narrows appointment queries. Zero values mean "any".
type ListFilter struct {
	ProviderID string
	PatientID  string
	Status     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Slot is a free bookable window on a provider's day.
type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}
