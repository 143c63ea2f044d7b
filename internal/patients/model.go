package patients

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Patient statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// Patient represents a chart in the practice registry.
type Patient struct {
	ID           string    `json:"id"`
	PracticeID   string    `json:"practice_id"`
	MRN          string    `json:"mrn"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	DOB          time.Time `json:"dob"`
	Sex          string    `json:"sex,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	AddressLine1 string    `json:"address_line1,omitempty"`
	AddressLine2 string    `json:"address_line2,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Allergies    []string  `json:"allergies,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreatePatientRequest represents the request body for registering a patient.
type CreatePatientRequest struct {
	PracticeID   string    `json:"-"`
	MRN          string    `json:"mrn,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	DOB          time.Time `json:"dob"`
	Sex          string    `json:"sex,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	AddressLine1 string    `json:"address_line1,omitempty"`
	AddressLine2 string    `json:"address_line2,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Allergies    []string  `json:"allergies,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

var mrnPattern = regexp.MustCompile(`^P\d{7}$`)

// Validate validates the create patient request.
func (r *CreatePatientRequest) Validate() error {
	if strings.TrimSpace(r.PracticeID) == "" {
		return ErrMissingPracticeID
	}
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return ErrInvalidName
	}
	if r.DOB.IsZero() || r.DOB.After(time.Now()) {
		return ErrInvalidDOB
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	if r.MRN != "" && !mrnPattern.MatchString(r.MRN) {
		return ErrInvalidMRN
	}
	return nil
}

// UpdatePatientRequest replaces the mutable fields of a patient.
type UpdatePatientRequest struct {
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Sex          string   `json:"sex,omitempty"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	AddressLine1 string   `json:"address_line1,omitempty"`
	AddressLine2 string   `json:"address_line2,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Status       string   `json:"status,omitempty"`
}

// Validate validates the update patient request.
func (r *UpdatePatientRequest) Validate() error {
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return ErrInvalidName
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	switch r.Status {
	case "", StatusActive, StatusInactive:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// ListPatientsFilter narrows List results.
type ListPatientsFilter struct {
	// Query matches name or MRN prefix.
	Query string
	// Status filters by patient status; empty excludes archived.
	Status string
	Limit  int
	Offset int
}

// NewMRN generates a registry number in the practice's P-prefixed format.
func NewMRN() string {
	return fmt.Sprintf("P%07d", rand.Intn(10000000))
}
