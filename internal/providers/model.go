package providers

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Provider is a practitioner who can be booked on the schedule.
type Provider struct {
	ID          string    `json:"id"`
	PracticeID  string    `json:"practice_id"`
	NPI         string    `json:"npi"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Credentials string    `json:"credentials,omitempty"`
	Specialties []string  `json:"specialties"`
	Color       string    `json:"color,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateProviderRequest struct {
	PracticeID  string   `json:"-"`
	NPI         string   `json:"npi"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Credentials string   `json:"credentials,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
	Color       string   `json:"color,omitempty"`
}

var (
	ErrInvalidNPI       = errors.New("npi must be 10 digits")
	ErrInvalidName      = errors.New("first and last name are required")
	ErrProviderNotFound = errors.New("provider not found")
	ErrDuplicateNPI     = errors.New("npi already registered")
)

var npiPattern = regexp.MustCompile(`^\d{10}$`)

func (r *CreateProviderRequest) Validate() error {
	if !npiPattern.MatchString(r.NPI) {
		return ErrInvalidNPI
	}
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return ErrInvalidName
	}
	return nil
}
