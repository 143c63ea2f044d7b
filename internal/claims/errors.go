package claims

import "errors"

// ErrClaimNotFound marks lookups for a claim the practice does not have.
var ErrClaimNotFound = errors.New("claims: claim not found")

// ErrInvalidTransition marks a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("claims: invalid status transition")

// ErrClaimNotDraft marks edits against a claim that already left drafting.
var ErrClaimNotDraft = errors.New("claims: claim is no longer a draft")

var (
	ErrMissingPracticeID  = errors.New("claims: practice id is required")
	ErrMissingPatientID   = errors.New("claims: patient id is required")
	ErrMissingClaimType   = errors.New("claims: claim type is required")
	ErrInvalidClaimType   = errors.New("claims: claim type must be professional or institutional")
	ErrInvalidServiceDate = errors.New("claims: service date must be YYYY-MM-DD")
)
