package insurance

import "errors"

var (
	// ErrPolicyNotFound is returned when no policy matches the id within
	// the practice.
	ErrPolicyNotFound = errors.New("insurance: policy not found")

	// ErrVerificationNotFound is returned when no verification matches.
	ErrVerificationNotFound = errors.New("insurance: verification not found")

	// ErrPolicyExpired is returned when verification is attempted against
	// coverage that has lapsed.
	ErrPolicyExpired = errors.New("insurance: policy expired")

	ErrMissingPracticeID    = errors.New("insurance: practice id is required")
	ErrMissingPatientID     = errors.New("insurance: patient id is required")
	ErrMissingPayerID       = errors.New("insurance: payer id is required")
	ErrMissingMemberID      = errors.New("insurance: member id is required")
	ErrInvalidPlanType      = errors.New("insurance: invalid plan type")
	ErrInvalidPolicyStatus  = errors.New("insurance: invalid policy status")
	ErrInvalidCoverageDates = errors.New("insurance: expiration precedes effective date")
)
