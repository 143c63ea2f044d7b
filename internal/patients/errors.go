package patients

import "errors"

var (
	// ErrMissingPracticeID is returned when the practice scope is absent
	ErrMissingPracticeID = errors.New("practice id is required")

	// ErrInvalidName is returned when first or last name is missing
	ErrInvalidName = errors.New("first and last name are required")

	// ErrInvalidDOB is returned when the date of birth is absent or in the future
	ErrInvalidDOB = errors.New("valid date of birth is required")

	// ErrMissingContact is returned when both email and phone are missing
	ErrMissingContact = errors.New("either email or phone is required")

	// ErrInvalidMRN is returned when a supplied MRN does not match the registry format
	ErrInvalidMRN = errors.New("mrn must match P0000000 format")

	// ErrInvalidStatus is returned when an update names an unknown status
	ErrInvalidStatus = errors.New("status must be active or inactive")

	// ErrDuplicateMRN is returned when the MRN already exists in the practice
	ErrDuplicateMRN = errors.New("mrn already in use")

	// ErrPatientNotFound is returned when a patient is not found
	ErrPatientNotFound = errors.New("patient not found")
)
