package scheduling

import "errors"

// ErrAppointmentNotFound indicates no appointment with the given id in this practice.
var ErrAppointmentNotFound = errors.New("scheduling: appointment not found")

// ErrSlotConflict indicates the provider already has a visit in the window.
var ErrSlotConflict = errors.New("scheduling: provider already booked in this window")

// ErrInvalidTransition indicates the requested status change is not allowed
// from the appointment's current status.
var ErrInvalidTransition = errors.New("scheduling: invalid status transition")

// ErrCheckInWindow indicates a check-in attempt outside the allowed window
// around the scheduled start.
var ErrCheckInWindow = errors.New("scheduling: check-in only allowed within one hour of start")

// ErrInvalidWindow indicates the requested start/end pair is not bookable.
var ErrInvalidWindow = errors.New("scheduling: invalid appointment window")

// ErrPastStart indicates the start time is further in the past than the grace period.
var ErrPastStart = errors.New("scheduling: start time is in the past")

// ErrMissingPracticeID indicates the request lacks a practice scope.
var ErrMissingPracticeID = errors.New("scheduling: practice id is required")

// ErrMissingPatientID indicates the request lacks a patient.
var ErrMissingPatientID = errors.New("scheduling: patient id is required")

// ErrMissingProviderID indicates the request lacks a provider.
var ErrMissingProviderID = errors.New("scheduling: provider id is required")

// ErrMissingStartTime indicates the request lacks a start time.
var ErrMissingStartTime = errors.New("scheduling: start time is required")
