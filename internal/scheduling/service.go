package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	minVisit = 5 * time.Minute
	maxVisit = 8 * time.Hour

	defaultGracePeriod  = 15 * time.Minute
	defaultVisitMinutes = 30

	checkInWindow = time.Hour
)

// SettingsSource resolves practice settings for availability and defaults.
type SettingsSource interface {
	Get(ctx context.Context, practiceID string) (*practice.Settings, error)
}

// Notifier sends patient-facing emails. Implementations log their own
// failures; scheduling never blocks on delivery.
type Notifier interface {
	AppointmentBooked(ctx context.Context, appt *Appointment)
	AppointmentCancelled(ctx context.Context, appt *Appointment)
}

// Broadcaster pushes appointment changes to connected front-desk boards.
type Broadcaster interface {
	BroadcastAppointment(event string, appt *Appointment)
}

// Service owns appointment lifecycle rules.
type Service struct {
	store    *Store
	settings SettingsSource
	notifier Notifier
	board    Broadcaster
	logger   *logging.Logger

	grace   time.Duration
	nowFunc func() time.Time
}

type ServiceOption func(*Service)

// WithNotifier attaches the email notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithBroadcaster attaches the live board.
func WithBroadcaster(b Broadcaster) ServiceOption {
	return func(s *Service) { s.board = b }
}

// WithGracePeriod overrides how far in the past a start time may be.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func NewService(store *Store, settings SettingsSource, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:    store,
		settings: settings,
		logger:   logger,
		grace:    defaultGracePeriod,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveWindow fills in EndTime/MinutesDuration from whichever the caller
// provided, falling back to the practice default duration.
func (s *Service) resolveWindow(ctx context.Context, practiceID string, start, end time.Time, minutes int) (time.Time, int) {
	if !end.IsZero() {
		return end, int(end.Sub(start) / time.Minute)
	}
	if minutes <= 0 {
		minutes = defaultVisitMinutes
		if s.settings != nil {
			if settings, err := s.settings.Get(ctx, practiceID); err == nil && settings.DefaultVisitMinutes > 0 {
				minutes = settings.DefaultVisitMinutes
			}
		}
	}
	return start.Add(time.Duration(minutes) * time.Minute), minutes
}

func (s *Service) validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidWindow)
	}
	dur := end.Sub(start)
	if dur < minVisit {
		return fmt.Errorf("%w: visit shorter than %s", ErrInvalidWindow, minVisit)
	}
	if dur > maxVisit {
		return fmt.Errorf("%w: visit longer than %s", ErrInvalidWindow, maxVisit)
	}
	if start.Before(s.nowFunc().Add(-s.grace)) {
		return ErrPastStart
	}
	return nil
}

// Book validates the window, checks provider conflicts, persists the visit
// and its booked event atomically, then notifies and updates the board.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	end, minutes := s.resolveWindow(ctx, req.PracticeID, req.StartTime, req.EndTime, req.MinutesDuration)
	if err := s.validateWindow(req.StartTime, end); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:                 uuid.New().String(),
		PracticeID:         req.PracticeID,
		PatientID:          req.PatientID,
		ProviderID:         req.ProviderID,
		Status:             StatusBooked,
		StartTime:          req.StartTime.UTC(),
		EndTime:            end.UTC(),
		MinutesDuration:    minutes,
		ServiceCode:        req.ServiceCode,
		Description:        req.Description,
		Reason:             req.Reason,
		Note:               req.Note,
		PatientInstruction: req.PatientInstruction,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conflict, err := s.store.HasProviderOverlap(ctx, tx, appt.PracticeID, appt.ProviderID, appt.StartTime, appt.EndTime, "")
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	if err := s.store.Insert(ctx, tx, appt); err != nil {
		return nil, err
	}

	booked := events.AppointmentBookedV1{
		AppointmentID: appt.ID,
		PracticeID:    appt.PracticeID,
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		VisitType:     appt.ServiceCode,
		BookedAt:      s.nowFunc().UTC(),
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, appt.PracticeID, "appointment:"+appt.ID, appt.ID, booked); err != nil {
		return nil, fmt.Errorf("scheduling: append booked event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scheduling: commit booking: %w", err)
	}

	s.logger.Info("appointment booked",
		"practice_id", appt.PracticeID, "appointment_id", appt.ID,
		"provider_id", appt.ProviderID, "starts_at", appt.StartTime)

	if s.notifier != nil {
		s.notifier.AppointmentBooked(context.Background(), appt)
	}
	s.broadcast("appointment.booked", appt)
	return appt, nil
}

// Reschedule moves a booked visit, re-running the conflict check with the
// appointment itself excluded.
func (s *Service) Reschedule(ctx context.Context, practiceID, id string, req RescheduleRequest) (*Appointment, error) {
	if req.StartTime.IsZero() {
		return nil, ErrMissingStartTime
	}

	end, minutes := s.resolveWindow(ctx, practiceID, req.StartTime, req.EndTime, req.MinutesDuration)
	if err := s.validateWindow(req.StartTime, end); err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusBooked {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	conflict, err := s.store.HasProviderOverlap(ctx, tx, practiceID, appt.ProviderID, req.StartTime, end, id)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	if err := s.store.UpdateWindow(ctx, tx, practiceID, id, req.StartTime.UTC(), end.UTC(), minutes); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scheduling: commit reschedule: %w", err)
	}

	appt.StartTime = req.StartTime.UTC()
	appt.EndTime = end.UTC()
	appt.MinutesDuration = minutes

	s.logger.Info("appointment rescheduled",
		"practice_id", practiceID, "appointment_id", id, "starts_at", appt.StartTime)
	s.broadcast("appointment.rescheduled", appt)
	return appt, nil
}

// Cancel takes a booked or checked-in visit off the schedule. Cancelling an
// already-cancelled appointment is a transition error, not a no-op.
func (s *Service) Cancel(ctx context.Context, practiceID, id, reason string) (*Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusBooked && appt.Status != StatusCheckedIn {
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, appt.Status)
	}

	if err := s.store.UpdateStatus(ctx, tx, practiceID, id, StatusCancelled, reason); err != nil {
		return nil, err
	}

	cancelled := events.AppointmentCancelledV1{
		AppointmentID: appt.ID,
		PracticeID:    appt.PracticeID,
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		StartTime:     appt.StartTime,
		Reason:        reason,
		CancelledAt:   s.nowFunc().UTC(),
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, appt.PracticeID, "appointment:"+appt.ID, appt.ID, cancelled); err != nil {
		return nil, fmt.Errorf("scheduling: append cancelled event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scheduling: commit cancel: %w", err)
	}

	appt.Status = StatusCancelled
	appt.CancelReason = reason

	s.logger.Info("appointment cancelled", "practice_id", practiceID, "appointment_id", id)

	if s.notifier != nil {
		s.notifier.AppointmentCancelled(context.Background(), appt)
	}
	s.broadcast("appointment.cancelled", appt)
	return appt, nil
}

// CheckIn marks the patient as arrived, allowed within one hour either side
// of the scheduled start.
func (s *Service) CheckIn(ctx context.Context, practiceID, id string) (*Appointment, error) {
	return s.transition(ctx, practiceID, id, StatusCheckedIn, func(appt *Appointment) error {
		if appt.Status != StatusBooked {
			return fmt.Errorf("%w: cannot check in a %s appointment", ErrInvalidTransition, appt.Status)
		}
		now := s.nowFunc()
		if now.Before(appt.StartTime.Add(-checkInWindow)) || now.After(appt.StartTime.Add(checkInWindow)) {
			return ErrCheckInWindow
		}
		return nil
	})
}

// Complete closes out a checked-in visit.
func (s *Service) Complete(ctx context.Context, practiceID, id string) (*Appointment, error) {
	return s.transition(ctx, practiceID, id, StatusCompleted, func(appt *Appointment) error {
		if appt.Status != StatusCheckedIn {
			return fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, appt.Status)
		}
		return nil
	})
}

// MarkNoShow records that the patient never arrived. Only valid after the
// scheduled start.
func (s *Service) MarkNoShow(ctx context.Context, practiceID, id string) (*Appointment, error) {
	return s.transition(ctx, practiceID, id, StatusNoShow, func(appt *Appointment) error {
		if appt.Status != StatusBooked {
			return fmt.Errorf("%w: cannot mark a %s appointment as no-show", ErrInvalidTransition, appt.Status)
		}
		if s.nowFunc().Before(appt.StartTime) {
			return fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, practiceID, id, to string, check func(*Appointment) error) (*Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if err := check(appt); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, tx, practiceID, id, to, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scheduling: commit transition: %w", err)
	}

	appt.Status = to
	s.logger.Info("appointment status changed",
		"practice_id", practiceID, "appointment_id", id, "status", to)
	s.broadcast("appointment."+to, appt)
	return appt, nil
}

// Get loads a single appointment.
func (s *Service) Get(ctx context.Context, practiceID, id string) (*Appointment, error) {
	return s.store.GetByID(ctx, practiceID, id)
}

// List returns appointments matching the filter.
func (s *Service) List(ctx context.Context, practiceID string, filter ListFilter) ([]Appointment, error) {
	return s.store.List(ctx, practiceID, filter)
}

// Availability computes free slots for a provider on a date from the
// practice working hours minus existing visits. Slots step by slotMinutes.
func (s *Service) Availability(ctx context.Context, practiceID, providerID string, date time.Time, slotMinutes int) ([]Slot, error) {
	if providerID == "" {
		return nil, ErrMissingProviderID
	}

	settings := practice.DefaultSettings(practiceID)
	if s.settings != nil {
		loaded, err := s.settings.Get(ctx, practiceID)
		if err != nil {
			return nil, fmt.Errorf("scheduling: load settings: %w", err)
		}
		settings = loaded
	}
	if slotMinutes <= 0 {
		slotMinutes = settings.DefaultVisitMinutes
		if slotMinutes <= 0 {
			slotMinutes = defaultVisitMinutes
		}
	}

	loc := settings.Location()
	local := date.In(loc)
	hours := settings.WorkingHours.ForDay(local.Weekday())
	if hours == nil {
		return []Slot{}, nil
	}

	open, err := time.Parse("15:04", hours.Open)
	if err != nil {
		return nil, fmt.Errorf("scheduling: bad open time %q: %w", hours.Open, err)
	}
	closeTime, err := time.Parse("15:04", hours.Close)
	if err != nil {
		return nil, fmt.Errorf("scheduling: bad close time %q: %w", hours.Close, err)
	}

	dayOpen := time.Date(local.Year(), local.Month(), local.Day(), open.Hour(), open.Minute(), 0, 0, loc)
	dayClose := time.Date(local.Year(), local.Month(), local.Day(), closeTime.Hour(), closeTime.Minute(), 0, 0, loc)

	busy, err := s.store.ListProviderDay(ctx, practiceID, providerID, dayOpen.UTC(), dayClose.UTC())
	if err != nil {
		return nil, err
	}

	step := time.Duration(slotMinutes) * time.Minute
	earliest := s.nowFunc().Add(-s.grace)

	slots := []Slot{}
	for start := dayOpen; !start.Add(step).After(dayClose); start = start.Add(step) {
		end := start.Add(step)
		if start.Before(earliest) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		slots = append(slots, Slot{StartTime: start.UTC(), EndTime: end.UTC()})
	}
	return slots, nil
}

func overlapsAny(start, end time.Time, busy []Appointment) bool {
	for _, b := range busy {
		if start.Before(b.EndTime) && end.After(b.StartTime) {
			return true
		}
	}
	return false
}

func (s *Service) broadcast(event string, appt *Appointment) {
	if s.board != nil {
		s.board.BroadcastAppointment(event, appt)
	}
}
