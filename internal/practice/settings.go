// Package practice holds per-practice configuration and operational stats.
package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DayHours is the working window for a single day.
// Nil means the practice does not see patients that day.
type DayHours struct {
	Open  string `json:"open"`  // "08:00" in 24-hour format
	Close string `json:"close"` // "17:00" in 24-hour format
}

// WeekHours maps weekday names to their working hours.
type WeekHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForDay returns the hours for a weekday, nil when closed.
func (w *WeekHours) ForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	case time.Sunday:
		return w.Sunday
	default:
		return nil
	}
}

// HasAnyHours reports whether at least one day has hours configured.
func (w *WeekHours) HasAnyHours() bool {
	return w.Monday != nil || w.Tuesday != nil || w.Wednesday != nil ||
		w.Thursday != nil || w.Friday != nil || w.Saturday != nil || w.Sunday != nil
}

// NotificationPrefs controls which emails the practice receives.
type NotificationPrefs struct {
	EmailEnabled bool     `json:"email_enabled"`
	Recipients   []string `json:"recipients,omitempty"`

	NotifyOnBooking bool `json:"notify_on_booking"`
	NotifyOnDenial  bool `json:"notify_on_denial"`
}

// Settings holds per-practice configuration.
type Settings struct {
	PracticeID          string            `json:"practice_id"`
	DisplayName         string            `json:"display_name"`
	Timezone            string            `json:"timezone"` // e.g., "America/New_York"
	WorkingHours        WeekHours         `json:"working_hours"`
	DefaultVisitMinutes int               `json:"default_visit_minutes"`
	Notifications       NotificationPrefs `json:"notifications"`
	// AgentGreeting overrides the assistant's default opening line.
	AgentGreeting string `json:"agent_greeting,omitempty"`
}

// DefaultSettings returns the configuration a new practice starts with.
func DefaultSettings(practiceID string) *Settings {
	return &Settings{
		PracticeID:  practiceID,
		DisplayName: "CareBridge Practice",
		Timezone:    "America/New_York",
		WorkingHours: WeekHours{
			Monday:    &DayHours{Open: "08:00", Close: "17:00"},
			Tuesday:   &DayHours{Open: "08:00", Close: "17:00"},
			Wednesday: &DayHours{Open: "08:00", Close: "17:00"},
			Thursday:  &DayHours{Open: "08:00", Close: "17:00"},
			Friday:    &DayHours{Open: "08:00", Close: "16:00"},
			Saturday:  nil, // Closed
			Sunday:    nil, // Closed
		},
		DefaultVisitMinutes: 30,
		Notifications: NotificationPrefs{
			EmailEnabled:    false, // Disabled until recipients are configured
			NotifyOnBooking: true,
			NotifyOnDenial:  true,
		},
	}
}

// IsOpenAt checks whether the practice sees patients at the given time.
// A practice with no configured hours is treated as always open.
func (s *Settings) IsOpenAt(t time.Time) bool {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)

	hours := s.WorkingHours.ForDay(local.Weekday())
	if hours == nil {
		return !s.WorkingHours.HasAnyHours()
	}

	openTime, err := time.Parse("15:04", hours.Open)
	if err != nil {
		return false
	}
	closeTime, err := time.Parse("15:04", hours.Close)
	if err != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= openTime.Hour()*60+openTime.Minute() &&
		minutes < closeTime.Hour()*60+closeTime.Minute()
}

// Location resolves the practice timezone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Store persists practice settings in redis as JSON.
type Store struct {
	redis *redis.Client
}

// NewStore creates a practice settings store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(practiceID string) string {
	return fmt.Sprintf("practice:settings:%s", practiceID)
}

// Get retrieves practice settings, returning defaults if not found.
func (s *Store) Get(ctx context.Context, practiceID string) (*Settings, error) {
	data, err := s.redis.Get(ctx, s.key(practiceID)).Bytes()
	if err == redis.Nil {
		return DefaultSettings(practiceID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("practice: get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("practice: unmarshal settings: %w", err)
	}
	return &settings, nil
}

// Set saves practice settings.
func (s *Store) Set(ctx context.Context, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("practice: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(settings.PracticeID), data, 0).Err(); err != nil {
		return fmt.Errorf("practice: set settings: %w", err)
	}
	return nil
}
