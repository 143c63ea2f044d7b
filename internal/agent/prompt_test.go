package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carebridgehq/carebridge-platform/internal/practice"
)

func TestBuildSystemPrompt_NilSettings(t *testing.T) {
	prompt := buildSystemPrompt(nil)

	assert.Contains(t, prompt, "the practice")
	assert.NotContains(t, prompt, "{practice_name}")
	assert.NotContains(t, prompt, "OFFICE HOURS")
	assert.NotContains(t, prompt, "GREETING")
}

func TestBuildSystemPrompt_UsesDisplayName(t *testing.T) {
	prompt := buildSystemPrompt(&practice.Settings{
		PracticeID:  "prac-1",
		DisplayName: "Lakeside Family Medicine",
	})

	assert.Contains(t, prompt, "Lakeside Family Medicine")
	assert.NotContains(t, prompt, "{practice_name}")
}

func TestBuildSystemPrompt_IncludesWorkingHours(t *testing.T) {
	settings := &practice.Settings{
		PracticeID:  "prac-1",
		DisplayName: "Lakeside Family Medicine",
		Timezone:    "America/New_York",
		WorkingHours: practice.WeekHours{
			Monday:   &practice.DayHours{Open: "08:00", Close: "17:00"},
			Friday:   &practice.DayHours{Open: "08:00", Close: "16:00"},
			Saturday: nil,
		},
	}

	prompt := buildSystemPrompt(settings)

	assert.Contains(t, prompt, "OFFICE HOURS (America/New_York)")
	assert.Contains(t, prompt, "Monday 08:00-17:00")
	assert.Contains(t, prompt, "Friday 08:00-16:00")
	assert.Contains(t, prompt, "Saturday closed")
}

func TestBuildSystemPrompt_OmitsHoursWhenUnset(t *testing.T) {
	prompt := buildSystemPrompt(&practice.Settings{
		PracticeID:  "prac-1",
		DisplayName: "Lakeside Family Medicine",
	})

	assert.NotContains(t, prompt, "OFFICE HOURS")
}

func TestBuildSystemPrompt_IncludesGreeting(t *testing.T) {
	prompt := buildSystemPrompt(&practice.Settings{
		PracticeID:    "prac-1",
		DisplayName:   "Lakeside Family Medicine",
		AgentGreeting: "Welcome to Lakeside! How can I help today?",
	})

	assert.Contains(t, prompt, "GREETING:")
	assert.Contains(t, prompt, "Welcome to Lakeside! How can I help today?")
}

func TestBuildSystemPrompt_KeepsGuardrailSections(t *testing.T) {
	prompt := buildSystemPrompt(practice.DefaultSettings("prac-1"))

	for _, section := range []string{
		"WHAT YOU CAN DO",
		"WHAT YOU MUST NEVER DO",
		"BILLING QUESTIONS",
		"COMMUNICATION STYLE",
	} {
		if !strings.Contains(prompt, section) {
			t.Fatalf("expected prompt to contain section %q", section)
		}
	}
}
