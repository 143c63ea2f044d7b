package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelThresholds(t *testing.T) {
	cases := []struct {
		level     string
		wantDebug bool
	}{
		{"debug", true},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"bogus", false},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		logger := NewWithWriter(tc.level, &buf)
		logger.Debug("debug line")
		got := strings.Contains(buf.String(), "debug line")
		if got != tc.wantDebug {
			t.Errorf("level %q: debug emitted = %v, want %v", tc.level, got, tc.wantDebug)
		}
	}
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf)
	logger.Info("patient created", "patient_id", "pat-123")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "patient created" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["patient_id"] != "pat-123" {
		t.Errorf("unexpected patient_id: %v", record["patient_id"])
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).Component("claims")
	logger.Info("claim queued")

	if !strings.Contains(buf.String(), `"component":"claims"`) {
		t.Errorf("expected component attribute, got %s", buf.String())
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default returned nil")
	}
}
