package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info().Msg("hidden")
	logger.Warn().Str("session_id", "abc").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"session_id":"abc"`) {
		t.Fatalf("expected structured field, got %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "text")
	logger.Debug().Msg("console")
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("text format should not emit JSON")
	}
}
