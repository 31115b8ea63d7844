package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerLiftsComponent(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	NewComponentLogger(logger, "transfer").Info("record admitted", String(FieldItemKey, "srv:1"))

	line := buf.String()
	if !strings.Contains(line, "transfer: record admitted") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "item_key=srv:1") {
		t.Fatalf("expected item key attr, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as attr: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger.Info("msg", String("title", "The Wire"))
	if !strings.Contains(buf.String(), `title="The Wire"`) {
		t.Fatalf("expected quoted title, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("chatty"); got != slog.LevelInfo {
		t.Fatalf("parseLevel = %v", got)
	}
	if got := parseLevel("debug"); got != slog.LevelDebug {
		t.Fatalf("parseLevel = %v", got)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	WarnWithContext(logger, "metadata fetch failed", "metadata_fetch_failed")
	line := buf.String()
	for _, fragment := range []string{"event_type=metadata_fetch_failed", "error_hint=", "impact="} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
}
