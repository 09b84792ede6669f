package logger

import "testing"

func TestInitAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if err := Init(level); err != nil {
			t.Fatalf("Init(%q) returned error: %v", level, err)
		}
		if Logger() == nil {
			t.Fatalf("Logger() returned nil after Init(%q)", level)
		}
	}
}

func TestInitFallsBackOnUnknownLevel(t *testing.T) {
	if err := Init("chatty"); err != nil {
		t.Fatalf("unknown level should fall back to info, got error: %v", err)
	}
}

func TestWithModuleNeverNil(t *testing.T) {
	if WithModule("refresh") == nil {
		t.Fatal("WithModule returned nil logger")
	}
}
