package logging

import "testing"

func TestNewLogger_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "WARN", "error", ""} {
		log, err := NewLogger(lvl)
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", lvl, err)
		}
		_ = log.Sync()
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := NewLogger("chatty"); err == nil {
		t.Fatal("NewLogger should reject unknown level")
	}
}
