package mwbridge

import "testing"

func TestMessageCodeStringCoversAllValues(t *testing.T) {
	codes := []MessageCode{
		ConsoleDisconnected, ConsoleReconnecting, ConsoleConnected, ConsoleError,
		GameState, ItemFound, ItemReceived, ItemsConfirmed,
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		s := c.String()
		if s == "Unknown" {
			t.Errorf("MessageCode(%d).String() = Unknown, want a named value", c)
		}
		if seen[s] {
			t.Errorf("MessageCode %q string collides with another code", s)
		}
		seen[s] = true
	}
}

func TestMessageCodeStringUnknownValue(t *testing.T) {
	if got := MessageCode(999).String(); got != "Unknown" {
		t.Errorf("String() for out-of-range code = %q, want Unknown", got)
	}
}

func TestNopSinkDiscardsWithoutPanicking(t *testing.T) {
	nopSink(ItemFound, []string{"whatever"})
}
