package whatsapp

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsFatalCode(t *testing.T) {
	for _, code := range []string{"conflict", "corrupted_session", "logged_out"} {
		if !isFatalCode(code) {
			t.Errorf("isFatalCode(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"", "network", "timeout", "server_restart"} {
		if isFatalCode(code) {
			t.Errorf("isFatalCode(%q) = true, want false", code)
		}
	}
}
