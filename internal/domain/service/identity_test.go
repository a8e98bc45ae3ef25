package service

import "testing"

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain name", "Alice", true},
		{"full name", "María García", true},
		{"cjk name", "王小明", true},
		{"name with digits", "Alex99", true},

		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"single rune", "A", false},
		{"too long", "Aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"placeholder user", "user", false},
		{"placeholder iphone case-insensitive", "iPhone", false},
		{"placeholder whatsapp", "WhatsApp", false},
		{"placeholder hi", "hi", false},
		{"emoji only", "🔥🔥🔥", false},
		{"symbols only", "***", false},
		{"digits only", "123456789", false},
		{"mostly digits", "12345678a9", false},
		{"mostly symbols", "=^.^=x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidName(tt.input); got != tt.want {
				t.Errorf("IsValidName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
