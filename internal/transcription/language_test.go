package transcription

import "testing"

func TestNormalizeDeepgramLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"en", "en-US"},
		{"EN", "en-US"},
		{"en-us", "en-US"},
		{"en-US", "en-US"},
		{"en_us", "en-US"},
		{"es", "es"},
		{"de-DE", "de-DE"},
		{"pt-BR", "pt-BR"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizeDeepgramLanguage(tt.in); got != tt.want {
				t.Errorf("normalizeDeepgramLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
