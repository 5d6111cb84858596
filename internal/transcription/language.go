package transcription

import "strings"

// normalizeDeepgramLanguage maps common BCP-47 spellings onto the codes
// Deepgram accepts. Google takes BCP-47 directly, so only the Deepgram
// adapter uses this.
func normalizeDeepgramLanguage(code string) string {
	if code == "" {
		return ""
	}

	if strings.EqualFold(code, "en") || strings.EqualFold(code, "en-us") || strings.EqualFold(code, "en_us") {
		return "en-US"
	}

	return code
}
