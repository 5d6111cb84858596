package transcription

import (
	"context"
	"fmt"
	"os"
)

// StreamingAdapter is the boundary to a remote recognition backend. An
// adapter forwards raw PCM and yields results; it never retries a broken
// connection itself. Recovery policy belongs to the pipeline.
type StreamingAdapter interface {
	// Start opens the connection and begins receiving results.
	Start(ctx context.Context, language string) error

	// Send forwards one chunk of 16-bit little-endian PCM in arrival order.
	Send(audio []byte) error

	// Results returns the channel of transcription results. The channel is
	// closed when the adapter shuts down.
	Results() <-chan Result

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Config selects and configures a recognition backend.
type Config struct {
	Provider        string // "google" or "deepgram"
	Language        string
	Model           string // deepgram only
	CredentialsFile string // google service account key, falls back to ADC
	APIKey          string // deepgram
	SampleRate      int
}

func DefaultConfig() Config {
	return Config{
		Provider:   "google",
		Language:   "en-US",
		Model:      "nova-3",
		SampleRate: 16000,
	}
}

// NewAdapter creates the streaming adapter for the configured provider.
func NewAdapter(config Config) (StreamingAdapter, error) {
	switch config.Provider {
	case "google":
		if config.CredentialsFile == "" {
			config.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
		return NewGoogleAdapter(config), nil

	case "deepgram":
		if config.APIKey == "" {
			config.APIKey = os.Getenv("DEEPGRAM_API_KEY")
		}
		if config.APIKey == "" {
			return nil, fmt.Errorf("deepgram API key required: set transcription.api_key or DEEPGRAM_API_KEY")
		}
		return NewDeepgramAdapter(config), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}
