package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/speechtext/speechtext/internal/audio"
	"github.com/speechtext/speechtext/internal/injection"
	"github.com/speechtext/speechtext/internal/transcription"
)

type Config struct {
	Audio         AudioConfig         `toml:"audio"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Injection     InjectionConfig     `toml:"injection"`
	Reconnect     ReconnectConfig     `toml:"reconnect"`
	Notifications NotificationsConfig `toml:"notifications"`
	Display       DisplayConfig       `toml:"display"`
}

type AudioConfig struct {
	SampleRate    int      `toml:"sample_rate"`
	Channels      int      `toml:"channels"`
	FrameDuration Duration `toml:"frame_duration"`
	QueueSize     int      `toml:"queue_size"`
}

type TranscriptionConfig struct {
	Provider        string `toml:"provider"`
	Language        string `toml:"language"`
	Model           string `toml:"model"`
	CredentialsFile string `toml:"credentials_file"`
	APIKey          string `toml:"api_key"`
}

type InjectionConfig struct {
	AutoOutput       bool     `toml:"auto_output"`
	Backends         []string `toml:"backends"`
	RestoreClipboard bool     `toml:"restore_clipboard"`
	TypeTimeout      Duration `toml:"type_timeout"`
	ClipboardTimeout Duration `toml:"clipboard_timeout"`
}

type ReconnectConfig struct {
	MaxRetries  int        `toml:"max_retries"`
	RetryDelays []Duration `toml:"retry_delays"`
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}

type DisplayConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration wraps time.Duration so TOML values like "5s" decode.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() *Config {
	ic := injection.DefaultConfig()
	return &Config{
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: Duration(100 * time.Millisecond),
			QueueSize:     32,
		},
		Transcription: TranscriptionConfig{
			Provider: "google",
			Language: "en-US",
			Model:    "nova-3",
		},
		Injection: InjectionConfig{
			AutoOutput:       true,
			Backends:         ic.Backends,
			RestoreClipboard: ic.RestoreClipboard,
			TypeTimeout:      Duration(ic.TypeTimeout),
			ClipboardTimeout: Duration(ic.ClipboardTimeout),
		},
		Reconnect: ReconnectConfig{
			MaxRetries:  3,
			RetryDelays: []Duration{Duration(time.Second), Duration(2 * time.Second), Duration(4 * time.Second)},
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Type:    "desktop",
		},
		Display: DisplayConfig{
			Enabled: true,
		},
	}
}

func (c *Config) ToAudioConfig() audio.Config {
	return audio.Config{
		SampleRate:        c.Audio.SampleRate,
		Channels:          c.Audio.Channels,
		FrameDuration:     c.Audio.FrameDuration.Std(),
		ChannelBufferSize: c.Audio.QueueSize,
	}
}

func (c *Config) ToTranscriptionConfig() transcription.Config {
	cfg := transcription.Config{
		Provider:        c.Transcription.Provider,
		Language:        c.Transcription.Language,
		Model:           c.Transcription.Model,
		CredentialsFile: c.Transcription.CredentialsFile,
		APIKey:          c.Transcription.APIKey,
		SampleRate:      c.Audio.SampleRate,
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	return cfg
}

func (c *Config) ToInjectionConfig() injection.Config {
	return injection.Config{
		Backends:         c.Injection.Backends,
		RestoreClipboard: c.Injection.RestoreClipboard,
		TypeTimeout:      c.Injection.TypeTimeout.Std(),
		ClipboardTimeout: c.Injection.ClipboardTimeout.Std(),
	}
}

func (c *Config) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.Reconnect.RetryDelays))
	for _, d := range c.Reconnect.RetryDelays {
		delays = append(delays, d.Std())
	}
	return delays
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio.sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio.channels: %d", c.Audio.Channels)
	}
	if c.Audio.FrameDuration <= 0 {
		return fmt.Errorf("invalid audio.frame_duration: %v", c.Audio.FrameDuration.Std())
	}
	if c.Audio.QueueSize <= 0 {
		return fmt.Errorf("invalid audio.queue_size: %d", c.Audio.QueueSize)
	}

	switch c.Transcription.Provider {
	case "google", "deepgram":
	case "":
		return fmt.Errorf("invalid transcription.provider: empty")
	default:
		return fmt.Errorf("invalid transcription.provider: %s (must be google or deepgram)", c.Transcription.Provider)
	}
	if c.Transcription.Language == "" {
		return fmt.Errorf("invalid transcription.language: empty")
	}

	if len(c.Injection.Backends) == 0 {
		return fmt.Errorf("invalid injection.backends: empty")
	}
	valid := map[string]bool{"wtype": true, "ydotool": true, "osascript": true, "clipboard": true}
	for _, b := range c.Injection.Backends {
		if !valid[b] {
			return fmt.Errorf("invalid injection.backends entry: %s", b)
		}
	}
	if c.Injection.TypeTimeout <= 0 {
		return fmt.Errorf("invalid injection.type_timeout: %v", c.Injection.TypeTimeout.Std())
	}
	if c.Injection.ClipboardTimeout <= 0 {
		return fmt.Errorf("invalid injection.clipboard_timeout: %v", c.Injection.ClipboardTimeout.Std())
	}

	if c.Reconnect.MaxRetries <= 0 {
		return fmt.Errorf("invalid reconnect.max_retries: %d", c.Reconnect.MaxRetries)
	}
	for _, d := range c.Reconnect.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("invalid reconnect.retry_delays entry: %v", d.Std())
		}
	}

	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	return nil
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	dir := filepath.Join(configDir, "speechtext")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, creating it with defaults on first run.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info("config: no config file found, creating with defaults", "path", configPath)
		if err := writeDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	config := Default()
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return config, nil
}

func writeDefaultConfig(configPath string) error {
	return os.WriteFile(configPath, []byte(defaultConfigContent), 0o644)
}

const defaultConfigContent = `# speechtext configuration
# Injection, notification and display changes are applied immediately;
# audio and transcription changes require a restart.

[audio]
  sample_rate = 16000          # capture rate in Hz (16000 recommended for speech)
  channels = 1                 # 1 = mono
  frame_duration = "100ms"     # duration of one PCM frame
  queue_size = 32              # frames buffered between capture and the remote stream

[transcription]
  provider = "google"          # "google" or "deepgram"
  language = "en-US"           # BCP-47 language code
  model = "nova-3"             # deepgram model (ignored for google)
  credentials_file = ""        # google service account key (or GOOGLE_APPLICATION_CREDENTIALS)
  api_key = ""                 # deepgram API key (or DEEPGRAM_API_KEY)

[injection]
  auto_output = true           # type final transcripts into the focused field
  backends = ["wtype", "ydotool", "clipboard"]
  restore_clipboard = true
  type_timeout = "5s"
  clipboard_timeout = "3s"

[reconnect]
  max_retries = 3
  retry_delays = ["1s", "2s", "4s"]

[notifications]
  enabled = true
  type = "desktop"             # "desktop", "log", "none"

[display]
  enabled = true               # live transcript panel when stdout is a TTY
`
