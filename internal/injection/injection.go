package injection

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
)

// ErrUnavailable reports that no injection channel could deliver the text,
// e.g. the typing tool is missing or accessibility permission is denied.
// The pipeline treats this as a degraded mode, not a failure.
var ErrUnavailable = errors.New("text injection unavailable")

// Injector delivers text to whatever UI element currently holds focus.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

type Config struct {
	Backends         []string // tried in order: "wtype", "ydotool", "osascript", "clipboard"
	RestoreClipboard bool     // restore previous clipboard after a clipboard injection
	TypeTimeout      time.Duration
	ClipboardTimeout time.Duration
}

// DefaultConfig picks a backend order for the current platform.
func DefaultConfig() Config {
	backends := []string{"wtype", "ydotool", "clipboard"}
	if runtime.GOOS == "darwin" {
		backends = []string{"osascript", "clipboard"}
	}
	return Config{
		Backends:         backends,
		RestoreClipboard: true,
		TypeTimeout:      5 * time.Second,
		ClipboardTimeout: 3 * time.Second,
	}
}

type injector struct {
	config Config
}

func NewInjector(config Config) Injector {
	return &injector{config: config}
}

func NewDefaultInjector() Injector {
	return NewInjector(DefaultConfig())
}

// Inject tries each configured backend in order and stops at the first
// success. If every backend is unusable the returned error wraps
// ErrUnavailable so callers can enter degraded mode.
func (i *injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("cannot inject empty text")
	}
	if len(i.config.Backends) == 0 {
		return fmt.Errorf("%w: no backends configured", ErrUnavailable)
	}

	var lastErr error
	for _, backend := range i.config.Backends {
		var err error
		switch backend {
		case "wtype":
			err = typeWithWtype(ctx, text, i.config.TypeTimeout)
		case "ydotool":
			err = typeWithYdotool(ctx, text, i.config.TypeTimeout)
		case "osascript":
			err = typeWithOsascript(ctx, text, i.config.TypeTimeout)
		case "clipboard":
			err = copyToClipboard(text, i.config.RestoreClipboard)
		default:
			err = fmt.Errorf("unknown backend %q", backend)
		}

		if err == nil {
			log.Debug("injection: delivered", "backend", backend, "chars", len(text))
			return nil
		}
		log.Debug("injection: backend failed", "backend", backend, "err", err)
		lastErr = err
	}

	return fmt.Errorf("%w: all backends failed: %v", ErrUnavailable, lastErr)
}
