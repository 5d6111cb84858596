package output

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/speechtext/speechtext/internal/injection"
	"github.com/speechtext/speechtext/internal/transcription"
)

// Renderer receives transcript text for display. Partial events are display
// only and never reach the injector.
type Renderer interface {
	Partial(text string)
	Final(text string)
}

// Sink consumes transcript events. Final events are injected into the
// focused UI element; partial events only update the renderer. When the
// injection channel is unreachable the sink degrades: transcription keeps
// running, output is suppressed with a single warning, and injection is
// retried on every later final until it recovers.
type Sink struct {
	injector injection.Injector
	renderer Renderer

	autoOutput atomic.Bool
	degraded   atomic.Bool
}

// NewSink creates a sink. renderer may be nil.
func NewSink(injector injection.Injector, renderer Renderer, autoOutput bool) *Sink {
	s := &Sink{
		injector: injector,
		renderer: renderer,
	}
	s.autoOutput.Store(autoOutput)
	return s
}

// SetAutoOutput toggles injection of final transcripts. Live-reloadable.
func (s *Sink) SetAutoOutput(enabled bool) {
	s.autoOutput.Store(enabled)
}

// Degraded reports whether injection is currently suppressed.
func (s *Sink) Degraded() bool {
	return s.degraded.Load()
}

// Emit handles one transcript event. Injection problems never propagate as
// errors: they switch the sink into degraded mode instead.
func (s *Sink) Emit(ctx context.Context, ev transcription.Event) {
	if !ev.Final {
		if s.renderer != nil {
			s.renderer.Partial(ev.Text)
		}
		return
	}

	if s.renderer != nil {
		s.renderer.Final(ev.Text)
	}
	log.Info("final transcript", "text", ev.Text, "confidence", ev.Confidence)

	if !s.autoOutput.Load() {
		return
	}

	err := s.injector.Inject(ctx, ev.Text)
	switch {
	case err == nil:
		if s.degraded.CompareAndSwap(true, false) {
			log.Info("output: injection restored")
		}

	case errors.Is(err, injection.ErrUnavailable):
		if s.degraded.CompareAndSwap(false, true) {
			log.Warn("output: injection unavailable, suppressing output until it recovers", "err", err)
		}

	default:
		log.Warn("output: injection failed", "err", err)
	}
}
