package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/speechtext/speechtext/internal/audio"
	"github.com/speechtext/speechtext/internal/output"
	"github.com/speechtext/speechtext/internal/transcription"
)

// State is the coordinator's session state. Only the coordinator writes it;
// everyone else reads an atomic snapshot.
type State string

const (
	Idle         State = "idle"
	Streaming    State = "streaming"
	Reconnecting State = "reconnecting"
	Stopped      State = "stopped"
)

// AudioSource is the capture side of the pipeline. Implemented by
// audio.Source; faked in tests.
type AudioSource interface {
	Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error)
	Stop() error
	ResetSequence()
}

// AdapterFactory opens a fresh streaming adapter. Called once at start and
// once per reconnect attempt.
type AdapterFactory func() (transcription.StreamingAdapter, error)

type Config struct {
	Language string

	// Reconnect policy. A reconnect episode makes MaxRetries attempts with
	// RetryDelays between them (last delay repeats); a successful reconnect
	// resets the count.
	MaxRetries  int
	RetryDelays []time.Duration

	// QueueSize bounds the frame queue between capture and the remote
	// stream. While streaming a full queue blocks the producer; while
	// reconnecting it drops oldest frames instead.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Language:    "en-US",
		MaxRetries:  3,
		RetryDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		QueueSize:   50,
	}
}

// Coordinator owns the lifecycle of the audio source, the transcription
// session and the output sink. Stopped is terminal: a new Coordinator is
// needed to start again.
type Coordinator struct {
	config     Config
	source     AudioSource
	newAdapter AdapterFactory
	sink       *output.Sink
	usage      *transcription.UsageTracker

	state        atomic.Value // State
	stateMu      sync.Mutex
	stateChanged chan struct{}

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	fatalMu  sync.Mutex
	fatalErr error
}

// New builds a coordinator in the Idle state. usage may be nil.
func New(config Config, source AudioSource, newAdapter AdapterFactory, sink *output.Sink, usage *transcription.UsageTracker) *Coordinator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if len(config.RetryDelays) == 0 {
		config.RetryDelays = DefaultConfig().RetryDelays
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	c := &Coordinator{
		config:       config,
		source:       source,
		newAdapter:   newAdapter,
		sink:         sink,
		usage:        usage,
		stateChanged: make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.state.Store(Idle)
	return c
}

// State returns the current state snapshot.
func (c *Coordinator) State() State {
	return c.state.Load().(State)
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state.Store(s)
	close(c.stateChanged)
	c.stateChanged = make(chan struct{})
	c.stateMu.Unlock()
	log.Debug("pipeline: state", "state", s)
}

// stateChange returns a channel closed on the next state transition.
func (c *Coordinator) stateChange() <-chan struct{} {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.stateChanged
}

// Start opens the audio source and the first transcription session and
// transitions Idle -> Streaming. Open failures are returned synchronously
// and leave the coordinator Stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.State() != Idle {
		return fmt.Errorf("pipeline already started (state %s)", c.State())
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	frameCh, audioErrCh, err := c.source.Start(runCtx)
	if err != nil {
		cancel()
		c.setState(Stopped)
		close(c.done)
		return err
	}

	sendCh := make(chan audio.Frame, c.config.QueueSize)

	session, eventCh, errCh, err := c.openSession(runCtx, sendCh)
	if err != nil {
		_ = c.source.Stop()
		cancel()
		c.setState(Stopped)
		close(c.done)
		return err
	}

	c.setState(Streaming)
	go c.pump(runCtx, frameCh, sendCh)
	go c.run(runCtx, sendCh, audioErrCh, session, eventCh, errCh)
	return nil
}

// Stop requests shutdown. Idempotent; the second call has no further
// observable effect. Use Wait to block until teardown completes.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// Wait blocks until the pipeline reaches Stopped and returns the fatal
// error, if any.
func (c *Coordinator) Wait() error {
	<-c.done
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}

func (c *Coordinator) setFatal(err error) {
	c.fatalMu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.fatalMu.Unlock()
}

func (c *Coordinator) openSession(ctx context.Context, sendCh <-chan audio.Frame) (*transcription.Session, <-chan transcription.Event, <-chan error, error) {
	adapter, err := c.newAdapter()
	if err != nil {
		return nil, nil, nil, err
	}
	session := transcription.NewSession(adapter, c.config.Language, c.usage)
	eventCh, errCh, err := session.Start(ctx, sendCh)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, eventCh, errCh, nil
}

// pump moves frames from the capture channel into the bounded frame queue.
// While streaming it blocks when the queue is full, pushing backpressure
// onto the source. While reconnecting it keeps the newest frames, dropping
// oldest with a throttled warning. Audio continuity across a reconnect is
// therefore not guaranteed.
func (c *Coordinator) pump(ctx context.Context, frameCh <-chan audio.Frame, sendCh chan audio.Frame) {
	var dropped int
	var lastDropLog time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				// Device end-of-stream: wind the pipeline down in order.
				log.Info("pipeline: audio stream ended")
				close(sendCh)
				c.Stop()
				return
			}
			if !c.deliver(ctx, frame, sendCh, &dropped, &lastDropLog) {
				return
			}
		}
	}
}

func (c *Coordinator) deliver(ctx context.Context, frame audio.Frame, sendCh chan audio.Frame, dropped *int, lastDropLog *time.Time) bool {
	for {
		if c.State() == Reconnecting {
			select {
			case sendCh <- frame:
				return true
			default:
			}
			// queue full while nobody drains it: drop oldest first
			select {
			case <-sendCh:
				*dropped++
				if time.Since(*lastDropLog) > time.Second {
					log.Warn("pipeline: dropping buffered audio while reconnecting", "dropped", *dropped)
					*lastDropLog = time.Now()
				}
			default:
			}
			continue
		}

		changed := c.stateChange()
		select {
		case sendCh <- frame:
			return true
		case <-changed:
			// state flipped while blocked; re-evaluate delivery mode
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Coordinator) run(ctx context.Context, sendCh chan audio.Frame, audioErrCh <-chan error, session *transcription.Session, eventCh <-chan transcription.Event, errCh <-chan error) {
	defer func() {
		// a fatal exit must also release the pump, which may be blocked
		// on a full queue
		c.cancel()
		if session != nil {
			_ = session.Stop()
		}
		_ = c.source.Stop()
		c.setState(Stopped)
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			c.sink.Emit(ctx, ev)

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			switch {
			case transcription.IsAuthError(err):
				log.Error("pipeline: credentials rejected", "err", err)
				c.setFatal(err)
				return

			case transcription.IsTransient(err):
				log.Warn("pipeline: transcription stream lost, reconnecting", "err", err)
				var ok bool
				session, eventCh, errCh, ok = c.reconnect(ctx, sendCh, session)
				if !ok {
					return
				}

			default:
				log.Warn("pipeline: transcription error", "err", err)
			}

		case err, ok := <-audioErrCh:
			if !ok {
				audioErrCh = nil
				continue
			}
			if err != nil {
				log.Error("pipeline: audio capture error", "err", err)
				c.setFatal(err)
				return
			}
		}
	}
}

// reconnect closes the failed session and opens a replacement against the
// same audio source, with bounded exponential backoff. Frame numbering
// restarts for the new session; frames staged in the queue before the
// restart keep their old numbers and flush through first.
func (c *Coordinator) reconnect(ctx context.Context, sendCh chan audio.Frame, failed *transcription.Session) (*transcription.Session, <-chan transcription.Event, <-chan error, bool) {
	c.setState(Reconnecting)
	_ = failed.Stop()
	c.source.ResetSequence()

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelays[min(attempt-1, len(c.config.RetryDelays)-1)]
			log.Info("pipeline: reconnect attempt", "attempt", attempt+1, "of", c.config.MaxRetries, "after", delay)
			select {
			case <-ctx.Done():
				return nil, nil, nil, false
			case <-time.After(delay):
			}
		}

		session, eventCh, errCh, err := c.openSession(ctx, sendCh)
		if err == nil {
			log.Info("pipeline: reconnected", "attempt", attempt+1)
			c.setState(Streaming)
			return session, eventCh, errCh, true
		}
		if transcription.IsAuthError(err) {
			log.Error("pipeline: credentials rejected during reconnect", "err", err)
			c.setFatal(err)
			return nil, nil, nil, false
		}
		log.Warn("pipeline: reconnect failed", "attempt", attempt+1, "err", err)
	}

	err := fmt.Errorf("transcription stream lost and %d reconnect attempts failed", c.config.MaxRetries)
	log.Error("pipeline: giving up", "err", err)
	c.setFatal(err)
	return nil, nil, nil, false
}
