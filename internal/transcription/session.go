package transcription

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/speechtext/speechtext/internal/audio"
)

// Session ties an audio frame stream to a streaming adapter. It runs two
// goroutines: one forwarding frames to the remote stream in capture order,
// one remapping provider results into events. A session never reconnects;
// failures are surfaced on the error channel and the pipeline decides.
type Session struct {
	adapter  StreamingAdapter
	language string
	usage    *UsageTracker

	eventCh chan Event
	errCh   chan error

	lastSeq uint64
	hasSeq  bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSession wraps an adapter. usage may be nil.
func NewSession(adapter StreamingAdapter, language string, usage *UsageTracker) *Session {
	return &Session{
		adapter:  adapter,
		language: language,
		usage:    usage,
	}
}

// Start opens the adapter and begins streaming frames from frameCh. The
// returned event channel is closed when the session ends; errors already
// carry their taxonomy classification.
func (s *Session) Start(ctx context.Context, frameCh <-chan audio.Frame) (<-chan Event, <-chan error, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.adapter.Start(s.ctx, s.language); err != nil {
		s.cancel()
		return nil, nil, err
	}

	s.eventCh = make(chan Event, 16)
	s.errCh = make(chan error, 2)

	s.wg.Add(1)
	go s.sendLoop(frameCh)

	s.wg.Add(1)
	go s.receiveLoop()

	return s.eventCh, s.errCh, nil
}

// sendLoop forwards frames strictly in capture order. A frame repeating the
// last sequence number is a duplicate and is skipped. A lower number means
// the capture counter restarted for a replacement stream: frames staged
// before the restart flush through first with their old numbers, so the loop
// adopts the new numbering instead of treating it as duplicates.
func (s *Session) sendLoop(frameCh <-chan audio.Frame) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			if s.hasSeq && frame.Seq == s.lastSeq {
				log.Debug("session: skipping duplicate frame", "seq", frame.Seq)
				continue
			}
			if s.hasSeq && frame.Seq < s.lastSeq {
				log.Debug("session: frame numbering restarted", "seq", frame.Seq, "prev", s.lastSeq)
			}
			s.lastSeq = frame.Seq
			s.hasSeq = true

			if err := s.adapter.Send(frame.Data); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.emitErr(err)
				if IsAuthError(err) || IsTransient(err) {
					return
				}
				continue
			}
			if s.usage != nil {
				s.usage.AddFrame(len(frame.Data))
			}
		}
	}
}

// receiveLoop remaps adapter results into events, preserving arrival order.
func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.eventCh)

	resultsCh := s.adapter.Results()
	for {
		select {
		case <-s.ctx.Done():
			return
		case result, ok := <-resultsCh:
			if !ok {
				return
			}
			if result.Err != nil {
				s.emitErr(result.Err)
				if IsAuthError(result.Err) || IsTransient(result.Err) {
					return
				}
				continue
			}

			if s.usage != nil {
				s.usage.ObserveTranscript(result.Text, result.Final)
			}

			select {
			case s.eventCh <- result.event():
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) emitErr(err error) {
	select {
	case s.errCh <- err:
	default:
		// pipeline is already acting on an earlier error
	}
}

// Stop tears the session down. Idempotent; blocks until both loops have
// exited and the adapter connection is released.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.adapter.Close()
	})
	return err
}
