package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

// ErrDeviceUnavailable is returned by Open when the requested device index
// does not exist or the device cannot be opened with the requested settings.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Frame is a fixed-duration chunk of raw PCM samples. Seq strictly increases
// within a capture session; the pipeline resets it when it replaces the
// transcription stream.
type Frame struct {
	Data []byte
	Seq  uint64
	Time time.Time
}

type Config struct {
	SampleRate        int
	Channels          int
	FrameDuration     time.Duration
	ChannelBufferSize int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		Channels:          1,
		FrameDuration:     100 * time.Millisecond,
		ChannelBufferSize: 32,
	}
}

// samplesPerFrame returns the number of samples per channel in one frame.
func (c Config) samplesPerFrame() int {
	n := int(float64(c.SampleRate) * c.FrameDuration.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// Source captures 16-bit little-endian PCM frames from a single input
// device. It holds the portaudio stream exclusively between Open and Stop.
type Source struct {
	config Config
	device Device

	capturing atomic.Bool
	seq       atomic.Uint64

	mu     sync.Mutex // guards stream and cancel
	stream *portaudio.Stream
	buf    []int16
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// Open acquires the device at the given index and opens a capture stream.
// The portaudio library is initialized here and released again by Stop, so
// no global audio state outlives the Source.
func Open(deviceIndex int, config Config) (*Source, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("query devices: %w", err)
	}
	if deviceIndex < 0 || deviceIndex >= len(devices) {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: no device at index %d (%d devices present)",
			ErrDeviceUnavailable, deviceIndex, len(devices))
	}
	info := devices[deviceIndex]
	if info.MaxInputChannels < config.Channels {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: device %q has %d input channels, need %d",
			ErrDeviceUnavailable, info.Name, info.MaxInputChannels, config.Channels)
	}

	s := &Source{
		config: config,
		device: deviceFromInfo(deviceIndex, info),
		buf:    make([]int16, config.samplesPerFrame()*config.Channels),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: config.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.samplesPerFrame(),
	}

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on %q at %d Hz: %v",
			ErrDeviceUnavailable, info.Name, config.SampleRate, err)
	}
	s.stream = stream

	log.Debug("audio: device opened", "index", deviceIndex, "name", info.Name,
		"rate", config.SampleRate)
	return s, nil
}

// Device returns the descriptor of the device this source captures from.
func (s *Source) Device() Device {
	return s.device
}

func (s *Source) IsCapturing() bool {
	return s.capturing.Load()
}

// ResetSequence restarts frame numbering. Called by the pipeline when a
// replacement transcription session is opened.
func (s *Source) ResetSequence() {
	s.seq.Store(0)
}

// Start begins pulling frames from the device. The frame channel is closed
// when the source is stopped or the device signals end-of-stream; read
// failures other than disconnect are reported on the error channel. When the
// frame channel is full the capture loop blocks rather than dropping frames.
func (s *Source) Start(ctx context.Context) (<-chan Frame, <-chan error, error) {
	if s.capturing.Load() {
		return nil, nil, fmt.Errorf("already capturing")
	}

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil, nil, fmt.Errorf("source is closed")
	}

	if err := stream.Start(); err != nil {
		return nil, nil, fmt.Errorf("start stream: %w", err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	frameCh := make(chan Frame, s.config.ChannelBufferSize)
	errCh := make(chan error, 1)

	s.capturing.Store(true)
	s.wg.Add(1)
	go s.captureLoop(captureCtx, stream, frameCh, errCh)

	log.Debug("audio: capture started", "frame", s.config.FrameDuration)
	return frameCh, errCh, nil
}

// Stop ends capture and releases the device. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	_ = stream.Abort()
	if err := stream.Close(); err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("close stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("terminate portaudio: %w", err)
	}

	log.Debug("audio: device released", "name", s.device.Name)
	return nil
}

func (s *Source) captureLoop(ctx context.Context, stream *portaudio.Stream, frameCh chan<- Frame, errCh chan<- error) {
	defer func() {
		close(frameCh)
		close(errCh)
		s.capturing.Store(false)
		s.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				log.Debug("audio: input overflowed")
			} else {
				if ctx.Err() != nil {
					return
				}
				// Device disconnects surface as read errors; treat them as
				// end-of-stream so the pipeline shuts down in order.
				log.Warn("audio: capture ended", "err", err)
				return
			}
		}

		frame := Frame{
			Data: encodePCM(s.buf),
			Seq:  s.seq.Add(1) - 1,
			Time: time.Now(),
		}

		select {
		case frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// encodePCM converts samples to 16-bit little-endian bytes.
func encodePCM(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, v := range samples {
		data[2*i] = byte(v)
		data[2*i+1] = byte(v >> 8)
	}
	return data
}

func validateConfig(config Config) error {
	if config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", config.SampleRate)
	}
	if config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", config.Channels)
	}
	if config.FrameDuration <= 0 {
		return fmt.Errorf("invalid FrameDuration: %v", config.FrameDuration)
	}
	if config.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid ChannelBufferSize: %d", config.ChannelBufferSize)
	}
	return nil
}
