package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/charmbracelet/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleAdapter implements StreamingAdapter on the Cloud Speech-to-Text
// bidirectional gRPC stream.
type GoogleAdapter struct {
	sampleRate      int
	language        string
	credentialsFile string

	mu      sync.Mutex
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	started bool

	resultsCh chan Result
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewGoogleAdapter(config Config) *GoogleAdapter {
	return &GoogleAdapter{
		sampleRate:      config.SampleRate,
		language:        config.Language,
		credentialsFile: config.CredentialsFile,
		resultsCh:       make(chan Result, 100),
	}
}

// Start dials the Speech API and sends the stream configuration message.
// The first message on the stream must be the recognition config; audio
// content follows via Send.
func (a *GoogleAdapter) Start(ctx context.Context, language string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}
	if language != "" {
		a.language = language
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	var opts []option.ClientOption
	if a.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.credentialsFile))
	}

	client, err := speech.NewClient(a.ctx, opts...)
	if err != nil {
		a.cancel()
		return classifyGoogleErr(fmt.Errorf("create speech client: %w", err))
	}

	stream, err := client.StreamingRecognize(a.ctx)
	if err != nil {
		client.Close()
		a.cancel()
		return classifyGoogleErr(fmt.Errorf("open recognize stream: %w", err))
	}

	cfg := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(a.sampleRate),
					LanguageCode:               a.language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}
	if err := stream.Send(cfg); err != nil {
		client.Close()
		a.cancel()
		return classifyGoogleErr(fmt.Errorf("send stream config: %w", err))
	}

	a.client = client
	a.stream = stream
	a.started = true

	a.wg.Add(1)
	go a.readLoop(stream)

	log.Debug("google: stream opened", "language", a.language, "rate", a.sampleRate)
	return nil
}

// Send forwards one audio chunk. Errors are classified into the taxonomy
// and returned to the caller; the adapter does not reconnect.
func (a *GoogleAdapter) Send(audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	started := a.started
	a.mu.Unlock()

	if !started || stream == nil {
		return fmt.Errorf("adapter not started")
	}

	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		if a.ctx.Err() != nil {
			return a.ctx.Err()
		}
		return classifyGoogleErr(fmt.Errorf("send audio: %w", err))
	}
	return nil
}

func (a *GoogleAdapter) Results() <-chan Result {
	return a.resultsCh
}

func (a *GoogleAdapter) readLoop(stream speechpb.Speech_StreamingRecognizeClient) {
	defer a.wg.Done()
	defer close(a.resultsCh)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				a.resultsCh <- Result{Err: &TransientError{Err: ErrStreamClosed}}
				return
			}
			a.resultsCh <- Result{Err: classifyGoogleErr(fmt.Errorf("receive: %w", err))}
			return
		}

		if resp.Error != nil {
			err := status.ErrorProto(resp.Error)
			log.Debug("google: stream error response", "err", err)
			a.resultsCh <- Result{Err: classifyGoogleErr(err)}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			a.resultsCh <- Result{
				Text:       alt.Transcript,
				Final:      result.IsFinal,
				Confidence: float64(alt.Confidence),
			}
		}
	}
}

// Close half-closes the send side, cancels the receive loop and releases
// the client connection.
func (a *GoogleAdapter) Close() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	stream := a.stream
	client := a.client
	a.stream = nil
	a.client = nil
	a.mu.Unlock()

	if stream != nil {
		_ = stream.CloseSend()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var err error
	if client != nil {
		err = client.Close()
	}
	log.Debug("google: closed")
	return err
}

// classifyGoogleErr maps gRPC status codes onto the error taxonomy.
// Credential problems are terminal; everything else on an established
// stream is assumed to be a connection fault worth a reconnect.
func classifyGoogleErr(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &AuthError{Err: err}
	case codes.Canceled:
		return err
	default:
		return &TransientError{Err: err}
	}
}
