package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramAdapter implements StreamingAdapter on the Deepgram real-time
// WebSocket API.
type DeepgramAdapter struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	baseURL    string

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool

	resultsCh chan Result
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Deepgram WebSocket response types (incoming)
type deepgramWSResponse struct {
	Type        string            `json:"type"`
	Channel     *deepgramChannel  `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
	Error       *deepgramError    `json:"error,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
	ModelInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"model_info"`
}

type deepgramError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func NewDeepgramAdapter(config Config) *DeepgramAdapter {
	return &DeepgramAdapter{
		apiKey:     config.APIKey,
		model:      config.Model,
		language:   config.Language,
		sampleRate: config.SampleRate,
		baseURL:    deepgramListenURL,
		resultsCh:  make(chan Result, 100),
	}
}

// Start opens the WebSocket connection to Deepgram.
func (a *DeepgramAdapter) Start(ctx context.Context, language string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}
	if language != "" {
		a.language = language
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	wsURL, err := a.buildURL()
	if err != nil {
		a.cancel()
		return fmt.Errorf("build websocket url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+a.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(a.ctx, wsURL, headers)
	if err != nil {
		a.cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &AuthError{Err: fmt.Errorf("deepgram rejected credentials (status %d)", resp.StatusCode)}
		}
		return &TransientError{Err: fmt.Errorf("websocket dial: %w", err)}
	}
	a.conn = conn
	a.started = true

	a.wg.Add(1)
	go a.readLoop(conn)

	log.Debug("deepgram: connected", "model", a.model, "language", a.language)
	return nil
}

func (a *DeepgramAdapter) buildURL() (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", a.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(a.sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if a.language != "" {
		q.Set("language", normalizeDeepgramLanguage(a.language))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *DeepgramAdapter) readLoop(conn *websocket.Conn) {
	defer a.wg.Done()
	defer close(a.resultsCh)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.resultsCh <- Result{Err: &TransientError{Err: ErrStreamClosed}}
			} else {
				a.resultsCh <- Result{Err: &TransientError{Err: fmt.Errorf("websocket read: %w", err)}}
			}
			return
		}

		var resp deepgramWSResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			log.Debug("deepgram: parse error", "err", err)
			continue
		}

		switch resp.Type {
		case "Metadata":
			if resp.Metadata != nil {
				log.Debug("deepgram: session started",
					"request_id", resp.Metadata.RequestID, "model", resp.Metadata.ModelInfo.Name)
			}

		case "Results":
			if resp.Channel == nil || len(resp.Channel.Alternatives) == 0 {
				continue
			}
			alt := resp.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			a.resultsCh <- Result{
				Text:       alt.Transcript,
				Final:      resp.IsFinal || resp.SpeechFinal,
				Confidence: alt.Confidence,
			}

		case "Error":
			if resp.Error != nil {
				errMsg := resp.Error.Message
				if resp.Error.Description != "" {
					errMsg = fmt.Sprintf("%s: %s", errMsg, resp.Error.Description)
				}
				a.resultsCh <- Result{Err: &TransientError{Err: fmt.Errorf("deepgram: %s", errMsg)}}
			}

		case "UtteranceEnd", "SpeechStarted":
			// informational only; utterance boundaries arrive on Results

		default:
			log.Debug("deepgram: unknown message type", "type", resp.Type)
		}
	}
}

// Send forwards raw binary audio to the WebSocket. No reconnection here:
// a write failure is classified and returned for the pipeline to act on.
func (a *DeepgramAdapter) Send(audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.conn == nil {
		return fmt.Errorf("adapter not started")
	}
	if a.ctx.Err() != nil {
		return a.ctx.Err()
	}

	if err := a.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return &TransientError{Err: fmt.Errorf("websocket write: %w", err)}
	}
	return nil
}

func (a *DeepgramAdapter) Results() <-chan Result {
	return a.resultsCh
}

// Close gracefully closes the WebSocket connection.
func (a *DeepgramAdapter) Close() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	conn := a.conn
	a.conn = nil

	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	// close websocket outside of lock (readLoop may be blocked on read)
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	a.wg.Wait()
	log.Debug("deepgram: closed")
	return nil
}
