package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDeepgramAdapter_ImplementsStreamingAdapter(t *testing.T) {
	var _ StreamingAdapter = (*DeepgramAdapter)(nil)
}

func testDeepgramConfig() Config {
	return Config{
		Provider:   "deepgram",
		Language:   "en",
		Model:      "nova-3",
		APIKey:     "test-api-key",
		SampleRate: 16000,
	}
}

func TestDeepgramAdapter_BuildURL(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		language string
		wantURL  []string // URL must contain all these substrings
	}{
		{
			name:     "english",
			model:    "nova-3",
			language: "en",
			wantURL:  []string{"model=nova-3", "language=en-US", "encoding=linear16", "sample_rate=16000"},
		},
		{
			name:     "spanish",
			model:    "nova-2",
			language: "es",
			wantURL:  []string{"model=nova-2", "language=es", "encoding=linear16"},
		},
		{
			name:     "auto-detect",
			model:    "nova-3",
			language: "",
			wantURL:  []string{"model=nova-3", "encoding=linear16", "interim_results=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDeepgramConfig()
			cfg.Model = tt.model
			cfg.Language = tt.language
			adapter := NewDeepgramAdapter(cfg)

			url, err := adapter.buildURL()
			if err != nil {
				t.Fatalf("buildURL() error = %v", err)
			}

			for _, want := range tt.wantURL {
				if !strings.Contains(url, want) {
					t.Errorf("buildURL() = %q, want to contain %q", url, want)
				}
			}
		})
	}
}

func TestDeepgramAdapter_SendNotStarted(t *testing.T) {
	adapter := NewDeepgramAdapter(testDeepgramConfig())

	err := adapter.Send([]byte("audio data"))
	if err == nil {
		t.Error("Send() should return error when adapter not started")
	}
	if !strings.Contains(err.Error(), "not started") {
		t.Errorf("error should mention 'not started', got: %v", err)
	}
}

func TestDeepgramAdapter_CloseNotStarted(t *testing.T) {
	adapter := NewDeepgramAdapter(testDeepgramConfig())

	// closing not-started adapter should not error
	if err := adapter.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

// mockDeepgramServer creates a mock WebSocket server for testing
func mockDeepgramServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// verify auth header
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Token ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDeepgramAdapter_StartAndClose(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		metadata := deepgramWSResponse{
			Type:     "Metadata",
			Metadata: &deepgramMetadata{RequestID: "test-123"},
		}
		if err := conn.WriteJSON(metadata); err != nil {
			t.Logf("write metadata error: %v", err)
			return
		}

		// wait for close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	ctx := context.Background()
	if err := adapter.Start(ctx, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// verify can't start twice
	if err := adapter.Start(ctx, ""); err == nil {
		t.Error("Start() should return error when already started")
	}

	if err := adapter.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDeepgramAdapter_ReceivesResults(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		metadata := deepgramWSResponse{Type: "Metadata", Metadata: &deepgramMetadata{RequestID: "test-123"}}
		_ = conn.WriteJSON(metadata)

		interim := deepgramWSResponse{
			Type:    "Results",
			IsFinal: false,
			Channel: &deepgramChannel{
				Alternatives: []deepgramAlternative{{Transcript: "hello", Confidence: 0.95}},
			},
		}
		_ = conn.WriteJSON(interim)

		final := deepgramWSResponse{
			Type:    "Results",
			IsFinal: true,
			Channel: &deepgramChannel{
				Alternatives: []deepgramAlternative{{Transcript: "hello world", Confidence: 0.98}},
			},
		}
		_ = conn.WriteJSON(final)

		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	if err := adapter.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var results []Result
	timeout := time.After(2 * time.Second)

loop:
	for {
		select {
		case result, ok := <-adapter.Results():
			if !ok {
				break loop
			}
			results = append(results, result)
			if result.Final {
				break loop
			}
		case <-timeout:
			t.Fatal("timeout waiting for results")
		}
	}

	adapter.Close()

	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	if results[0].Text != "hello" || results[0].Final {
		t.Errorf("interim result = %+v, want Text='hello', Final=false", results[0])
	}

	found := false
	for _, r := range results {
		if r.Text == "hello world" && r.Final {
			found = true
			break
		}
	}
	if !found {
		t.Error("did not find expected final result 'hello world'")
	}
}

func TestDeepgramAdapter_SendsRawBinaryAudio(t *testing.T) {
	receivedAudio := make(chan []byte, 1)

	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		metadata := deepgramWSResponse{Type: "Metadata", Metadata: &deepgramMetadata{RequestID: "test-123"}}
		_ = conn.WriteJSON(metadata)

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("expected binary message, got %d", msgType)
		}
		receivedAudio <- data

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	if err := adapter.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	testAudio := []byte{0x01, 0x02, 0x03, 0x04}
	if err := adapter.Send(testAudio); err != nil {
		t.Errorf("Send() error = %v", err)
	}

	select {
	case audio := <-receivedAudio:
		if string(audio) != string(testAudio) {
			t.Errorf("received audio = %v, want %v", audio, testAudio)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for audio")
	}

	adapter.Close()
}

func TestDeepgramAdapter_RemoteErrorIsTransient(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		errResp := deepgramWSResponse{
			Type: "Error",
			Error: &deepgramError{
				Type:    "StreamError",
				Message: "stream interrupted",
			},
		}
		_ = conn.WriteJSON(errResp)
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	if err := adapter.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case result := <-adapter.Results():
		if result.Err == nil {
			t.Fatal("expected error result")
		}
		if !IsTransient(result.Err) {
			t.Errorf("error = %v, want transient", result.Err)
		}
		if !strings.Contains(result.Err.Error(), "stream interrupted") {
			t.Errorf("error = %v, want to contain 'stream interrupted'", result.Err)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for error")
	}

	adapter.Close()
}

func TestDeepgramAdapter_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	err := adapter.Start(context.Background(), "")
	if err == nil {
		t.Fatal("Start() should fail against a 401 response")
	}
	if !IsAuthError(err) {
		t.Errorf("error = %v, want auth error", err)
	}
}

func TestDeepgramAdapter_RemoteCloseIsStreamClosed(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		metadata := deepgramWSResponse{Type: "Metadata", Metadata: &deepgramMetadata{RequestID: "test-123"}}
		_ = conn.WriteJSON(metadata)

		// normal close from the server side
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	defer server.Close()

	adapter := NewDeepgramAdapter(testDeepgramConfig())
	adapter.baseURL = wsURL(server)

	if err := adapter.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case result := <-adapter.Results():
		if result.Err == nil {
			t.Fatal("expected stream-closed result")
		}
		if !IsTransient(result.Err) {
			t.Errorf("error = %v, want transient", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for stream-closed result")
	}

	adapter.Close()
}
