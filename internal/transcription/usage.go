package transcription

import (
	"sync"
	"time"
)

// Cloud Speech-to-Text standard model pricing: $0.006 per started
// 15-second chunk of streamed audio.
const (
	pricePer15Seconds = 0.006
	billingChunk      = 15.0
)

// Usage is an immutable snapshot of session statistics.
type Usage struct {
	AudioSeconds     float64
	FramesProcessed  int
	TotalCharacters  int
	FinalCount       int
	Elapsed          time.Duration
	BillableChunks   int
	EstimatedCostUSD float64
}

// UsageTracker accumulates streamed-audio statistics and derives an
// estimated cost. Safe for concurrent use; the session writes, the display
// reads.
type UsageTracker struct {
	mu         sync.Mutex
	sampleRate int

	audioSeconds    float64
	framesProcessed int
	totalCharacters int
	finalCount      int
	start           time.Time
}

func NewUsageTracker(sampleRate int) *UsageTracker {
	return &UsageTracker{
		sampleRate: sampleRate,
		start:      time.Now(),
	}
}

// AddFrame records one forwarded frame of 16-bit mono PCM.
func (t *UsageTracker) AddFrame(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.framesProcessed++
	t.audioSeconds += float64(bytes/2) / float64(t.sampleRate)
}

// ObserveTranscript records a received transcript. Character count tracks
// the longest hypothesis seen, matching what ends up injected.
func (t *UsageTracker) ObserveTranscript(text string, final bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(text) > t.totalCharacters {
		t.totalCharacters = len(text)
	}
	if final {
		t.finalCount++
	}
}

func (t *UsageTracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks := int((t.audioSeconds + billingChunk - 1) / billingChunk)
	return Usage{
		AudioSeconds:     t.audioSeconds,
		FramesProcessed:  t.framesProcessed,
		TotalCharacters:  t.totalCharacters,
		FinalCount:       t.finalCount,
		Elapsed:          time.Since(t.start),
		BillableChunks:   chunks,
		EstimatedCostUSD: float64(chunks) * pricePer15Seconds,
	}
}
