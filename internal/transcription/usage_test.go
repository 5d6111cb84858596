package transcription

import (
	"math"
	"testing"
)

func TestUsageTracker_AddFrame(t *testing.T) {
	tracker := NewUsageTracker(16000)

	// one 100ms frame of 16-bit mono at 16kHz = 1600 samples = 3200 bytes
	for i := 0; i < 10; i++ {
		tracker.AddFrame(3200)
	}

	u := tracker.Snapshot()
	if u.FramesProcessed != 10 {
		t.Errorf("FramesProcessed = %d, want 10", u.FramesProcessed)
	}
	if math.Abs(u.AudioSeconds-1.0) > 1e-9 {
		t.Errorf("AudioSeconds = %f, want 1.0", u.AudioSeconds)
	}
}

func TestUsageTracker_BillableChunks(t *testing.T) {
	tests := []struct {
		name       string
		seconds    float64
		wantChunks int
	}{
		{"no audio", 0, 0},
		{"one second", 1, 1},
		{"just under one chunk", 14.9, 1},
		{"exactly one chunk", 15, 1},
		{"just over one chunk", 15.1, 2},
		{"two chunks", 30, 2},
		{"three chunks", 31, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewUsageTracker(16000)
			// 2 bytes per sample at 16kHz: seconds * 32000 bytes
			tracker.AddFrame(int(tt.seconds * 32000))

			u := tracker.Snapshot()
			if u.BillableChunks != tt.wantChunks {
				t.Errorf("BillableChunks = %d, want %d (%.1fs of audio)",
					u.BillableChunks, tt.wantChunks, tt.seconds)
			}

			wantCost := float64(tt.wantChunks) * 0.006
			if math.Abs(u.EstimatedCostUSD-wantCost) > 1e-9 {
				t.Errorf("EstimatedCostUSD = %f, want %f", u.EstimatedCostUSD, wantCost)
			}
		})
	}
}

func TestUsageTracker_ObserveTranscript(t *testing.T) {
	tracker := NewUsageTracker(16000)

	// growing hypotheses for one utterance, then the final
	tracker.ObserveTranscript("hello", false)
	tracker.ObserveTranscript("hello wor", false)
	tracker.ObserveTranscript("hello world", true)

	u := tracker.Snapshot()
	if u.FinalCount != 1 {
		t.Errorf("FinalCount = %d, want 1", u.FinalCount)
	}
	if u.TotalCharacters != len("hello world") {
		t.Errorf("TotalCharacters = %d, want %d", u.TotalCharacters, len("hello world"))
	}
}

func TestUsageTracker_ConcurrentAccess(t *testing.T) {
	tracker := NewUsageTracker(16000)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			tracker.AddFrame(3200)
			tracker.ObserveTranscript("text", i%10 == 0)
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 100; i++ {
			tracker.Snapshot()
		}
		done <- true
	}()

	<-done
	<-done

	u := tracker.Snapshot()
	if u.FramesProcessed != 100 {
		t.Errorf("FramesProcessed = %d, want 100", u.FramesProcessed)
	}
}
