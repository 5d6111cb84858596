package transcription

// Event is a transcript event after remapping from a provider payload.
// A partial event supersedes the previous partial for the same utterance;
// a final event terminates the utterance and carries a confidence score.
type Event struct {
	Text       string
	Final      bool
	Confidence float64
}

// Result is a single item produced by a streaming adapter: either an event
// or an error. Errors carry the taxonomy types from errors.go.
type Result struct {
	Text       string
	Final      bool
	Confidence float64
	Err        error
}

func (r Result) event() Event {
	return Event{Text: r.Text, Final: r.Final, Confidence: r.Confidence}
}
