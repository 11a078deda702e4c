package vad

// Classification is the per-frame VAD decision.
type Classification int

const (
	// NonSpeech marks silence, noise, or a frame that could not be classified.
	NonSpeech Classification = iota

	// Speech marks a frame containing voice activity.
	Speech
)

// String returns the human-readable name of the classification.
func (c Classification) String() string {
	switch c {
	case Speech:
		return "speech"
	case NonSpeech:
		return "nonspeech"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying one frame.
type Result struct {
	Class Classification

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// IsSpeech reports whether the frame was classified as speech.
func (r Result) IsSpeech() bool { return r.Class == Speech }
