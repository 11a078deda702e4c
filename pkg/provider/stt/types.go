package stt

import (
	"strings"
	"time"
)

// Segment is one span of text the model produced within a single utterance,
// with its own confidence scores. Times are relative to the start of the
// audio passed to Transcribe.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string

	// AvgLogProb is the mean log-probability of the segment's tokens.
	// Values close to 0 indicate high confidence.
	AvgLogProb float64

	// NoSpeechProb is the model's estimate that the span contains no speech.
	// Backends that cannot estimate it report 0.
	NoSpeechProb float64
}

// Transcription is the raw output of one Transcribe call.
type Transcription struct {
	Segments []Segment

	// Language is the language used for decoding, detected or forced.
	Language string

	// LanguageProbability is the detector's confidence in Language.
	LanguageProbability float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Text joins all segment texts with single spaces, without filtering.
func (t *Transcription) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}
