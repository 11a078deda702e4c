package transcribe

import (
	"strings"
	"time"

	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// Default filter thresholds.
const (
	DefaultNoSpeechThreshold = 0.85
	DefaultLogProbThreshold  = -1.2
)

// FilterConfig holds the thresholds applied to every sub-segment.
type FilterConfig struct {
	// NoSpeechThreshold drops a sub-segment whose no-speech probability is
	// strictly greater.
	NoSpeechThreshold float64

	// LogProbThreshold drops a sub-segment whose average log-probability is
	// strictly lower.
	LogProbThreshold float64

	// HallucinationPhrases are matched case-insensitively against kept text.
	// A match is counted, never dropped.
	HallucinationPhrases []string
}

// DefaultFilterConfig returns the stock thresholds with no denylist.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		NoSpeechThreshold: DefaultNoSpeechThreshold,
		LogProbThreshold:  DefaultLogProbThreshold,
	}
}

// Stats records how the filter treated one utterance.
type Stats struct {
	Total                 int
	NoSpeechSkipped       int
	LowConfidenceSkipped  int
	HallucinationWarnings int

	NoSpeechThreshold float64
	LogProbThreshold  float64
}

// Result is the filtered transcription of one utterance. Start and End are
// offsets from the beginning of the stream.
type Result struct {
	Text                string
	Start               time.Duration
	End                 time.Duration
	Language            string
	LanguageProbability float64
	Stats               Stats
}

// Final converts r to its wire message.
func (r Result) Final() protocol.Final {
	return protocol.Final{
		Text:                r.Text,
		Start:               r.Start.Seconds(),
		End:                 r.End.Seconds(),
		Language:            r.Language,
		LanguageProbability: r.LanguageProbability,
		ConfidenceInfo: protocol.ConfidenceInfo{
			TotalSegmentsProcessed:       r.Stats.Total,
			NoSpeechSegmentsSkipped:      r.Stats.NoSpeechSkipped,
			LowConfidenceSegmentsSkipped: r.Stats.LowConfidenceSkipped,
			HallucinationWarnings:        r.Stats.HallucinationWarnings,
			AvgLogProbThreshold:          r.Stats.LogProbThreshold,
			NoSpeechProbThreshold:        r.Stats.NoSpeechThreshold,
		},
	}
}

// Filter applies cfg to the raw sub-segments of tr, whose times are relative
// to segStart. It is a pure function of its inputs.
//
// ok is false when no sub-segment survived with non-empty text; the returned
// Result then carries only Stats and Start.
func Filter(cfg FilterConfig, segStart time.Duration, tr *stt.Transcription) (res Result, ok bool) {
	res.Start = segStart
	res.End = segStart
	res.Stats.NoSpeechThreshold = cfg.NoSpeechThreshold
	res.Stats.LogProbThreshold = cfg.LogProbThreshold
	if tr == nil {
		return res, false
	}
	res.Language = tr.Language
	res.LanguageProbability = tr.LanguageProbability

	var parts []string
	for _, sub := range tr.Segments {
		res.Stats.Total++

		if sub.NoSpeechProb > cfg.NoSpeechThreshold {
			res.Stats.NoSpeechSkipped++
			continue
		}
		if sub.AvgLogProb < cfg.LogProbThreshold {
			res.Stats.LowConfidenceSkipped++
			continue
		}

		text := strings.TrimSpace(sub.Text)
		res.Stats.HallucinationWarnings += countPhrases(text, cfg.HallucinationPhrases)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		res.End = segStart + sub.End
	}

	if len(parts) == 0 {
		return res, false
	}
	res.Text = strings.Join(parts, " ")
	return res, true
}

// countPhrases returns how many distinct phrases occur in text, ignoring case.
func countPhrases(text string, phrases []string) int {
	if text == "" || len(phrases) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	n := 0
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			n++
		}
	}
	return n
}
