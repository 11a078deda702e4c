// Package protocol defines the JSON control messages exchanged over the
// streaming connection and routed inside the client.
//
// [Message] is a closed sum type: every variant is a struct in this package
// and the wire "type" discriminator is derived from the Go type, never stored
// in a field. Serialization happens at the boundary only, through [Encode]
// and [Decode].
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire discriminator of a control message.
type Type string

const (
	TypeInfo                    Type = "info"
	TypeFinal                   Type = "final"
	TypeError                   Type = "error"
	TypeTranslation             Type = "translation"
	TypeLLMResponse             Type = "llm_response"
	TypeTTSStatus               Type = "tts_status_update"
	TypeFileTranscriptionResult Type = "file_transcription_result"
	TypeFileTranscriptionError  Type = "file_transcription_error"
	TypeSummaryResult           Type = "summary_result"
)

// ErrUnsupportedType is returned by Decode for an unknown discriminator.
var ErrUnsupportedType = errors.New("protocol: unsupported message type")

// Message is implemented only by the variants declared in this package.
type Message interface {
	MessageType() Type
	sealed()
}

// Info is a human-readable status notice.
type Info struct {
	Message string `json:"message"`
}

// ConfidenceInfo reports how the filter treated the sub-segments of one
// utterance and which thresholds were in force.
type ConfidenceInfo struct {
	TotalSegmentsProcessed       int     `json:"total_segments_processed"`
	NoSpeechSegmentsSkipped      int     `json:"no_speech_segments_skipped"`
	LowConfidenceSegmentsSkipped int     `json:"low_confidence_segments_skipped"`
	HallucinationWarnings        int     `json:"hallucination_warnings"`
	AvgLogProbThreshold          float64 `json:"avg_logprob_threshold"`
	NoSpeechProbThreshold        float64 `json:"no_speech_prob_threshold"`
}

// Final carries the filtered transcription of one finalized utterance.
// Start and End are seconds from the beginning of the stream.
type Final struct {
	Text                string         `json:"text"`
	Start               float64        `json:"start"`
	End                 float64        `json:"end"`
	Language            string         `json:"language"`
	LanguageProbability float64        `json:"language_probability"`
	ConfidenceInfo      ConfidenceInfo `json:"confidence_info"`
}

// Error reports a non-fatal fault; the session keeps running.
type Error struct {
	Message string `json:"message"`
}

// Translation is emitted after the Final it translates, in no fixed order
// relative to later Finals.
type Translation struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
}

// LLMResponse is the assistant reply in conversation mode. An empty Text means
// there is nothing to synthesize.
type LLMResponse struct {
	Text string `json:"text"`
}

// TTSStatus tracks speech playback. Done is set exactly once per request.
type TTSStatus struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// FileTranscriptionResult is the outcome of a one-shot upload.
type FileTranscriptionResult struct {
	Text     string `json:"text"`
	FilePath string `json:"file_path"`
}

// FileTranscriptionError reports a failed one-shot upload.
type FileTranscriptionError struct {
	Error    string `json:"error"`
	FilePath string `json:"file_path"`
}

// SummaryResult carries a transcript summary.
type SummaryResult struct {
	Summary string `json:"summary"`
}

func (Info) MessageType() Type                    { return TypeInfo }
func (Final) MessageType() Type                   { return TypeFinal }
func (Error) MessageType() Type                   { return TypeError }
func (Translation) MessageType() Type             { return TypeTranslation }
func (LLMResponse) MessageType() Type             { return TypeLLMResponse }
func (TTSStatus) MessageType() Type               { return TypeTTSStatus }
func (FileTranscriptionResult) MessageType() Type { return TypeFileTranscriptionResult }
func (FileTranscriptionError) MessageType() Type  { return TypeFileTranscriptionError }
func (SummaryResult) MessageType() Type           { return TypeSummaryResult }

func (Info) sealed()                    {}
func (Final) sealed()                   {}
func (Error) sealed()                   {}
func (Translation) sealed()             {}
func (LLMResponse) sealed()             {}
func (TTSStatus) sealed()               {}
func (FileTranscriptionResult) sealed() {}
func (FileTranscriptionError) sealed()  {}
func (SummaryResult) sealed()           {}

type envelope struct {
	Type Type `json:"type"`
}

// Encode serializes m as a JSON object whose first member is "type".
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: encode nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	head, err := json.Marshal(envelope{Type: m.MessageType()})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}

	// head is {"type":"..."}; splice the variant's members after it.
	var buf bytes.Buffer
	buf.Grow(len(head) + len(body))
	buf.Write(head[:len(head)-1])
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses a JSON control message into its variant.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInfo:
		return decodeAs[Info](raw)
	case TypeFinal:
		return decodeAs[Final](raw)
	case TypeError:
		return decodeAs[Error](raw)
	case TypeTranslation:
		return decodeAs[Translation](raw)
	case TypeLLMResponse:
		return decodeAs[LLMResponse](raw)
	case TypeTTSStatus:
		return decodeAs[TTSStatus](raw)
	case TypeFileTranscriptionResult:
		return decodeAs[FileTranscriptionResult](raw)
	case TypeFileTranscriptionError:
		return decodeAs[FileTranscriptionError](raw)
	case TypeSummaryResult:
		return decodeAs[SummaryResult](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

func decodeAs[T Message](raw []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", msg.MessageType(), err)
	}
	return msg, nil
}
