// Package config provides the configuration schema, loader, and provider registry
// for the kaudio streaming transcription server.
package config

import "time"

// LogLevel controls log verbosity for the kaudio server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageDriver selects the transcript log backend.
type StorageDriver string

const (
	// StorageNone disables transcript persistence.
	StorageNone     StorageDriver = ""
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a recognised storage driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageNone, StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for kaudio.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	STT       STTConfig       `yaml:"stt"`
	Streaming StreamingConfig `yaml:"streaming"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the kaudio server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ReadHeaderTimeout bounds how long the server waits for request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper-native", "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For whisper-native this is
	// the path to the ggml model file.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// STTConfig configures the transcription model and its worker pool.
type STTConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the default language hint ("" or "auto" for detection).
	// whisper-native reports a language probability of 0 for detected
	// languages.
	Language string `yaml:"language"`

	// Threads is the number of inference threads per call (native model only).
	Threads int `yaml:"threads"`

	// Workers bounds how many segments are transcribed concurrently across
	// all connections.
	Workers int `yaml:"workers"`

	// Fallback lists secondary models tried in order when the primary fails.
	Fallback []ProviderEntry `yaml:"fallback"`
}

// StreamingConfig tunes segmentation and confidence filtering.
type StreamingConfig struct {
	// FrameMs is the VAD frame duration in milliseconds. Only 30 is
	// accepted; it must match the 960-byte frames clients send.
	FrameMs int `yaml:"frame_ms"`

	// SampleRate of inbound PCM16 mono audio. Only 16000 is accepted.
	SampleRate int `yaml:"sample_rate"`

	// SilenceMs of trailing non-speech that finalizes a segment.
	SilenceMs int `yaml:"silence_ms"`

	// VADThreshold is the speech probability at or above which a frame counts
	// as speech.
	VADThreshold float64 `yaml:"vad_threshold"`

	// NoSpeechThreshold drops sub-segments whose no-speech probability is
	// strictly above it. Only whisper-server reports that probability; with
	// whisper-native it is always 0 and this rule never fires.
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`

	// LogProbThreshold drops sub-segments whose average log-probability is
	// strictly below it.
	LogProbThreshold float64 `yaml:"logprob_threshold"`

	// HallucinationPhrases are matched case-insensitively and only warned about.
	HallucinationPhrases []string `yaml:"hallucination_phrases"`

	// MaxTranslationsPerSession caps in-flight translations per connection.
	// Zero means unbounded.
	MaxTranslationsPerSession *int `yaml:"max_translations_per_session"`
}

// SilenceFrames returns how many consecutive non-speech frames finalize a
// segment.
func (s StreamingConfig) SilenceFrames() int {
	if s.FrameMs <= 0 {
		return 0
	}
	return s.SilenceMs / s.FrameMs
}

// TranslationLimit returns the effective per-session translation bound.
func (s StreamingConfig) TranslationLimit() int {
	if s.MaxTranslationsPerSession == nil {
		return DefaultMaxTranslations
	}
	return *s.MaxTranslationsPerSession
}

// Warnings lists settings that load fine but will not behave as their
// names suggest.
func (c *Config) Warnings() []string {
	var out []string
	// The whisper.cpp Go bindings expose neither no_speech_prob nor the
	// detected language's probability.
	if c.STT.Name == "whisper-native" && c.Streaming.NoSpeechThreshold < 1 {
		out = append(out, "streaming.no_speech_threshold has no effect with stt whisper-native, "+
			"which reports no no-speech probability; use whisper-server to filter on it")
	}
	return out
}

// LLMConfig selects the chat/summarization/translation backend.
type LLMConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallback lists secondary LLM backends tried in order.
	Fallback []ProviderEntry `yaml:"fallback"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`
}

// TTSConfig points at the upstream speech synthesis service.
type TTSConfig struct {
	// BaseURL of the OpenAI-compatible TTS server (e.g., a Kokoro instance).
	BaseURL string `yaml:"base_url"`

	// Timeout bounds the connection and header phase of a speech request.
	Timeout time.Duration `yaml:"timeout"`

	// VoicesTimeout bounds the voices listing call.
	VoicesTimeout time.Duration `yaml:"voices_timeout"`
}

// StorageConfig configures the transcript log.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`

	// DSN is a postgres connection string or a sqlite file path.
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`
}
