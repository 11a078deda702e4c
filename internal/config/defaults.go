package config

import (
	"os"
	"time"
)

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8000"
	DefaultFrameMs           = 30
	DefaultSampleRate        = 16000
	DefaultSilenceMs         = 500
	DefaultVADThreshold      = 0.5
	DefaultNoSpeechThreshold = 0.85
	DefaultLogProbThreshold  = -1.2
	DefaultMaxTranslations   = 4
	DefaultSTTProvider       = "whisper-native"
	DefaultTTSBaseURL        = "http://localhost:8880"
	DefaultTTSTimeout        = 60 * time.Second
	DefaultVoicesTimeout     = 10 * time.Second
	DefaultLLMTimeout        = 120 * time.Second
	DefaultServiceName       = "kaudio"
	DefaultMetricsPath       = "/metrics"
)

// DefaultHallucinationPhrases are stock filler strings whisper tends to emit
// on silence or noise.
var DefaultHallucinationPhrases = []string{
	"Thank you for watching",
	"Thanks for watching",
	"Transcribed by",
	"Please subscribe",
	"...",
}

// Environment variables that override secrets from the YAML file.
const (
	EnvLLMAPIKey  = "KAUDIO_LLM_API_KEY"
	EnvStorageDSN = "KAUDIO_STORAGE_DSN"
	EnvTTSBaseURL = "KAUDIO_TTS_BASE_URL"
)

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}

	if c.STT.Name == "" {
		c.STT.Name = DefaultSTTProvider
	}
	if c.STT.Workers <= 0 {
		c.STT.Workers = 2
	}
	if c.STT.Threads <= 0 {
		c.STT.Threads = 4
	}

	s := &c.Streaming
	if s.FrameMs == 0 {
		s.FrameMs = DefaultFrameMs
	}
	if s.SampleRate == 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.SilenceMs == 0 {
		s.SilenceMs = DefaultSilenceMs
	}
	if s.VADThreshold == 0 {
		s.VADThreshold = DefaultVADThreshold
	}
	if s.NoSpeechThreshold == 0 {
		s.NoSpeechThreshold = DefaultNoSpeechThreshold
	}
	if s.LogProbThreshold == 0 {
		s.LogProbThreshold = DefaultLogProbThreshold
	}
	if s.HallucinationPhrases == nil {
		s.HallucinationPhrases = append([]string(nil), DefaultHallucinationPhrases...)
	}
	if s.MaxTranslationsPerSession == nil {
		n := DefaultMaxTranslations
		s.MaxTranslationsPerSession = &n
	}

	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}

	if c.TTS.BaseURL == "" {
		c.TTS.BaseURL = DefaultTTSBaseURL
	}
	if c.TTS.Timeout == 0 {
		c.TTS.Timeout = DefaultTTSTimeout
	}
	if c.TTS.VoicesTimeout == 0 {
		c.TTS.VoicesTimeout = DefaultVoicesTimeout
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// ApplyEnv overrides secrets from the process environment. Unset variables
// leave the file values untouched.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvTTSBaseURL); v != "" {
		c.TTS.BaseURL = v
	}
}
