package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper-native", "whisper-server"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// A .env file in the same directory is loaded into the process environment
// first so secrets can stay out of the YAML file.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %q: %w", envPath, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// STT
	validateProviderName("stt", cfg.STT.Name)
	switch cfg.STT.Name {
	case "whisper-native":
		if cfg.STT.Model == "" {
			slog.Warn("stt.model is empty; the transcription model will not be loaded and streaming is unavailable")
		}
	case "whisper-server":
		if cfg.STT.BaseURL == "" {
			errs = append(errs, errors.New("stt.base_url is required when stt.name is whisper-server"))
		}
	}
	for i, fb := range cfg.STT.Fallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("stt.fallback[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.STT.Workers < 0 {
		errs = append(errs, fmt.Errorf("stt.workers %d must not be negative", cfg.STT.Workers))
	}

	// Streaming
	s := cfg.Streaming
	// The wire protocol fixes frames at 30 ms of 16 kHz PCM16 (960 bytes);
	// the segmenter and VAD cannot follow other geometries.
	if s.FrameMs != DefaultFrameMs {
		errs = append(errs, fmt.Errorf("streaming.frame_ms %d is not supported, frames are fixed at %d ms", s.FrameMs, DefaultFrameMs))
	}
	if s.SampleRate != DefaultSampleRate {
		errs = append(errs, fmt.Errorf("streaming.sample_rate %d is not supported, audio is fixed at %d Hz", s.SampleRate, DefaultSampleRate))
	}
	if s.FrameMs > 0 && s.SilenceMs < s.FrameMs {
		errs = append(errs, fmt.Errorf("streaming.silence_ms %d must be at least one frame (%d ms)", s.SilenceMs, s.FrameMs))
	}
	if s.VADThreshold <= 0 || s.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("streaming.vad_threshold %.2f is out of range (0, 1]", s.VADThreshold))
	}
	if s.NoSpeechThreshold < 0 || s.NoSpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("streaming.no_speech_threshold %.2f is out of range [0, 1]", s.NoSpeechThreshold))
	}
	if s.LogProbThreshold > 0 {
		errs = append(errs, fmt.Errorf("streaming.logprob_threshold %.2f must not be positive", s.LogProbThreshold))
	}
	if s.MaxTranslationsPerSession != nil && *s.MaxTranslationsPerSession < 0 {
		errs = append(errs, fmt.Errorf("streaming.max_translations_per_session %d must not be negative", *s.MaxTranslationsPerSession))
	}

	// LLM
	validateProviderName("llm", cfg.LLM.Name)
	for i, fb := range cfg.LLM.Fallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("llm.fallback[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.LLM.Name == "" {
		slog.Warn("llm.name is empty; summarization, chat, and translation are unavailable")
	}

	// Storage
	if !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	}
	if (cfg.Storage.Driver == StorageSQLite || cfg.Storage.Driver == StoragePostgres) && cfg.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
