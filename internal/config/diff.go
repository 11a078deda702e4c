package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FilterChanged is true when confidence thresholds or the hallucination
	// phrase list changed.
	FilterChanged bool

	// RestartRequired lists top-level sections that changed but cannot be
	// applied to a running server.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	prev, next := old.Streaming, new.Streaming
	if prev.NoSpeechThreshold != next.NoSpeechThreshold ||
		prev.LogProbThreshold != next.LogProbThreshold ||
		!slices.Equal(prev.HallucinationPhrases, next.HallucinationPhrases) {
		d.FilterChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.STT.Name != new.STT.Name || old.STT.Model != new.STT.Model || old.STT.BaseURL != new.STT.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	if old.LLM.Name != new.LLM.Name || old.LLM.Model != new.LLM.Model || old.LLM.BaseURL != new.LLM.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "llm")
	}
	if old.TTS != new.TTS {
		d.RestartRequired = append(d.RestartRequired, "tts")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}
