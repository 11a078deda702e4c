package config

import (
	"slices"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantLevel   bool
		wantFilter  bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*Config) {}},
		{
			name:      "log level",
			mutate:    func(c *Config) { c.Server.LogLevel = LogDebug },
			wantLevel: true,
		},
		{
			name: "hallucination phrases",
			mutate: func(c *Config) {
				c.Streaming.HallucinationPhrases = append(c.Streaming.HallucinationPhrases, "like and subscribe")
			},
			wantFilter: true,
		},
		{
			name:       "no speech threshold",
			mutate:     func(c *Config) { c.Streaming.NoSpeechThreshold += 0.1 },
			wantFilter: true,
		},
		{
			name: "restart sections",
			mutate: func(c *Config) {
				c.Server.ListenAddr = ":9001"
				c.STT.Model = "/models/ggml-large-v3.bin"
				c.TTS.BaseURL = "http://kokoro:8880"
				c.Storage.Driver = StorageSQLite
			},
			wantRestart: []string{"server.listen_addr", "stt", "tts", "storage"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := Default()
			next := Default()
			next.Streaming.HallucinationPhrases = slices.Clone(old.Streaming.HallucinationPhrases)
			tc.mutate(next)

			d := Diff(old, next)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != LogDebug {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.FilterChanged != tc.wantFilter {
				t.Errorf("FilterChanged = %v, want %v", d.FilterChanged, tc.wantFilter)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
