package client

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestTranscript_SaveLayout(t *testing.T) {
	t.Parallel()

	tr := &Transcript{}
	tr.Append("First line.")
	tr.Append("Second line.")

	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)
	dir := SessionDir(t.TempDir(), now)
	if filepath.Base(dir) != "20260314_092653" {
		t.Fatalf("session dir = %q", dir)
	}

	path, err := tr.Save(dir)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if path != filepath.Join(dir, TranscriptFile) {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "First line.\nSecond line." {
		t.Errorf("content = %q", data)
	}

	sp, err := SaveSummary(dir, "Short summary.")
	if err != nil {
		t.Fatalf("SaveSummary() error: %v", err)
	}
	if data, _ := os.ReadFile(sp); string(data) != "Short summary." {
		t.Errorf("summary = %q", data)
	}
}

func TestTranscript_EmptyAndReset(t *testing.T) {
	t.Parallel()

	tr := &Transcript{}
	dir := filepath.Join(t.TempDir(), "session")
	path, err := tr.Save(dir)
	if err != nil || path != "" {
		t.Fatalf("Save() on empty transcript = %q, %v", path, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("empty transcript created a directory")
	}

	tr.Append("x")
	tr.Reset()
	if tr.Len() != 0 || tr.Text() != "" {
		t.Errorf("after Reset: len=%d text=%q", tr.Len(), tr.Text())
	}
}

func TestVoiceSet(t *testing.T) {
	t.Parallel()

	s := NewVoiceSet("af_heart", " ", "am_adam", "af_heart")
	if got := s.String(); got != "af_heart+am_adam" {
		t.Fatalf("String() = %q", got)
	}
	if s.Add("am_adam") {
		t.Error("duplicate Add reported a change")
	}
	if !s.Add("bf_emma") || !s.Remove("af_heart") || s.Remove("missing") {
		t.Error("unexpected Add/Remove result")
	}
	if got := s.List(); !slices.Equal(got, []string{"am_adam", "bf_emma"}) {
		t.Errorf("List() = %v", got)
	}
	if NewVoiceSet().String() != "" {
		t.Error("empty set must join to an empty string")
	}
}
