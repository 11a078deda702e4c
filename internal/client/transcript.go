package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Output file names inside a session directory.
const (
	TranscriptFile = "transcript.txt"
	SummaryFile    = "summary.txt"
)

// sessionDirLayout names a session's output directory.
const sessionDirLayout = "20060102_150405"

// Transcript accumulates the final lines of one recording session.
type Transcript struct {
	mu    sync.Mutex
	lines []string
}

// Append adds one line.
func (t *Transcript) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

// Reset clears the transcript for a new session.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}

// Lines returns a copy of the lines in arrival order.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Len returns the number of lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Text joins the lines with newlines.
func (t *Transcript) Text() string {
	return strings.Join(t.Lines(), "\n")
}

// SessionDir returns <outputDir>/<YYYYMMDD_HHMMSS> for a session started at
// now.
func SessionDir(outputDir string, now time.Time) string {
	return filepath.Join(outputDir, now.Format(sessionDirLayout))
}

// Save writes the transcript to dir/transcript.txt, creating dir. An empty
// transcript writes nothing and returns "".
func (t *Transcript) Save(dir string) (string, error) {
	if t.Len() == 0 {
		return "", nil
	}
	return writeSessionFile(dir, TranscriptFile, t.Text())
}

// SaveSummary writes summary to dir/summary.txt.
func SaveSummary(dir, summary string) (string, error) {
	return writeSessionFile(dir, SummaryFile, summary)
}

func writeSessionFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("client: create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("client: write %s: %w", name, err)
	}
	return path, nil
}
