package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// StatusError is returned when the backend answered with an HTTP error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("llm backend returned status %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the backend HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

var reasoningBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

// StripReasoning removes a leading <think>...</think> block, as emitted by
// reasoning models served through llama.cpp, and trims the rest.
func StripReasoning(content string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(content, ""))
}
