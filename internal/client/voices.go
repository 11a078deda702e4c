package client

import (
	"slices"
	"strings"
	"sync"
)

// VoiceSet is an insertion-ordered set of voice identifiers. Several voices
// are blended by the speech backend when joined with "+".
type VoiceSet struct {
	mu     sync.Mutex
	voices []string
}

// NewVoiceSet returns a set holding voices, skipping blanks and duplicates.
func NewVoiceSet(voices ...string) *VoiceSet {
	s := &VoiceSet{}
	for _, v := range voices {
		s.Add(v)
	}
	return s
}

// Add inserts v at the end unless it is already present. It reports whether
// the set changed.
func (s *VoiceSet) Add(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.voices, v) {
		return false
	}
	s.voices = append(s.voices, v)
	return true
}

// Remove deletes v, keeping the order of the rest.
func (s *VoiceSet) Remove(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.voices, v)
	if i < 0 {
		return false
	}
	s.voices = slices.Delete(s.voices, i, i+1)
	return true
}

// List returns the voices in insertion order.
func (s *VoiceSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.voices)
}

// String joins the voices with "+".
func (s *VoiceSet) String() string {
	return strings.Join(s.List(), "+")
}
