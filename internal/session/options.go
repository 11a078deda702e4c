package session

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrTargetLangRequired is returned when translation is requested without a
// target language.
var ErrTargetLangRequired = errors.New("session: target_lang is required when translate is enabled")

// Options are the per-connection parameters taken from the query string.
type Options struct {
	// Language is a recognition hint; empty means auto-detect.
	Language string

	// Prompt biases decoding.
	Prompt string

	// Translate enables a translation task per finalized utterance.
	Translate bool

	// TargetLang is required when Translate is set.
	TargetLang string

	// SourceLang overrides the detected language as translation source.
	SourceLang string
}

// ParseOptions reads language, prompt, translate, target_lang and
// source_lang from q.
func ParseOptions(q url.Values) (Options, error) {
	opts := Options{
		Language:   strings.TrimSpace(q.Get("language")),
		Prompt:     q.Get("prompt"),
		TargetLang: strings.TrimSpace(q.Get("target_lang")),
		SourceLang: strings.TrimSpace(q.Get("source_lang")),
	}
	if raw := q.Get("translate"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Options{}, errors.New("session: translate must be a boolean")
		}
		opts.Translate = v
	}
	if opts.Translate && opts.TargetLang == "" {
		return Options{}, ErrTargetLangRequired
	}
	return opts, nil
}

// translationSource picks the source language for translating an utterance
// detected as detected. An explicit override wins.
func (o Options) translationSource(detected string) string {
	if o.SourceLang != "" {
		return o.SourceLang
	}
	return detected
}
