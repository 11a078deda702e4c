// Package health provides the HTTP health endpoints of the kaudio server.
//
//   - /health  reports whether the transcription model is loaded, in the
//     shape existing K.audio clients expect.
//   - /healthz is a liveness probe and always returns 200 OK.
//   - /readyz  returns 200 only when all registered [Checker] functions pass.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named health check. Check returns nil when the dependency is
// healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// ModelStatus reports the lifecycle state of the transcription model.
type ModelStatus interface {
	Loaded() bool
	// LoadError is the reason the model is not loaded, if known.
	LoadError() error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type modelResult struct {
	Status         string `json:"status"`
	STTModelLoaded bool   `json:"stt_model_loaded"`
	Detail         string `json:"detail,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	model    ModelStatus
	checkers []Checker
}

// New creates a [Handler]. model may be nil, in which case /health always
// reports the model as not loaded.
func New(model ModelStatus, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{model: model, checkers: c}
}

// Health reports the transcription model state: 200 with
// {"status":"ok","stt_model_loaded":true} or 503 with a detail message.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	if h.model != nil && h.model.Loaded() {
		writeJSON(w, http.StatusOK, modelResult{Status: "ok", STTModelLoaded: true})
		return
	}
	detail := "STT model is not loaded"
	if h.model != nil {
		if err := h.model.LoadError(); err != nil {
			detail = "STT model is not loaded: " + err.Error()
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, modelResult{Status: "error", Detail: detail})
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every [Checker] concurrently and returns 200 only when all
// pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
