package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/session"
	"github.com/MrWong99/kaudio/internal/store"
)

type sessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: s.d.Sessions.Active()})
}

type transcriptResponse struct {
	SessionID string        `json:"session_id"`
	Entries   []store.Entry `json:"entries"`
}

// handleTranscript returns the stored finals of one session. A session with
// no stored entries is reported as not found.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeDetail(w, http.StatusNotFound, "Transcript storage is disabled on this server.")
		return
	}
	id := chi.URLParam(r, "session_id")
	entries, err := s.d.Store.List(r.Context(), id)
	if err != nil {
		observe.Logger(r.Context()).Error("listing transcript", "session_id", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read transcript.")
		return
	}
	if len(entries) == 0 {
		writeDetail(w, http.StatusNotFound, "No transcript for session "+id)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{SessionID: id, Entries: entries})
}
