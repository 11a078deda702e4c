package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/proxy"
)

const ttsUnavailable = "The text-to-speech service is currently unavailable."

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req proxy.SpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Normalize(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.d.TTS == nil {
		writeDetail(w, http.StatusServiceUnavailable, ttsUnavailable)
		return
	}

	log := observe.Logger(r.Context())
	log.Info("speech requested", "voice", req.Voice, "speed", req.Speed, "input_len", len(req.Input))

	sp, err := s.d.TTS.Speech(r.Context(), req)
	if err != nil {
		writeProxyError(w, r, err)
		return
	}
	defer sp.Body.Close()

	if sp.Chunked {
		w.Header().Set("Content-Type", sp.ContentType)
		w.WriteHeader(http.StatusOK)
		rc := http.NewResponseController(w)
		buf := make([]byte, 32<<10)
		for {
			n, rerr := sp.Body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					log.Info("client went away during speech stream", "err", werr)
					return
				}
				_ = rc.Flush()
			}
			if rerr == io.EOF {
				log.Debug("speech stream finished")
				return
			}
			if rerr != nil {
				log.Error("reading upstream speech stream", "err", rerr)
				return
			}
		}
	}

	audio, err := io.ReadAll(sp.Body)
	if err != nil {
		log.Error("reading upstream speech body", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read backend TTS response")
		return
	}
	if len(audio) == 0 {
		log.Warn("upstream speech response is empty")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", sp.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.d.TTS == nil {
		writeDetail(w, http.StatusServiceUnavailable, ttsUnavailable)
		return
	}
	voices, err := s.d.TTS.Voices(r.Context())
	if err != nil {
		writeProxyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

func writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	log := observe.Logger(r.Context())
	var ue *proxy.UpstreamError
	switch {
	case errors.As(err, &ue):
		log.Error("tts upstream returned an error", "status", ue.StatusCode, "detail", ue.Detail)
		writeDetail(w, ue.StatusCode, ue.Error())
	case errors.Is(err, proxy.ErrUpstreamUnavailable):
		log.Error("tts upstream unavailable", "err", err)
		writeDetail(w, http.StatusServiceUnavailable, ttsUnavailable)
	case errors.Is(err, proxy.ErrInvalidVoices):
		log.Error("tts upstream voice list invalid", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Backend returned unexpected voice list format.")
	default:
		log.Error("tts relay failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}
