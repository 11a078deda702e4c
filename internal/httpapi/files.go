package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/transcribe"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// maxUploadBytes bounds a file transcription upload.
const maxUploadBytes = 100 << 20

// handleFileTranscription implements the OpenAI-style multipart endpoint.
// The model and temperature fields are accepted and ignored.
func (s *Server) handleFileTranscription(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	if !s.d.Model.Loaded() {
		writeDetail(w, http.StatusServiceUnavailable, "STT service is not available. Model not loaded.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	format, err := transcribe.ParseResponseFormat(r.FormValue("response_format"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid response format")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Missing file field")
		return
	}
	data, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read upload: "+err.Error())
		return
	}
	log.Info("file transcription requested", "filename", hdr.Filename, "bytes", len(data), "format", format)

	res, err := transcribe.TranscribeFile(r.Context(), s.d.Model, data, stt.Options{
		Language: r.FormValue("language"),
		Prompt:   r.FormValue("prompt"),
	})
	switch {
	case errors.Is(err, transcribe.ErrUnreadableAudio):
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, stt.ErrModelNotLoaded):
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		log.Error("file transcription failed", "filename", hdr.Filename, "err", err)
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error during transcription: %v", err))
		return
	}

	body, contentType, err := transcribe.Render(format, res)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
