package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/internal/segment"
	"github.com/MrWong99/kaudio/internal/session"
)

// maxMessageBytes bounds one inbound WebSocket message.
const maxMessageBytes = 1 << 20

// wsConn adapts a WebSocket to [session.Conn].
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (bool, []byte, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return false, nil, err
	}
	return typ == websocket.MessageBinary, data, nil
}

func (w *wsConn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	log.Info("websocket connection accepted", "remote_addr", r.RemoteAddr)

	if !s.d.Model.Loaded() {
		log.Error("streaming request while stt model is not loaded")
		conn.Close(websocket.StatusInternalError, "STT service is not available")
		return
	}

	opts, err := session.ParseOptions(r.URL.Query())
	if err != nil {
		log.Warn("invalid streaming options", "err", err)
		conn.Close(websocket.StatusPolicyViolation, "Invalid parameters: "+err.Error())
		return
	}

	vadSess, err := s.d.VAD.NewSession(s.d.VADConfig)
	if err != nil {
		log.Error("creating vad session", "err", err)
		conn.Close(websocket.StatusInternalError, "VAD is not available")
		return
	}
	seg, err := segment.New(segment.Config{SilenceFrames: s.d.SilenceFrames}, vadSess, log)
	if err != nil {
		_ = vadSess.Close()
		log.Error("creating segmenter", "err", err)
		conn.Close(websocket.StatusInternalError, "Unexpected server error")
		return
	}

	id := uuid.NewString()
	ctx, done, err := s.d.Sessions.Start(r.Context(), session.Info{
		ID:         id,
		RemoteAddr: r.RemoteAddr,
		Language:   opts.Language,
		Translate:  opts.Translate,
		TargetLang: opts.TargetLang,
	})
	if err != nil {
		_ = seg.Close()
		conn.Close(websocket.StatusGoingAway, "Server is shutting down")
		return
	}
	defer done()

	sess := session.New(id, &wsConn{c: conn}, seg, opts, session.Config{
		Transcriber:     s.d.Transcriber,
		Translator:      s.d.Translator,
		Store:           s.d.Store,
		Metrics:         s.d.Metrics,
		MaxTranslations: s.d.MaxTranslations,
	})
	err = sess.Run(ctx)

	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled) && r.Context().Err() == nil:
		conn.Close(websocket.StatusGoingAway, "Server is shutting down")
	default:
		if status := websocket.CloseStatus(err); status != -1 {
			log.Info("client closed the stream", "session_id", id, "status", status)
		} else {
			log.Warn("stream ended with error", "session_id", id, "err", err)
		}
		conn.CloseNow()
	}
}
