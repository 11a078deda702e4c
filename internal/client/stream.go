package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/kaudio/internal/protocol"
)

// StreamEnd is the text message that tells the server no more audio follows.
const StreamEnd = "STREAM_END"

// DefaultPollInterval bounds how long the sender waits for a frame before it
// re-checks the stop signal.
const DefaultPollInterval = 100 * time.Millisecond

// MessageWriter is the write half of a WebSocket connection.
type MessageWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// MessageReader is the read half of a WebSocket connection.
type MessageReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// StreamSender drains a FrameChannel onto the connection.
type StreamSender struct {
	conn   MessageWriter
	frames *FrameChannel
	poll   time.Duration
	sent   int
}

// NewStreamSender returns a sender writing frames to conn.
func NewStreamSender(conn MessageWriter, frames *FrameChannel) *StreamSender {
	return &StreamSender{conn: conn, frames: frames, poll: DefaultPollInterval}
}

// Run sends frames until stop is closed and the channel is empty, then sends
// [StreamEnd]. A write failure ends Run with an error; a failure to send the
// end marker on an already closed connection is not an error.
func (s *StreamSender) Run(ctx context.Context, stop <-chan struct{}) error {
	slog.Debug("sender started")
	for {
		frame, ok := s.frames.Next(ctx, s.poll)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-stop:
				return s.finish(ctx)
			default:
				continue
			}
		}
		if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			return fmt.Errorf("client: send frame: %w", err)
		}
		s.sent++
	}
}

func (s *StreamSender) finish(ctx context.Context) error {
	slog.Info("sending end of stream", "frames_sent", s.sent)
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(StreamEnd)); err != nil {
		slog.Debug("connection already closed, end of stream not sent", "err", err)
	}
	return nil
}

// Sent returns the number of frames written.
func (s *StreamSender) Sent() int { return s.sent }

// Receiver reads control messages and hands them to a router.
type Receiver struct {
	conn   MessageReader
	router *Router
}

// NewReceiver returns a receiver posting to r.
func NewReceiver(conn MessageReader, r *Router) *Receiver {
	return &Receiver{conn: conn, router: r}
}

// Run reads until the connection closes. A normal closure returns nil; the
// server's close reason is logged either way.
func (rc *Receiver) Run(ctx context.Context) error {
	for {
		typ, data, err := rc.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code == websocket.StatusNormalClosure {
					slog.Info("server closed the stream")
					return nil
				}
				return fmt.Errorf("client: server closed the stream: %w", &ServerClosedError{Code: int(ce.Code), Reason: ce.Reason})
			}
			return fmt.Errorf("client: receive: %w", err)
		}
		if typ != websocket.MessageText {
			slog.Warn("ignoring binary message from server", "bytes", len(data))
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("received undecodable message", "err", err, "raw", string(data))
			continue
		}
		rc.router.Post(msg)
	}
}

// ServerClosedError is returned when the server ends the stream abnormally,
// for example because its model is not loaded.
type ServerClosedError struct {
	Code   int
	Reason string
}

func (e *ServerClosedError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Reason)
}
