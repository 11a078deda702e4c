package client

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kaudio/internal/observe"
)

// DefaultFrameBuffer is the FrameChannel capacity used by [New]: about six
// seconds of 30 ms frames.
const DefaultFrameBuffer = 200

// FrameChannel hands captured frames from the driver callback to the sender.
// Push never blocks: when the buffer is full the frame is dropped and
// counted.
type FrameChannel struct {
	ch      chan []byte
	dropped atomic.Int64
	metrics *observe.Metrics
}

// NewFrameChannel returns a channel buffering up to size frames. A nil
// metrics argument uses the default instruments.
func NewFrameChannel(size int, m *observe.Metrics) *FrameChannel {
	if size <= 0 {
		size = DefaultFrameBuffer
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &FrameChannel{ch: make(chan []byte, size), metrics: m}
}

// Push enqueues frame and reports whether it was accepted. It is safe to call
// from the capture thread.
func (f *FrameChannel) Push(frame []byte) bool {
	select {
	case f.ch <- frame:
		return true
	default:
		n := f.dropped.Add(1)
		f.metrics.FramesDropped.Add(context.Background(), 1)
		if n == 1 || n%50 == 0 {
			slog.Warn("frame channel full, dropping frame", "dropped_total", n)
		}
		return false
	}
}

// Next waits up to timeout for a frame. ok is false on timeout or when ctx
// is done.
func (f *FrameChannel) Next(ctx context.Context, timeout time.Duration) (frame []byte, ok bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frame = <-f.ch:
		return frame, true
	case <-t.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Len returns the number of queued frames.
func (f *FrameChannel) Len() int { return len(f.ch) }

// Dropped returns how many frames Push has discarded.
func (f *FrameChannel) Dropped() int64 { return f.dropped.Load() }
