package client

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/kaudio/pkg/audio"
)

// lockedBuffer is a bytes.Buffer safe for the router goroutine and the test
// to share.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startRouter runs r until the test ends.
func startRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func frame(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, audio.FrameBytes)
}

// wavBytes returns a WAV stream with n bytes of PCM at f.
func wavBytes(f audio.Format, n int) []byte {
	return audio.EncodeWAV(bytes.Repeat([]byte{1}, n), f)
}

type written struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn records writes and replays scripted reads.
type fakeConn struct {
	mu       sync.Mutex
	writes   []written
	writeErr func(typ websocket.MessageType) error

	reads   []written
	readErr error
}

func (c *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		if err := c.writeErr(typ); err != nil {
			return err
		}
	}
	c.writes = append(c.writes, written{typ: typ, data: append([]byte(nil), p...)})
	return nil
}

func (c *fakeConn) Read(context.Context) (websocket.MessageType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, nil, c.readErr
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	return next.typ, next.data, nil
}

func (c *fakeConn) Writes() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]written(nil), c.writes...)
}
