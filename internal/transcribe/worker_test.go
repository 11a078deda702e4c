package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/segment"
	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	"github.com/MrWong99/kaudio/pkg/provider/stt/mock"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func testSegment(frames int, start time.Duration) *segment.Segment {
	return &segment.Segment{
		PCM:    make([]byte, frames*audio.FrameBytes),
		Start:  start,
		Frames: frames,
	}
}

func TestWorker_Transcribe(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p := &mock.Provider{Default: &stt.Transcription{
		Language:            "en",
		LanguageProbability: 0.97,
		Segments: []stt.Segment{
			{Text: "hello", End: time.Second, AvgLogProb: -0.2},
			{Text: "noise", Start: time.Second, End: 2 * time.Second, AvgLogProb: -0.2, NoSpeechProb: 0.99},
		},
	}}
	w := NewWorker(p, 1, WithMetrics(m))

	res, err := w.Transcribe(context.Background(), testSegment(10, 3*time.Second), stt.Options{Language: "en", Prompt: "names"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
	if res.Text != "hello" || res.Start != 3*time.Second || res.End != 4*time.Second {
		t.Errorf("result = %+v", res)
	}
	call := p.LastCall()
	if call.Samples != 10*audio.FrameSamples {
		t.Errorf("model saw %d samples, want %d", call.Samples, 10*audio.FrameSamples)
	}
	if call.Opts.Prompt != "names" {
		t.Errorf("Prompt = %q", call.Opts.Prompt)
	}
	if got := counterValue(t, reader, "kaudio.segments.finalized"); got != 1 {
		t.Errorf("segments.finalized = %d, want 1", got)
	}
	if got := counterValue(t, reader, "kaudio.filter.drops"); got != 1 {
		t.Errorf("filter.drops = %d, want 1", got)
	}
}

func TestWorker_AllFiltered(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p := &mock.Provider{Default: &stt.Transcription{Segments: []stt.Segment{
		{Text: "uh", AvgLogProb: -3},
	}}}
	w := NewWorker(p, 1, WithMetrics(m))

	res, err := w.Transcribe(context.Background(), testSegment(5, 0), stt.Options{})
	if err != nil || res != nil {
		t.Fatalf("Transcribe = %+v, %v; want nil, nil", res, err)
	}
	if got := counterValue(t, reader, "kaudio.segments.discarded"); got != 1 {
		t.Errorf("segments.discarded = %d, want 1", got)
	}
}

func TestWorker_EmptySegment(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	w := NewWorker(p, 1, WithMetrics(observe.DefaultMetrics()))
	res, err := w.Transcribe(context.Background(), &segment.Segment{}, stt.Options{})
	if err != nil || res != nil {
		t.Fatalf("Transcribe = %+v, %v", res, err)
	}
	if p.CallCount() != 0 {
		t.Error("model called for an empty segment")
	}
}

func TestWorker_ModelError(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	boom := errors.New("inference failed")
	w := NewWorker(&mock.Provider{Err: boom}, 1, WithMetrics(m))

	_, err := w.Transcribe(context.Background(), testSegment(1, 0), stt.Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := counterValue(t, reader, "kaudio.provider.errors"); got != 1 {
		t.Errorf("provider.errors = %d, want 1", got)
	}
}

func TestWorker_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	p := &countingProvider{
		enter: func() {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
		},
		exit: func() {
			mu.Lock()
			running--
			mu.Unlock()
		},
	}
	w := NewWorker(p, 2, WithMetrics(observe.DefaultMetrics()))

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = w.Transcribe(context.Background(), testSegment(1, 0), stt.Options{})
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestWorker_WaitCancelled(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Delay: time.Second}
	w := NewWorker(p, 1, WithMetrics(observe.DefaultMetrics()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.Transcribe(ctx, testSegment(1, 0), stt.Options{})
	}()

	// Wait for the first call to occupy the only slot.
	deadline := time.Now().Add(time.Second)
	for p.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	if _, err := w.Transcribe(waitCtx, testSegment(1, 0), stt.Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued call err = %v, want DeadlineExceeded", err)
	}
	cancel()
	<-done
}

func TestWorker_SetFilter(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Default: &stt.Transcription{Segments: []stt.Segment{
		{Text: "maybe", AvgLogProb: -1.5},
	}}}
	w := NewWorker(p, 1, WithMetrics(observe.DefaultMetrics()))

	if res, _ := w.Transcribe(context.Background(), testSegment(1, 0), stt.Options{}); res != nil {
		t.Fatalf("default filter kept low-confidence text: %+v", res)
	}

	w.SetFilter(FilterConfig{NoSpeechThreshold: 0.85, LogProbThreshold: -2})
	res, _ := w.Transcribe(context.Background(), testSegment(1, 0), stt.Options{})
	if res == nil || res.Text != "maybe" {
		t.Fatalf("relaxed filter result = %+v", res)
	}
	if got := w.Filter().LogProbThreshold; got != -2 {
		t.Errorf("Filter().LogProbThreshold = %v", got)
	}
}

type countingProvider struct {
	enter, exit func()
}

func (c *countingProvider) Transcribe(context.Context, []float32, stt.Options) (*stt.Transcription, error) {
	c.enter()
	defer c.exit()
	time.Sleep(10 * time.Millisecond)
	return &stt.Transcription{}, nil
}

func (c *countingProvider) Close() error { return nil }
