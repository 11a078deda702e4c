package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/segment"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 2

// Worker runs transcription for finalized segments on a bounded pool shared
// by every connection. Calls block until a slot is free or ctx is done.
//
// All methods are safe for concurrent use.
type Worker struct {
	model   stt.Provider
	sem     *semaphore.Weighted
	metrics *observe.Metrics
	filter  atomic.Pointer[FilterConfig]
}

// WorkerOption configures a [Worker].
type WorkerOption func(*Worker)

// WithMetrics records instrument values to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithFilter sets the initial filter configuration.
func WithFilter(cfg FilterConfig) WorkerOption {
	return func(w *Worker) { w.SetFilter(cfg) }
}

// NewWorker creates a pool running at most workers concurrent inferences.
// A non-positive workers value selects [DefaultWorkers].
func NewWorker(model stt.Provider, workers int, opts ...WorkerOption) *Worker {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	w := &Worker{
		model: model,
		sem:   semaphore.NewWeighted(int64(workers)),
	}
	w.SetFilter(DefaultFilterConfig())
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// SetFilter replaces the filter used by subsequent calls. Calls already past
// inference keep the configuration they started with.
func (w *Worker) SetFilter(cfg FilterConfig) {
	cfg.HallucinationPhrases = append([]string(nil), cfg.HallucinationPhrases...)
	w.filter.Store(&cfg)
}

// Filter returns the configuration currently in force.
func (w *Worker) Filter() FilterConfig {
	return *w.filter.Load()
}

// Transcribe runs inference on seg and filters the result. A nil Result with
// a nil error means every sub-segment was filtered out.
func (w *Worker) Transcribe(ctx context.Context, seg *segment.Segment, opts stt.Options) (*Result, error) {
	if seg == nil || len(seg.PCM) == 0 {
		return nil, nil
	}

	ctx, span := observe.StartSpan(ctx, "transcribe.segment",
		trace.WithAttributes(
			attribute.Int("segment.frames", seg.Frames),
			attribute.Float64("segment.start_s", seg.Start.Seconds()),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("transcribe: wait for worker: %w", err)
	}
	defer w.sem.Release(1)

	w.metrics.SegmentsFinalized.Add(ctx, 1)
	start := time.Now()
	tr, err := w.model.Transcribe(ctx, seg.Samples(), opts)
	w.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) {
			w.metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
		return nil, err
	}

	cfg := w.Filter()
	res, ok := Filter(cfg, seg.Start, tr)
	w.metrics.RecordFilterDrop(ctx, observe.DropNoSpeech, res.Stats.NoSpeechSkipped)
	w.metrics.RecordFilterDrop(ctx, observe.DropLowConfidence, res.Stats.LowConfidenceSkipped)
	if n := res.Stats.HallucinationWarnings; n > 0 {
		w.metrics.HallucinationWarnings.Add(ctx, int64(n))
		log.Warn("transcript may contain hallucinated phrases", "warnings", n, "text", res.Text)
	}

	if !ok {
		w.metrics.SegmentsDiscarded.Add(ctx, 1)
		log.Info("segment produced no text after filtering",
			"start", res.Start,
			"processed", res.Stats.Total,
			"skipped_no_speech", res.Stats.NoSpeechSkipped,
			"skipped_low_conf", res.Stats.LowConfidenceSkipped,
		)
		return nil, nil
	}

	log.Info("segment transcribed",
		"start", res.Start,
		"end", res.End,
		"language", res.Language,
		"processed", res.Stats.Total,
		"skipped_no_speech", res.Stats.NoSpeechSkipped,
		"skipped_low_conf", res.Stats.LowConfidenceSkipped,
	)
	span.SetAttributes(attribute.String("transcript.language", res.Language))
	return &res, nil
}
