package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/couchcryptid/storm-forecast-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw forecast requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns a raw forecast request into a serialized forecast.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple serialized forecasts to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline orchestrates the extract-forecast-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has published at least one
// forecast, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any forecasts yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := initialBackoff
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// batchOutcome tallies what happened to each request in one batch.
type batchOutcome struct {
	published int
	rejected  int
	failed    int
}

// processBatch runs one extract-forecast-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	requests, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(requests) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(requests)))
	p.metrics.BatchSize.Observe(float64(len(requests)))
	*backoff = initialBackoff

	outcome, ok := p.forecastAndPublish(ctx, requests, backoff, maxBackoff)
	if !ok {
		return false
	}

	if outcome.published > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	p.logger.Debug("batch processed",
		"requests", len(requests),
		"published", outcome.published,
		"rejected", outcome.rejected,
		"failed", outcome.failed,
	)
	return true
}

// forecastAndPublish forecasts each request in the batch, publishes the
// results and commits offsets. Requests that cannot be forecast are committed
// and skipped so one bad message never stalls the partition. Returns false if
// the pipeline should stop.
func (p *Pipeline) forecastAndPublish(ctx context.Context, requests []domain.RawEvent, backoff *time.Duration, maxBackoff time.Duration) (batchOutcome, bool) {
	var outcome batchOutcome
	forecasts := make([]domain.OutputEvent, 0, len(requests))
	forecasted := make([]domain.RawEvent, 0, len(requests))

	for _, raw := range requests {
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			if p.skip(raw, err) {
				outcome.rejected++
			} else {
				outcome.failed++
			}
			p.commitOffset(ctx, raw)
			continue
		}
		forecasts = append(forecasts, out)
		forecasted = append(forecasted, raw)
	}

	if len(forecasts) == 0 {
		return outcome, true
	}

	if err := p.loader.LoadBatch(ctx, forecasts); err != nil {
		p.logger.Error("publish forecasts failed", "error", err, "forecasts", len(forecasts))
		return outcome, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.MessagesProduced.Add(float64(len(forecasts)))
	outcome.published = len(forecasts)

	for _, raw := range forecasted {
		p.commitOffset(ctx, raw)
	}
	return outcome, true
}

// skip records a request that produced no forecast. Well-formed requests the
// model cannot forecast are rejections; anything else is a transform error.
// Reports whether the request was rejected.
func (p *Pipeline) skip(raw domain.RawEvent, err error) bool {
	attrs := []any{
		"error", err,
		"request_id", requestID(raw, err),
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	}

	reason := rejectionReason(err)
	if reason == "" {
		p.logger.Warn("forecast failed, skipping message", attrs...)
		p.metrics.TransformErrors.Inc()
		return false
	}
	p.logger.Info("forecast request rejected", append(attrs, "reason", reason)...)
	p.metrics.RequestsRejected.WithLabelValues(reason).Inc()
	return true
}

// rejectionReason maps domain failures to a metric label. Parse and
// serialization failures have no reason.
func rejectionReason(err error) string {
	var de *domain.DomainError
	switch {
	case errors.As(err, &de), errors.Is(err, domain.ErrOutsideDomain):
		return "outside_domain"
	case errors.Is(err, domain.ErrUnknownSite):
		return "unknown_site"
	case errors.Is(err, domain.ErrInvalidRun):
		return "invalid_run"
	default:
		return ""
	}
}

// requestID prefers the id the transformer resolved over the message key.
func requestID(raw domain.RawEvent, err error) string {
	var re *RequestError
	if errors.As(err, &re) && re.RequestID != "" {
		return re.RequestID
	}
	return string(raw.Key)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

const initialBackoff = 200 * time.Millisecond

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
