package pipeline_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/couchcryptid/storm-forecast-service/internal/observability"
	"github.com/couchcryptid/storm-forecast-service/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	mu      sync.Mutex
	batches [][]domain.RawEvent
	err     error
	calls   int
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	m.calls++
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockTransformer struct {
	err error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	if m.err != nil {
		return domain.OutputEvent{}, m.err
	}
	return domain.OutputEvent{Key: raw.Key, Value: raw.Value}, nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.OutputEvent
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

func (m *mockLoader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded)
}

func newTestMetrics() *observability.Metrics {
	// Use unregistered metrics to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- pipeline ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raw := makeRawEvent(t, "req-1", "2024-06-01")

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, raw.Value, ldr.loaded[0].Value)
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MessagesConsumed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MessagesProduced), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no batches, will block
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorSkipsAndCommits(t *testing.T) {
	var committed int
	raw := makeRawEvent(t, "req-2", "2024-06-01")
	raw.Commit = func(_ context.Context) error {
		committed++
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{err: errors.New("bad data")}, ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Equal(t, 1, committed)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransformErrors), 0)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	var order []string
	var mu sync.Mutex

	raws := make([]domain.RawEvent, 3)
	for i := range raws {
		raws[i] = makeRawEvent(t, "req", "2024-06-01")
		raws[i].Topic = "forecast-requests"
		raws[i].Offset = int64(i)
		raws[i].Commit = func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, "commit")
			return nil
		}
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{raws}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 3, ldr.count())
	assert.Equal(t, []string{"commit", "commit", "commit"}, order)
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	committed := false
	raw := makeRawEvent(t, "req-3", "2024-06-01")
	raw.Commit = func(_ context.Context) error {
		committed = true
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	ldr := &mockLoader{err: errors.New("broker down")}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.False(t, committed)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{err: errors.New("fetch failed")}

	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))

	ext.mu.Lock()
	defer ext.mu.Unlock()
	// 200ms then 400ms backoff leaves room for at most three attempts.
	assert.LessOrEqual(t, ext.calls, 3)
	assert.GreaterOrEqual(t, ext.calls, 2)
}

func TestPipeline_Run_SeparatesRejectionsFromFailures(t *testing.T) {
	good := makeRawEvent(t, "req-good", "2024-06-01")
	polar := makeRequestEvent(t, "key-polar", domain.PredictionRequest{
		RequestID: "req-polar",
		Date:      "2024-06-01",
		Winds:     uniformWinds(180, 10),
		Start:     &domain.GeoPoint{Lat: 90, Lon: 126},
	})
	unknown := makeRequestEvent(t, "key-unknown", domain.PredictionRequest{
		RequestID: "req-unknown",
		Winds:     uniformWinds(180, 10),
		Site:      "Sinuiju",
	})
	garbled := domain.RawEvent{Key: []byte("key-garbled"), Value: []byte("{not json")}

	var committed int
	batch := []domain.RawEvent{good, polar, unknown, garbled}
	for i := range batch {
		batch[i].Offset = int64(i)
		batch[i].Commit = func(_ context.Context) error {
			committed++
			return nil
		}
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := newTestMetrics()
	ldr := &mockLoader{}

	p := pipeline.New(&mockExtractor{batches: [][]domain.RawEvent{batch}}, newTestTransformer(t, nil, metrics), ldr, logger, metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 1, ldr.count())
	assert.Equal(t, 4, committed)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransformErrors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("outside_domain")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("unknown_site")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("invalid_run")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MessagesProduced), 0)

	rejected := logLines(t, &logs, "forecast request rejected")
	require.Len(t, rejected, 2)
	assert.Equal(t, "req-polar", rejected[0]["request_id"])
	assert.Equal(t, "outside_domain", rejected[0]["reason"])
	assert.Equal(t, "req-unknown", rejected[1]["request_id"])
	assert.Equal(t, "unknown_site", rejected[1]["reason"])

	failed := logLines(t, &logs, "forecast failed, skipping message")
	require.Len(t, failed, 1)
	assert.Equal(t, "key-garbled", failed[0]["request_id"])
	assert.NotContains(t, failed[0], "reason")

	summary := logLines(t, &logs, "batch processed")
	require.Len(t, summary, 1)
	assert.InDelta(t, 1, summary[0]["published"], 0)
	assert.InDelta(t, 2, summary[0]["rejected"], 0)
	assert.InDelta(t, 1, summary[0]["failed"], 0)
}

func TestPipeline_Run_InvalidRunIsRejected(t *testing.T) {
	steps := -1
	raw := makeRequestEvent(t, "req-steps", domain.PredictionRequest{
		RequestID: "req-steps",
		Winds:     uniformWinds(180, 10),
		Steps:     &steps,
	})

	metrics := newTestMetrics()
	p := pipeline.New(&mockExtractor{batches: [][]domain.RawEvent{{raw}}}, newTestTransformer(t, nil, metrics), &mockLoader{}, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("invalid_run")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.TransformErrors), 0)
}

// --- transformer ---

func newTestTransformer(t *testing.T, geocoder domain.Geocoder, metrics *observability.Metrics) *pipeline.ForecastTransformer {
	t.Helper()
	predictor, err := domain.NewPredictor(domain.DefaultCalibration())
	require.NoError(t, err)
	return pipeline.NewTransformer(predictor, geocoder, discardLogger(), metrics)
}

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func TestForecastTransformer_Transform(t *testing.T) {
	freezeClock(t)
	metrics := newTestMetrics()
	tfm := newTestTransformer(t, nil, metrics)

	out, err := tfm.Transform(context.Background(), makeRawEvent(t, "req-4", "2024-06-01"))
	require.NoError(t, err)

	var f domain.Forecast
	require.NoError(t, json.Unmarshal(out.Value, &f))

	assert.Equal(t, []byte(f.ID), out.Key)
	assert.Equal(t, "req-4", f.RequestID)
	assert.True(t, f.Issue)
	assert.Equal(t, string(f.Outlook), out.Headers["outlook"])
	assert.Equal(t, "2024-06-01T06:00:00Z", out.Headers["processed_at"])
	assert.Len(t, f.Branches, len(domain.DefaultOffsets))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Forecasts.WithLabelValues(string(f.Outlook))), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.WeightedSimilarity))
}

func TestForecastTransformer_Transform_InvalidRequest(t *testing.T) {
	tfm := newTestTransformer(t, nil, newTestMetrics())

	_, err := tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	require.Error(t, err)

	_, err = tfm.Transform(context.Background(), domain.RawEvent{Value: []byte(`{"winds":{"osan":{"direction":1,"speed":1}}}`)})
	assert.ErrorIs(t, err, domain.ErrMissingWind)
}

func TestForecastTransformer_Forecast_AssignsRequestID(t *testing.T) {
	freezeClock(t)
	tfm := newTestTransformer(t, nil, newTestMetrics())

	f, err := tfm.Forecast(context.Background(), domain.PredictionRequest{Date: "2024-06-01", Winds: uniformWinds(180, 10)})
	require.NoError(t, err)
	assert.Len(t, f.RequestID, 36)
}

func TestForecastTransformer_Forecast_DomainError(t *testing.T) {
	metrics := newTestMetrics()
	tfm := newTestTransformer(t, nil, metrics)

	_, err := tfm.Forecast(context.Background(), domain.PredictionRequest{
		Date:  "2024-06-01",
		Winds: uniformWinds(180, 10),
		Start: &domain.GeoPoint{Lat: 90, Lon: 126},
	})

	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DomainErrors), 0)
}

func TestForecastTransformer_Transform_WrapsRequestID(t *testing.T) {
	tfm := newTestTransformer(t, nil, newTestMetrics())

	_, err := tfm.Transform(context.Background(), makeRequestEvent(t, "", domain.PredictionRequest{
		RequestID: "req-site",
		Winds:     uniformWinds(180, 10),
		Site:      "Sinuiju",
	}))

	var re *pipeline.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "req-site", re.RequestID)
	assert.ErrorIs(t, err, domain.ErrUnknownSite)
}

type stubGeocoder struct{}

func (stubGeocoder) ForwardGeocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{Lat: 37.9, Lon: 126.6, PlaceName: "Paju"}, nil
}

func (stubGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{Lat: lat, Lon: lon, PlaceName: "Somewhere", FormattedAddress: "Somewhere, Korea", Confidence: 1}, nil
}

func TestForecastTransformer_Forecast_WithGeocoder(t *testing.T) {
	freezeClock(t)
	tfm := newTestTransformer(t, stubGeocoder{}, newTestMetrics())

	f, err := tfm.Forecast(context.Background(), domain.PredictionRequest{
		Date:  "2024-06-01",
		Winds: uniformWinds(180, 10),
		Site:  "Paju",
	})
	require.NoError(t, err)

	if diff := cmp.Diff(domain.GeoPoint{Lat: 37.9, Lon: 126.6}, f.Start); diff != "" {
		t.Fatalf("start mismatch (-want +got):\n%s", diff)
	}
	for _, b := range f.Branches {
		require.NotNil(t, b.Landing)
		assert.Equal(t, "reverse", b.Landing.GeoSource)
		assert.Equal(t, "Somewhere", b.Landing.PlaceName)
	}
}

// --- helpers ---

func uniformWinds(direction, speed float64) domain.WindTable {
	w := domain.WindTable{}
	for _, r := range domain.Regions {
		w[r] = domain.WindObservation{Direction: direction, Speed: speed}
	}
	return w
}

func makeRequestEvent(t *testing.T, key string, req domain.PredictionRequest) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(key), Value: data}
}

// logLines returns the JSON log records with the given message, in order.
func logLines(t *testing.T, buf *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), fmt.Sprintf("log line %q", sc.Text()))
		if line["msg"] == msg {
			out = append(out, line)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func makeRawEvent(t *testing.T, id, date string) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(domain.PredictionRequest{
		RequestID: id,
		Date:      date,
		Winds:     uniformWinds(180, 15.888),
	})
	require.NoError(t, err)
	return domain.RawEvent{
		Key:   []byte(id),
		Value: data,
	}
}
