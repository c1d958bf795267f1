package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/couchcryptid/storm-forecast-service/internal/observability"
	"github.com/google/uuid"
)

// ForecastTransformer implements Transformer by scoring and simulating each
// request, with optional geocoding of launch sites and landing points.
type ForecastTransformer struct {
	predictor *domain.Predictor
	geocoder  domain.Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewTransformer creates a ForecastTransformer. Pass a nil geocoder to
// disable site resolution and landing annotation.
func NewTransformer(predictor *domain.Predictor, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) *ForecastTransformer {
	return &ForecastTransformer{
		predictor: predictor,
		geocoder:  geocoder,
		logger:    logger,
		metrics:   metrics,
	}
}

// RequestError ties a transform failure to the request it came from. It is
// only returned once the message parsed into a request.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (t *ForecastTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	f, err := t.Forecast(ctx, req)
	if err != nil {
		return domain.OutputEvent{}, &RequestError{RequestID: req.RequestID, Err: err}
	}

	out, err := domain.SerializeForecast(f)
	if err != nil {
		return domain.OutputEvent{}, &RequestError{RequestID: req.RequestID, Err: err}
	}
	return out, nil
}

// Forecast runs one request through the predictor. Requests without an id
// get a random one so their logs can be correlated.
func (t *ForecastTransformer) Forecast(ctx context.Context, req domain.PredictionRequest) (domain.Forecast, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	req, err := domain.ResolveStart(ctx, req, t.predictor, t.geocoder)
	if err != nil {
		return domain.Forecast{}, err
	}

	start := time.Now()
	f, err := t.predictor.Predict(req)
	t.metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			t.metrics.DomainErrors.Inc()
		}
		return domain.Forecast{}, err
	}

	t.metrics.Forecasts.WithLabelValues(string(f.Outlook)).Inc()
	t.metrics.WeightedSimilarity.Observe(f.Similarity.Weighted)

	f = domain.AnnotateLandings(ctx, f, t.geocoder, t.logger)

	t.logger.Debug("forecast produced",
		"forecast_id", f.ID,
		"request_id", f.RequestID,
		"date", f.Date,
		"issue", f.Issue,
		"similarity", f.Similarity.Weighted,
		"outlook", f.Outlook,
		"branches", len(f.Branches),
	)
	return f, nil
}
