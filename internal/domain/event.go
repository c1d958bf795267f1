package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// PredictionRequest is the inbound forecast request. Only Winds is required;
// everything else falls back to calibration defaults.
type PredictionRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Date      string    `json:"date,omitempty"` // YYYY-MM-DD
	Winds     WindTable `json:"winds"`

	// Start wins over Site; with neither the calibration default is used.
	Start *GeoPoint `json:"start,omitempty"`
	Site  string    `json:"site,omitempty"`

	Offsets     []float64 `json:"offsets,omitempty"`
	Steps       *int      `json:"steps,omitempty"`
	StepSeconds int       `json:"step_seconds,omitempty"`
}

// Landing annotates a branch's final position with place details.
type Landing struct {
	Point            GeoPoint `json:"point"`
	PlaceName        string   `json:"place_name,omitempty"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	GeoSource        string   `json:"geo_source"` // "reverse", "original", "failed"
}
