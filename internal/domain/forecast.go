package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
)

// ErrUnknownSite is returned when a named launch site cannot be resolved.
var ErrUnknownSite = errors.New("unknown launch site")

// Forecast is the complete buoyancy and drift result for one request.
type Forecast struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
	Date      string `json:"date"`
	Issue     bool   `json:"issue"`

	AvgDirection float64          `json:"avg_direction"`
	AvgSpeed     float64          `json:"avg_speed"`
	Similarity   SimilarityResult `json:"similarity"`
	Threshold    float64          `json:"threshold"`
	Outlook      Outlook          `json:"outlook"`

	Start       GeoPoint         `json:"start"`
	StartRegion Region           `json:"start_region"`
	StartSite   string           `json:"start_site,omitempty"`
	Steps       int              `json:"steps"`
	StepSeconds int              `json:"step_seconds"`
	Branches    []ForecastBranch `json:"branches"`

	ProcessedAt time.Time `json:"processed_at"`
}

// ForecastBranch is one member of the offset fan, in fan order.
type ForecastBranch struct {
	Offset   float64         `json:"offset"`
	Path     Trajectory      `json:"path"`
	Geometry geom.LineString `json:"geometry"`
	Regions  []Region        `json:"regions"`
	Frozen   bool            `json:"frozen"`
	Landing  *Landing        `json:"landing,omitempty"`
}

// Final returns the last position of the branch.
func (b ForecastBranch) Final() GeoPoint {
	return b.Path[len(b.Path)-1]
}

// ParseRawEvent deserializes a RawEvent's value into a PredictionRequest.
// The message key stands in for a missing request id and the message
// timestamp for a missing date.
func ParseRawEvent(raw RawEvent) (PredictionRequest, error) {
	var req PredictionRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return PredictionRequest{}, fmt.Errorf("parse forecast request: %w", err)
	}
	if req.RequestID == "" && len(raw.Key) > 0 {
		req.RequestID = string(raw.Key)
	}
	if req.Date == "" && !raw.Timestamp.IsZero() {
		req.Date = raw.Timestamp.UTC().Format(dateLayout)
	}
	if err := req.Validate(); err != nil {
		return PredictionRequest{}, fmt.Errorf("parse forecast request: %w", err)
	}
	return req, nil
}

// Validate performs the request-level checks the core leaves to callers:
// a complete wind table and a well-formed date. Numeric ranges are not
// checked.
func (r PredictionRequest) Validate() error {
	if err := r.Winds.Validate(); err != nil {
		return err
	}
	if r.Date != "" {
		if _, err := time.Parse(dateLayout, r.Date); err != nil {
			return fmt.Errorf("invalid date %q: %w", r.Date, err)
		}
	}
	if r.Steps != nil && *r.Steps < 0 {
		return fmt.Errorf("%w: steps %d", ErrInvalidRun, *r.Steps)
	}
	if r.StepSeconds < 0 {
		return fmt.Errorf("%w: step seconds %d", ErrInvalidRun, r.StepSeconds)
	}
	return nil
}

// Predictor scores and simulates forecast requests with one calibration.
type Predictor struct {
	cal      Calibration
	scorer   Scorer
	sim      *Simulator
	calendar IssueCalendar
}

// NewPredictor validates cal and builds a Predictor around it.
func NewPredictor(cal Calibration) (*Predictor, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	calendar, err := NewIssueCalendar(cal.IssueDates)
	if err != nil {
		return nil, err
	}
	return &Predictor{
		cal:      cal,
		scorer:   NewScorer(cal.Similarity),
		sim:      NewSimulator(cal.Regions, cal.Trajectory),
		calendar: calendar,
	}, nil
}

// Calibration returns the calibration the predictor was built with.
func (p *Predictor) Calibration() Calibration {
	return p.cal
}

// Site returns the reference coordinates of a named region, matched
// case-insensitively.
func (p *Predictor) Site(name string) (GeoPoint, bool) {
	pt, ok := p.cal.Sites[Region(strings.ToLower(strings.TrimSpace(name)))]
	return pt, ok
}

// Predict scores the averaged winds and simulates the offset fan.
func (p *Predictor) Predict(req PredictionRequest) (Forecast, error) {
	if err := req.Validate(); err != nil {
		return Forecast{}, err
	}

	date := req.Date
	if date == "" {
		date = clock.Now().UTC().Format(dateLayout)
	}
	issue := p.calendar.Contains(date)

	avgDir, avgSpeed := req.Winds.Average()
	sim := p.scorer.Score(avgDir, avgSpeed, issue)

	start, site, err := p.startFor(req)
	if err != nil {
		return Forecast{}, err
	}

	offsets := req.Offsets
	if len(offsets) == 0 {
		offsets = p.cal.Trajectory.Offsets
	}
	steps := p.cal.Trajectory.Steps
	if req.Steps != nil {
		steps = *req.Steps
	}
	stepSeconds := p.cal.Trajectory.StepSeconds
	if req.StepSeconds > 0 {
		stepSeconds = req.StepSeconds
	}

	fan, err := p.sim.Simulate(start, req.Winds, offsets, steps, stepSeconds)
	if err != nil {
		return Forecast{}, err
	}

	branches := make([]ForecastBranch, 0, len(offsets))
	for _, offset := range offsets {
		b := fan[offset]
		branches = append(branches, ForecastBranch{
			Offset:   b.Offset,
			Path:     b.Path,
			Geometry: b.Path.LineString(),
			Regions:  b.Regions,
			Frozen:   b.Frozen,
		})
	}

	return Forecast{
		ID:           generateID(date, req.Winds, start, offsets, steps, stepSeconds),
		RequestID:    req.RequestID,
		Date:         date,
		Issue:        issue,
		AvgDirection: avgDir,
		AvgSpeed:     avgSpeed,
		Similarity:   sim,
		Threshold:    p.scorer.Threshold(),
		Outlook:      p.scorer.Outlook(sim),
		Start:        start,
		StartRegion:  p.cal.Regions.Classify(start),
		StartSite:    site,
		Steps:        steps,
		StepSeconds:  stepSeconds,
		Branches:     branches,
		ProcessedAt:  clock.Now().UTC(),
	}, nil
}

// startFor picks the launch point: explicit start, then a reference site,
// then the calibration default.
func (p *Predictor) startFor(req PredictionRequest) (GeoPoint, string, error) {
	if req.Start != nil {
		return *req.Start, "", nil
	}
	if req.Site == "" {
		return p.cal.Trajectory.DefaultStart, "", nil
	}
	pt, ok := p.Site(req.Site)
	if !ok {
		return GeoPoint{}, "", fmt.Errorf("%w: %q", ErrUnknownSite, req.Site)
	}
	return pt, strings.ToLower(strings.TrimSpace(req.Site)), nil
}

// SerializeForecast marshals a forecast into an OutputEvent keyed by its id.
func SerializeForecast(f Forecast) (OutputEvent, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize forecast: %w", err)
	}
	return OutputEvent{
		Key:   []byte(f.ID),
		Value: data,
		Headers: map[string]string{
			"outlook":      string(f.Outlook),
			"processed_at": f.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}

// generateID produces a deterministic ID from every input that shapes the
// forecast, so replays of the same request map to the same ID.
func generateID(date string, winds WindTable, start GeoPoint, offsets []float64, steps, stepSeconds int) string {
	var b strings.Builder
	b.WriteString(date)
	for _, r := range Regions {
		obs := winds[r]
		fmt.Fprintf(&b, "|%s:%g/%g", r, obs.Direction, obs.Speed)
	}
	fmt.Fprintf(&b, "|%.6f,%.6f|%v|%d|%d", start.Lat, start.Lon, offsets, steps, stepSeconds)
	hash := sha256.Sum256([]byte(b.String()))
	return "forecast-" + hex.EncodeToString(hash[:8])
}
