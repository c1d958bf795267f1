package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SimilarityCalibration holds the fitted coefficients of the weighted
// similarity model.
type SimilarityCalibration struct {
	DirectionSin    float64 `json:"direction_sin"`
	DirectionCos    float64 `json:"direction_cos"`
	ReferenceSpeed  float64 `json:"reference_speed"` // knots
	MaxSpeedDiff    float64 `json:"max_speed_diff"`  // knots
	SpeedWeight     float64 `json:"speed_weight"`
	DirectionWeight float64 `json:"direction_weight"`
	IssueWeight     float64 `json:"issue_weight"`
	Threshold       float64 `json:"threshold"` // mean similarity of historical launch days
}

// TrajectoryCalibration holds the dead-reckoning constants.
type TrajectoryCalibration struct {
	KnotsToMPS      float64   `json:"knots_to_mps"`
	MetersPerDegree float64   `json:"meters_per_degree"`
	FreezeLatitude  float64   `json:"freeze_latitude"`
	Steps           int       `json:"steps"`
	StepSeconds     int       `json:"step_seconds"`
	Offsets         []float64 `json:"offsets"`
	CosEpsilon      float64   `json:"cos_epsilon"`
	DefaultStart    GeoPoint  `json:"default_start"`
}

// Calibration is the process-wide, read-only set of fitted constants.
type Calibration struct {
	Similarity SimilarityCalibration `json:"similarity"`
	Regions    RegionBounds          `json:"regions"`
	Trajectory TrajectoryCalibration `json:"trajectory"`
	Sites      map[Region]GeoPoint   `json:"sites"`
	IssueDates []string              `json:"issue_dates"`
}

// DefaultOffsets is the symmetric fan of wind-direction perturbations.
var DefaultOffsets = []float64{-15, -10, -5, 0, 5, 10, 15}

// defaultIssueDates are the days with a known prior launch in the 2024 season.
var defaultIssueDates = []string{
	"2024-05-28", "2024-06-01", "2024-06-08", "2024-06-09", "2024-06-24", "2024-06-25",
	"2024-06-26", "2024-07-18", "2024-07-21", "2024-07-24", "2024-08-10", "2024-09-04",
	"2024-09-05", "2024-09-06", "2024-09-07", "2024-09-08", "2024-09-11", "2024-09-14",
	"2024-09-15", "2024-09-18", "2024-09-22", "2024-10-02", "2024-10-04", "2024-10-07",
	"2024-10-11", "2024-10-19", "2024-10-24", "2024-11-18", "2024-11-28",
}

// DefaultCalibration returns a fresh copy of the fitted defaults. Callers may
// mutate the result freely.
func DefaultCalibration() Calibration {
	return Calibration{
		Similarity: SimilarityCalibration{
			DirectionSin:    -0.6971,
			DirectionCos:    0.2119,
			ReferenceSpeed:  15.888,
			MaxSpeedDiff:    50.0,
			SpeedWeight:     0.5898,
			DirectionWeight: 0.2343,
			IssueWeight:     0.1759,
			Threshold:       0.6937,
		},
		Regions: defaultRegionBounds,
		Trajectory: TrajectoryCalibration{
			KnotsToMPS:      0.5144,
			MetersPerDegree: 111320,
			FreezeLatitude:  38.0,
			Steps:           14,
			StepSeconds:     1800,
			Offsets:         append([]float64(nil), DefaultOffsets...),
			CosEpsilon:      1e-9,
			DefaultStart:    GeoPoint{Lat: 38.3, Lon: 126.6},
		},
		Sites: map[Region]GeoPoint{
			RegionGaeseong: {Lat: 37.9708, Lon: 126.5544},
			RegionHaeju:    {Lat: 38.0406, Lon: 125.7146},
			RegionOsan:     {Lat: 37.1522, Lon: 127.0703},
			RegionGwangju:  {Lat: 35.1595, Lon: 126.8526},
		},
		IssueDates: append([]string(nil), defaultIssueDates...),
	}
}

// Validate rejects calibrations the algorithms cannot run with. It does not
// second-guess fitted values, only structurally unusable ones.
func (c Calibration) Validate() error {
	s := c.Similarity
	for name, v := range map[string]float64{
		"similarity.direction_sin":    s.DirectionSin,
		"similarity.direction_cos":    s.DirectionCos,
		"similarity.reference_speed":  s.ReferenceSpeed,
		"similarity.speed_weight":     s.SpeedWeight,
		"similarity.direction_weight": s.DirectionWeight,
		"similarity.issue_weight":     s.IssueWeight,
		"similarity.threshold":        s.Threshold,
		"regions.north_lat":           c.Regions.NorthLat,
		"regions.west_lon":            c.Regions.WestLon,
		"regions.south_lat":           c.Regions.SouthLat,
		"trajectory.knots_to_mps":     c.Trajectory.KnotsToMPS,
		"trajectory.freeze_latitude":  c.Trajectory.FreezeLatitude,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("calibration: %s must be finite", name)
		}
	}

	if !(s.MaxSpeedDiff > 0) || math.IsInf(s.MaxSpeedDiff, 0) {
		return errors.New("calibration: similarity.max_speed_diff must be positive")
	}

	t := c.Trajectory
	if !(t.MetersPerDegree > 0) || math.IsInf(t.MetersPerDegree, 0) {
		return errors.New("calibration: trajectory.meters_per_degree must be positive")
	}
	if t.Steps < 0 {
		return errors.New("calibration: trajectory.steps must not be negative")
	}
	if t.StepSeconds <= 0 {
		return errors.New("calibration: trajectory.step_seconds must be positive")
	}
	if err := validateOffsets(t.Offsets); err != nil {
		return fmt.Errorf("calibration: trajectory.offsets: %w", err)
	}
	if !(t.CosEpsilon > 0) {
		return errors.New("calibration: trajectory.cos_epsilon must be positive")
	}

	for region := range c.Sites {
		if !region.Valid() {
			return fmt.Errorf("calibration: unknown site region %q", region)
		}
	}

	for _, d := range c.IssueDates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("calibration: issue date %q: %w", d, err)
		}
	}
	return nil
}
