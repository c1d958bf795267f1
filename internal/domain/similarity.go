package domain

import "math"

// Outlook is the display-facing launch decision.
type Outlook string

const (
	OutlookLikely   Outlook = "likely"
	OutlookUnlikely Outlook = "unlikely"
)

// SimilarityResult is the weighted comparison of current conditions against
// the historical launch-day baseline.
type SimilarityResult struct {
	Direction          float64 `json:"direction"`
	Speed              float64 `json:"speed"`
	Issue              float64 `json:"issue"`
	Weighted           float64 `json:"weighted"`
	ProbabilityPercent float64 `json:"probability_percent"`
}

// Scorer computes weighted similarity with a fixed calibration.
type Scorer struct {
	cal SimilarityCalibration
}

// NewScorer creates a Scorer for the given coefficients.
func NewScorer(cal SimilarityCalibration) Scorer {
	return Scorer{cal: cal}
}

// Score compares an averaged wind and the issue flag against the baseline.
// Inputs are not range-checked and outputs are not clamped.
func (s Scorer) Score(avgDirection, avgSpeed float64, issue bool) SimilarityResult {
	rad := degToRad(avgDirection)
	direction := math.Sin(rad)*s.cal.DirectionSin + math.Cos(rad)*s.cal.DirectionCos
	speed := 1 - math.Abs(avgSpeed-s.cal.ReferenceSpeed)/s.cal.MaxSpeedDiff

	var issueSim float64
	if issue {
		issueSim = 1
	}

	weighted := s.cal.SpeedWeight*speed +
		s.cal.DirectionWeight*direction +
		s.cal.IssueWeight*issueSim

	return SimilarityResult{
		Direction:          direction,
		Speed:              speed,
		Issue:              issueSim,
		Weighted:           weighted,
		ProbabilityPercent: weighted * 100,
	}
}

// Threshold returns the decision threshold.
func (s Scorer) Threshold() float64 {
	return s.cal.Threshold
}

// Likely reports whether r meets the historical mean similarity.
func (s Scorer) Likely(r SimilarityResult) bool {
	return r.Weighted >= s.cal.Threshold
}

// Outlook maps r to its display decision.
func (s Scorer) Outlook(r SimilarityResult) Outlook {
	if s.Likely(r) {
		return OutlookLikely
	}
	return OutlookUnlikely
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180.0
}
