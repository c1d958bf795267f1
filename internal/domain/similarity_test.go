package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultScorer() Scorer {
	return NewScorer(DefaultCalibration().Similarity)
}

func TestScore_SoutherlyAtReferenceSpeedOnIssueDay(t *testing.T) {
	s := defaultScorer()

	r := s.Score(180, 15.888, true)

	assert.InDelta(t, -0.2119, r.Direction, 1e-9)
	assert.InDelta(t, 1.0, r.Speed, 1e-12)
	assert.Equal(t, 1.0, r.Issue)
	assert.InDelta(t, 0.71605, r.Weighted, 1e-4)
	assert.InDelta(t, 71.605, r.ProbabilityPercent, 1e-2)
	assert.True(t, s.Likely(r))
	assert.Equal(t, OutlookLikely, s.Outlook(r))
}

func TestScore_NortherlyWithoutIssue(t *testing.T) {
	s := defaultScorer()

	r := s.Score(0, 15.888, false)

	assert.InDelta(t, 0.2119, r.Direction, 1e-12)
	assert.Equal(t, 0.0, r.Issue)
	assert.InDelta(t, 0.5898+0.2343*0.2119, r.Weighted, 1e-12)
	assert.False(t, s.Likely(r))
	assert.Equal(t, OutlookUnlikely, s.Outlook(r))
}

func TestScore_ProbabilityIsWeightedTimesHundred(t *testing.T) {
	s := defaultScorer()
	for _, dir := range []float64{0, 45, 90, 135, 180, 225, 270, 315, 359.9} {
		for _, speed := range []float64{0, 5, 15.888, 30, 50} {
			for _, issue := range []bool{false, true} {
				r := s.Score(dir, speed, issue)
				assert.InDelta(t, r.Weighted*100, r.ProbabilityPercent, 1e-9)
			}
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := defaultScorer()
	for dir := 0.0; dir < 360; dir += 7.5 {
		for speed := 0.0; speed <= 50; speed += 2.5 {
			assert.Equal(t, s.Score(dir, speed, true), s.Score(dir, speed, true))
		}
	}
}

func TestScore_OutOfRangeInputsAreNotClamped(t *testing.T) {
	s := defaultScorer()

	t.Run("extreme speed drives probability negative", func(t *testing.T) {
		r := s.Score(180, 200, false)
		assert.InDelta(t, 1-(200-15.888)/50, r.Speed, 1e-12)
		assert.Less(t, r.Speed, 0.0)
		assert.Less(t, r.ProbabilityPercent, 0.0)
	})

	t.Run("negative speed", func(t *testing.T) {
		r := s.Score(180, -10, false)
		assert.InDelta(t, 1-25.888/50, r.Speed, 1e-12)
	})

	t.Run("direction outside 0-360 wraps through trig", func(t *testing.T) {
		a := s.Score(-90, 10, false)
		b := s.Score(270, 10, false)
		assert.InDelta(t, a.Weighted, b.Weighted, 1e-12)
	})
}

func TestScorer_ThresholdBoundary(t *testing.T) {
	cal := DefaultCalibration().Similarity
	s := NewScorer(cal)

	assert.Equal(t, 0.6937, s.Threshold())
	assert.True(t, s.Likely(SimilarityResult{Weighted: 0.6937}))
	assert.False(t, s.Likely(SimilarityResult{Weighted: 0.69369}))
}

func TestScorer_Recalibrated(t *testing.T) {
	cal := DefaultCalibration().Similarity
	cal.IssueWeight = 0
	cal.SpeedWeight = 1
	cal.DirectionWeight = 0
	cal.ReferenceSpeed = 10

	r := NewScorer(cal).Score(123, 10, true)
	assert.InDelta(t, 1.0, r.Weighted, 1e-12)
}
