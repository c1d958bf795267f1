package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/peterstace/simplefeatures/geom"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrOutsideDomain marks positions where the flat-earth longitude
	// conversion breaks down (|cos(lat)| below the calibration epsilon).
	ErrOutsideDomain = errors.New("position outside supported latitude domain")

	// ErrInvalidRun is returned for unusable simulation parameters.
	ErrInvalidRun = errors.New("invalid simulation run")
)

// DomainError reports the branch and step that left the supported domain.
type DomainError struct {
	Offset float64
	Step   int
	Point  GeoPoint
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("offset %g step %d at lat %.4f: %v", e.Offset, e.Step, e.Point.Lat, ErrOutsideDomain)
}

func (e *DomainError) Unwrap() error { return ErrOutsideDomain }

// Trajectory is the ordered sequence of positions of one branch, starting
// with the launch point.
type Trajectory []GeoPoint

// LineString returns the trajectory as a lon/lat LineString. Trajectories
// without two distinct positions (calm winds, zero steps) yield an empty
// LineString.
func (t Trajectory) LineString() geom.LineString {
	if len(t) < 2 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(t)*2)
	for _, p := range t {
		coords = append(coords, p.Lon, p.Lat)
	}
	ls, _ := geom.NewLineString(geom.NewSequence(coords, geom.DimXY), geom.OmitInvalid)
	return ls
}

// Branch is the result of simulating one member of the offset fan.
type Branch struct {
	Offset float64
	Path   Trajectory // steps+1 points, Path[0] is the start
	// Regions[i] is the region whose wind drove step i.
	Regions []Region
	// Frozen is true once the branch crossed the freeze latitude.
	Frozen bool
}

// Simulator dead-reckons drift branches over a regional wind table.
type Simulator struct {
	regions RegionBounds
	cal     TrajectoryCalibration
}

// NewSimulator creates a Simulator with the given region bounds and
// trajectory constants.
func NewSimulator(regions RegionBounds, cal TrajectoryCalibration) *Simulator {
	return &Simulator{regions: regions, cal: cal}
}

// branchState is the per-branch accumulator threaded through the step loop.
type branchState struct {
	point  GeoPoint
	region Region
	frozen bool
}

// Simulate runs every offset independently and returns the branches keyed by
// offset. Branches run concurrently; winds is only read. The first failing
// branch aborts the run.
func (s *Simulator) Simulate(start GeoPoint, winds WindTable, offsets []float64, steps, stepSeconds int) (map[float64]Branch, error) {
	if err := validateOffsets(offsets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}
	if err := checkSteps(steps, stepSeconds); err != nil {
		return nil, err
	}

	branches := make([]Branch, len(offsets))
	var g errgroup.Group
	for i, offset := range offsets {
		g.Go(func() error {
			b, err := s.SimulateBranch(start, winds, offset, steps, stepSeconds)
			if err != nil {
				return err
			}
			branches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[float64]Branch, len(branches))
	for _, b := range branches {
		out[b.Offset] = b
	}
	return out, nil
}

// SimulateBranch advances a single offset for the given number of steps.
func (s *Simulator) SimulateBranch(start GeoPoint, winds WindTable, offset float64, steps, stepSeconds int) (Branch, error) {
	if err := checkSteps(steps, stepSeconds); err != nil {
		return Branch{}, err
	}

	path := make(Trajectory, 1, steps+1)
	path[0] = start
	trail := make([]Region, 0, steps)

	st := branchState{point: start, region: s.regions.Classify(start)}
	for i := range steps {
		obs, err := winds.Lookup(st.region)
		if err != nil {
			return Branch{}, fmt.Errorf("offset %g step %d: %w", offset, i, err)
		}
		trail = append(trail, st.region)

		next, err := s.advance(st, obs, offset, float64(stepSeconds))
		if err != nil {
			return Branch{}, &DomainError{Offset: offset, Step: i, Point: st.point}
		}
		st = next
		path = append(path, st.point)
	}

	return Branch{Offset: offset, Path: path, Regions: trail, Frozen: st.frozen}, nil
}

// advance applies one step of drift and updates the region lookup. North of
// the freeze latitude the region stops updating for the rest of the branch.
func (s *Simulator) advance(st branchState, obs WindObservation, offset, seconds float64) (branchState, error) {
	p, err := s.displace(st.point, obs, offset, seconds)
	if err != nil {
		return st, err
	}

	next := branchState{point: p, region: st.region, frozen: st.frozen}
	switch {
	case next.frozen:
	case p.Lat > s.cal.FreezeLatitude:
		next.frozen = true
	default:
		next.region = s.regions.Classify(p)
	}
	return next, nil
}

// displace moves p downwind for the given duration.
func (s *Simulator) displace(p GeoPoint, obs WindObservation, offset, seconds float64) (GeoPoint, error) {
	cosLat := math.Cos(degToRad(p.Lat))
	if math.IsNaN(cosLat) || math.Abs(cosLat) < s.cal.CosEpsilon {
		return p, ErrOutsideDomain
	}

	speed := obs.Speed * s.cal.KnotsToMPS
	// Reported direction is where the wind blows from; drift goes the other way.
	bearing := degToRad(normalizeBearing(obs.Direction + offset + 180))

	dx := speed * math.Sin(bearing) * seconds
	dy := speed * math.Cos(bearing) * seconds

	next := GeoPoint{
		Lat: p.Lat + dy/s.cal.MetersPerDegree,
		Lon: p.Lon + dx/(s.cal.MetersPerDegree*cosLat),
	}
	if !finite(next.Lat) || !finite(next.Lon) {
		return p, ErrOutsideDomain
	}
	return next, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalizeBearing folds degrees into [0, 360).
func normalizeBearing(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	return m
}

func checkSteps(steps, stepSeconds int) error {
	if steps < 0 {
		return fmt.Errorf("%w: steps %d", ErrInvalidRun, steps)
	}
	if stepSeconds <= 0 {
		return fmt.Errorf("%w: step seconds %d", ErrInvalidRun, stepSeconds)
	}
	return nil
}

func validateOffsets(offsets []float64) error {
	if len(offsets) == 0 {
		return errors.New("empty offset fan")
	}
	seen := make(map[float64]struct{}, len(offsets))
	for _, o := range offsets {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return fmt.Errorf("offset %g is not finite", o)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("duplicate offset %g", o)
		}
		seen[o] = struct{}{}
	}
	return nil
}
