package domain

import (
	"errors"
	"fmt"
)

// ErrMissingWind is returned when a region has no wind observation.
var ErrMissingWind = errors.New("missing wind observation")

// WindObservation is a single regional report: direction the wind blows
// from in degrees, speed in knots.
type WindObservation struct {
	Direction float64 `json:"direction"`
	Speed     float64 `json:"speed"`
}

// WindTable holds one observation per region. It is read-only once a
// simulation starts.
type WindTable map[Region]WindObservation

// Lookup returns the observation for r or an ErrMissingWind error.
func (w WindTable) Lookup(r Region) (WindObservation, error) {
	obs, ok := w[r]
	if !ok {
		return WindObservation{}, fmt.Errorf("%w: %s", ErrMissingWind, r)
	}
	return obs, nil
}

// Validate checks that every region is reported and no unknown region is.
// Values themselves are not range-checked.
func (w WindTable) Validate() error {
	for r := range w {
		if !r.Valid() {
			return fmt.Errorf("unknown region %q", r)
		}
	}
	for _, r := range Regions {
		if _, ok := w[r]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingWind, r)
		}
	}
	return nil
}

// Average returns the arithmetic mean direction and speed over the known
// regions in the table. Directions are averaged as plain numbers, not as
// angles, so 350° and 10° average to 180°. A table without known regions
// averages to zero.
func (w WindTable) Average() (direction, speed float64) {
	// Fixed region order keeps the float sum independent of map iteration.
	var n float64
	for _, r := range Regions {
		obs, ok := w[r]
		if !ok {
			continue
		}
		direction += obs.Direction
		speed += obs.Speed
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return direction / n, speed / n
}
