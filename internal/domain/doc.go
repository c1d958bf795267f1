// Package domain models balloon buoyancy and drift forecasts for the four
// wind-reporting regions along the northern border.
//
// # Regions
//
// Every point maps to exactly one region. Rules are evaluated in order and
// the first match wins:
//
//	lat >= 37.5 and lon >= 126.0   → gaeseong
//	lat >= 37.5 and lon <  126.0   → haeju
//	36.0 <= lat < 37.5             → osan
//	otherwise                      → gwangju
//
// A latitude of exactly 37.5 belongs to the northern pair, not to osan.
//
// # Wind conventions
//
// Directions are degrees the wind is blowing FROM, speeds are knots. Drift
// travels the reciprocal bearing, so a 180° (southerly) wind carries a
// balloon north. Region averages are plain arithmetic means of the reported
// degrees, matching how the similarity baseline was fitted.
//
// # Similarity
//
//	direction = sin(dir)·(-0.6971) + cos(dir)·0.2119
//	speed     = 1 - |speed - 15.888| / 50
//	issue     = 1 when the date is a known issue date, else 0
//	weighted  = 0.5898·speed + 0.2343·direction + 0.1759·issue
//
// Weighted similarity at or above 0.6937 (the historical mean of launch days)
// reads as "launch likely". Results are not clamped: extreme speeds push the
// speed term negative and the probability below zero. All coefficients live
// in [Calibration] and can be replaced from a file.
//
// # Drift
//
// Each member of the offset fan is simulated independently over fixed steps
// (14 × 30 minutes by default) using a flat-earth conversion of
// 111320 m per degree of latitude. Once a branch crosses 38.0°N its region is
// frozen for the rest of that branch, even if it later drifts south again.
// Longitude deltas divide by cos(lat), so positions near the poles fail with
// a [DomainError] instead of diverging.
package domain
