package domain

// Region is one of the four fixed wind-reporting zones.
type Region string

const (
	RegionGaeseong Region = "gaeseong"
	RegionHaeju    Region = "haeju"
	RegionOsan     Region = "osan"
	RegionGwangju  Region = "gwangju"
)

// Regions lists every region in reporting order.
var Regions = []Region{RegionGaeseong, RegionHaeju, RegionOsan, RegionGwangju}

// Valid reports whether r is one of the four known regions.
func (r Region) Valid() bool {
	switch r {
	case RegionGaeseong, RegionHaeju, RegionOsan, RegionGwangju:
		return true
	default:
		return false
	}
}

// GeoPoint is a WGS-84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RegionBounds holds the classification thresholds.
type RegionBounds struct {
	NorthLat float64 `json:"north_lat"` // gaeseong/haeju at or above
	WestLon  float64 `json:"west_lon"`  // haeju strictly below
	SouthLat float64 `json:"south_lat"` // osan at or above, below NorthLat
}

// Classify maps a point to its region. It is total: NaN coordinates fall
// through every comparison and land in gwangju.
func (b RegionBounds) Classify(p GeoPoint) Region {
	switch {
	case p.Lat >= b.NorthLat && p.Lon >= b.WestLon:
		return RegionGaeseong
	case p.Lat >= b.NorthLat && p.Lon < b.WestLon:
		return RegionHaeju
	case p.Lat >= b.SouthLat && p.Lat < b.NorthLat:
		return RegionOsan
	default:
		return RegionGwangju
	}
}

// Classify maps a point to its region using the default bounds.
func Classify(p GeoPoint) Region {
	return defaultRegionBounds.Classify(p)
}

var defaultRegionBounds = RegionBounds{NorthLat: 37.5, WestLon: 126.0, SouthLat: 36.0}
