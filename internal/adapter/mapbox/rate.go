package mapbox

import (
	"context"
	"fmt"

	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimitedGeocoder wraps a Geocoder with a token-bucket limiter shared by
// forward and reverse lookups.
type RateLimitedGeocoder struct {
	inner   domain.Geocoder
	limiter *rate.Limiter
}

// NewRateLimitedGeocoder allows rps requests per second with the given burst.
func NewRateLimitedGeocoder(inner domain.Geocoder, rps float64, burst int) *RateLimitedGeocoder {
	return &RateLimitedGeocoder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedGeocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return r.inner.ForwardGeocode(ctx, query)
}

func (r *RateLimitedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return r.inner.ReverseGeocode(ctx, lat, lon)
}

var (
	_ domain.Geocoder = (*Client)(nil)
	_ domain.Geocoder = (*CachedGeocoder)(nil)
	_ domain.Geocoder = (*RateLimitedGeocoder)(nil)
)
