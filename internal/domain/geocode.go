package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// ResolveStart fills in Start for a request that names a site which is not
// one of the reference sites, using forward geocoding. Requests with an
// explicit start, no site, or a reference site are returned unchanged.
func ResolveStart(ctx context.Context, req PredictionRequest, p *Predictor, geocoder Geocoder) (PredictionRequest, error) {
	if req.Start != nil || req.Site == "" {
		return req, nil
	}
	if _, ok := p.Site(req.Site); ok {
		return req, nil
	}
	if geocoder == nil {
		return req, fmt.Errorf("%w: %q", ErrUnknownSite, req.Site)
	}

	result, err := geocoder.ForwardGeocode(ctx, req.Site)
	if err != nil {
		return req, fmt.Errorf("resolve site %q: %w", req.Site, err)
	}
	if result.Lat == 0 && result.Lon == 0 {
		return req, fmt.Errorf("%w: %q", ErrUnknownSite, req.Site)
	}
	req.Start = &GeoPoint{Lat: result.Lat, Lon: result.Lon}
	return req, nil
}

// AnnotateLandings reverse-geocodes the final point of every branch. A nil
// geocoder leaves the forecast untouched; lookup failures are logged and
// recorded on the landing rather than failing the forecast.
func AnnotateLandings(ctx context.Context, f Forecast, geocoder Geocoder, logger *slog.Logger) Forecast {
	if geocoder == nil {
		return f
	}

	branches := make([]ForecastBranch, len(f.Branches))
	copy(branches, f.Branches)
	for i, b := range branches {
		final := b.Final()
		landing := &Landing{Point: final}

		result, err := geocoder.ReverseGeocode(ctx, final.Lat, final.Lon)
		switch {
		case err != nil:
			logger.Warn("reverse geocoding failed",
				"forecast_id", f.ID,
				"offset", b.Offset,
				"lat", final.Lat,
				"lon", final.Lon,
				"error", err,
			)
			landing.GeoSource = "failed"
		case result.FormattedAddress != "":
			landing.PlaceName = result.PlaceName
			landing.FormattedAddress = result.FormattedAddress
			landing.Confidence = result.Confidence
			landing.GeoSource = "reverse"
		default:
			landing.GeoSource = "original"
		}
		branches[i].Landing = landing
	}
	f.Branches = branches
	return f
}
