package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"ridepool/internal/types"
)

// Route is a distance/duration estimate for a published ride.
type Route struct {
	DistanceKm  float64
	DurationMin int
}

// RouteEstimator estimates driving distance and duration for a ride's path.
type RouteEstimator interface {
	Estimate(ctx context.Context, origin, destination types.Point, stops []types.Point) (Route, error)
}

// GoogleEstimator handles interactions with the Google Maps Directions API.
type GoogleEstimator struct {
	client *maps.Client
}

// NewGoogleEstimator creates a GoogleEstimator with the given API key.
func NewGoogleEstimator(apiKey string) (*GoogleEstimator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleEstimator{client: client}, nil
}

func (s *GoogleEstimator) Estimate(ctx context.Context, origin, destination types.Point, stops []types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      formatPoint(origin),
		Destination: formatPoint(destination),
		Mode:        maps.TravelModeDriving,
	}
	for _, s := range stops {
		r.Waypoints = append(r.Waypoints, formatPoint(s))
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("no route found")
	}

	var meters int
	var duration time.Duration
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		duration += leg.Duration
	}
	return Route{
		DistanceKm:  float64(meters) / 1000.0,
		DurationMin: int(duration.Minutes()),
	}, nil
}

func formatPoint(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Offline estimation constants: great-circle distance scaled by a road
// winding factor, at an intercity average speed.
const (
	roadFactor   = 1.3
	avgSpeedKmph = 50.0
)

// HaversineEstimator is the offline fallback used when no API key is configured.
type HaversineEstimator struct{}

func (HaversineEstimator) Estimate(_ context.Context, origin, destination types.Point, stops []types.Point) (Route, error) {
	points := append([]types.Point{origin}, stops...)
	points = append(points, destination)

	var km float64
	for i := 1; i < len(points); i++ {
		km += HaversineKm(points[i-1], points[i])
	}
	km *= roadFactor

	mins := int(km / avgSpeedKmph * 60)
	if mins < 1 {
		mins = 1
	}
	return Route{DistanceKm: km, DurationMin: mins}, nil
}
