// Package geo matches registered user locations against a point and radius.
package geo

import (
	"errors"
	"math"

	"github.com/localhub/internal/model"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidCoordinates reports whether lat/lng are finite and within range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// DistanceKm is the great-circle distance between two points in kilometres.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	sLat := math.Sin(dLat / 2)
	sLng := math.Sin(dLng / 2)
	h := sLat*sLat + math.Cos(radians(lat1))*math.Cos(radians(lat2))*sLng*sLng
	// rounding can push h marginally above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// UsersWithinRadius returns the ids of candidates whose location is within radiusKm of the origin,
// in candidate order. Candidates without a usable location are skipped.
func UsersWithinRadius(originLat, originLng, radiusKm float64, candidates []model.UserLocation) ([]int64, error) {
	if !ValidCoordinates(originLat, originLng) {
		return nil, ErrInvalidCoordinates
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 {
		return nil, ErrInvalidCoordinates
	}
	out := make([]int64, 0, len(candidates)/4+1)
	for _, c := range candidates {
		if c.Latitude == nil || c.Longitude == nil {
			continue
		}
		if !ValidCoordinates(*c.Latitude, *c.Longitude) {
			continue
		}
		if DistanceKm(originLat, originLng, *c.Latitude, *c.Longitude) <= radiusKm {
			out = append(out, c.UserID)
		}
	}
	return out, nil
}
