package provider

import (
	"math"

	"github.com/storyboard/enrich-go/internal/errors"
)

const earthRadiusMeters = 6371000

// haversineMeters returns the great-circle distance between two coordinates.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// errClassIsQuota reports whether an adapter error is a quota exhaustion.
// Quota failures must propagate out of fallback chains unchanged so the run
// controller can defer the whole fetch.
func errClassIsQuota(err error) bool {
	return errors.IsQuota(err)
}
