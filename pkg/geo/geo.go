// Package geo provides geographic helpers for ETA estimation.
//
// Distances use the Haversine formula on WGS-84 coordinates. Travel time is
// estimated from a constant average ambulance speed; it seeds the ETA when a
// dispatcher does not provide one and is always overridden by later
// authoritative updates.
package geo

import (
	"math"

	"github.com/shiva/fastcare/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// AverageSpeedKmph is the assumed average urban ambulance speed.
	AverageSpeedKmph = 40.0

	// MinETAMinutes keeps estimates from reading "0 min" while the vehicle
	// is still some metres away.
	MinETAMinutes = 1.0
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLng*sinLng

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.Location) float64 {
	return HaversineKm(a, b) * 1000.0
}

// ─── Time ───────────────────────────────────────────────────

// EstimateTimeMinutes returns the estimated direct travel time between two
// points in minutes, rounded up to whole minutes and never below MinETAMinutes.
func EstimateTimeMinutes(from, to model.Location) float64 {
	minutes := (HaversineKm(from, to) / AverageSpeedKmph) * 60.0
	return math.Max(MinETAMinutes, math.Ceil(minutes))
}

// ValidCoordinates reports whether loc is a plausible WGS-84 point.
func ValidCoordinates(loc model.Location) bool {
	if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) {
		return false
	}
	return loc.Lat >= -90 && loc.Lat <= 90 && loc.Lng >= -180 && loc.Lng <= 180
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
