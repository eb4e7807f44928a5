package geo

import (
	"math"
	"testing"

	"github.com/shiva/fastcare/internal/model"
)

func TestHaversineKm_SamePoint(t *testing.T) {
	loc := model.Location{Lat: 28.7041, Lng: 77.1025}
	got := HaversineKm(loc, loc)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Connaught Place to IGI Airport (~16.5 km)
	connaught := model.Location{Lat: 28.6315, Lng: 77.2167}
	igi := model.Location{Lat: 28.5562, Lng: 77.0889}
	got := HaversineKm(connaught, igi)
	wantMin, wantMax := 14.0, 20.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(Connaught→IGI) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

func TestHaversineM(t *testing.T) {
	a := model.Location{Lat: 0, Lng: 0}
	b := model.Location{Lat: 0.001, Lng: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}

func TestEstimateTimeMinutes(t *testing.T) {
	a := model.Location{Lat: 28.7041, Lng: 77.1025}
	b := model.Location{Lat: 28.5562, Lng: 77.0889}
	got := EstimateTimeMinutes(a, b)
	// ~16.5 km at 40 km/h ≈ 25 min
	if got < 20 || got > 30 {
		t.Errorf("EstimateTimeMinutes = %.1f, expected ~25 min", got)
	}
	if got != math.Ceil(got) {
		t.Errorf("EstimateTimeMinutes = %v, want a whole number of minutes", got)
	}
}

func TestEstimateTimeMinutes_Floor(t *testing.T) {
	loc := model.Location{Lat: 12.97, Lng: 77.59}
	if got := EstimateTimeMinutes(loc, loc); got != MinETAMinutes {
		t.Errorf("EstimateTimeMinutes(same point) = %v, want %v", got, MinETAMinutes)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		loc  model.Location
		want bool
	}{
		{model.Location{Lat: 0, Lng: 0}, true},
		{model.Location{Lat: 90, Lng: -180}, true},
		{model.Location{Lat: 91, Lng: 0}, false},
		{model.Location{Lat: 0, Lng: 181}, false},
		{model.Location{Lat: math.NaN(), Lng: 0}, false},
	}
	for _, tt := range cases {
		if got := ValidCoordinates(tt.loc); got != tt.want {
			t.Errorf("ValidCoordinates(%+v) = %v, want %v", tt.loc, got, tt.want)
		}
	}
}
