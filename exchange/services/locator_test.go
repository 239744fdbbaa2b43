package services

import (
	"math"
	"testing"
)

func TestLocatorDistance(t *testing.T) {
	loc := NewLocatorService()
	loc.Update(1, Position{X: 0, Y: 0, Z: 0})
	loc.Update(2, Position{X: 3, Y: 4, Z: 0})

	d, err := loc.Distance(1, 2)
	if err != nil {
		t.Fatalf("Distance() error = %v", err)
	}
	if math.Abs(d-5.0) > 1e-9 {
		t.Errorf("distance = %v, want 5", d)
	}
}

func TestLocatorDistance_UnknownPlayer(t *testing.T) {
	loc := NewLocatorService()
	loc.Update(1, Position{})

	if _, err := loc.Distance(1, 2); err == nil {
		t.Error("Distance() error = nil, want error for unknown player")
	}

	loc.Update(2, Position{})
	loc.Forget(2)
	if _, err := loc.Distance(1, 2); err == nil {
		t.Error("Distance() error = nil, want error after Forget")
	}
}
