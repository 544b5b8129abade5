package wwvclock

import "testing"

func TestAdaptiveThresholdDecaysTowardSilence(t *testing.T) {
	th := NewAdaptiveThreshold(0.05, NoiseFloorMin, NoiseFloorMax, TickThresholdMultiplier, TickAdaptUp, TickAdaptDown)
	for i := 0; i < 3000; i++ {
		th.Update(0)
	}
	if th.Baseline() > 1e-3 {
		t.Fatalf("expected baseline to decay toward zero, got %v", th.Baseline())
	}
	if th.Baseline() < NoiseFloorMin {
		t.Fatalf("baseline fell below clamp: %v", th.Baseline())
	}
}

func TestAdaptiveThresholdHysteresis(t *testing.T) {
	th := NewAdaptiveThreshold(0.01, NoiseFloorMin, NoiseFloorMax, 3.0, TickAdaptUp, TickAdaptDown)
	high := th.High()
	low := th.Low()
	if low >= high {
		t.Fatalf("expected low < high, got low=%v high=%v", low, high)
	}
	if low != high*HysteresisRatio {
		t.Fatalf("expected low == high*%v, got %v vs %v", HysteresisRatio, low, high*HysteresisRatio)
	}
}

func TestAdaptiveThresholdClampsToRange(t *testing.T) {
	th := NewAdaptiveThreshold(NoiseFloorMax, NoiseFloorMin, NoiseFloorMax, 3, 0.5, 0.5)
	for i := 0; i < 100; i++ {
		th.Update(1000)
	}
	if th.Baseline() > NoiseFloorMax {
		t.Fatalf("baseline exceeded clamp: %v", th.Baseline())
	}
}
