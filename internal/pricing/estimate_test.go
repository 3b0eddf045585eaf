package pricing

import (
	"math"
	"testing"
	"time"
)

func TestRatesForUnknownModelFallsBack(t *testing.T) {
	if RatesFor("some-future-model") != defaultRates {
		t.Error("unknown model should use the default rates")
	}
	if RatesFor("gpt-4o-mini") == defaultRates {
		t.Error("known model should use its table entry")
	}
}

func TestForRun(t *testing.T) {
	e := ForRun("gpt-4o-mini", 1000, 4)

	if e.Remaining != 1000 {
		t.Errorf("Remaining = %d, want 1000", e.Remaining)
	}
	if math.Abs(e.InputCost-0.15) > 1e-9 {
		t.Errorf("InputCost = %v, want 0.15", e.InputCost)
	}
	if math.Abs(e.OutputCost-0.05) > 1e-9 {
		t.Errorf("OutputCost = %v, want 0.05", e.OutputCost)
	}
	if math.Abs(e.TotalCost-0.20) > 1e-9 {
		t.Errorf("TotalCost = %v, want 0.20", e.TotalCost)
	}
	// 1000 images * 0.8s / 4 workers = 200s.
	if e.Duration != 200*time.Second {
		t.Errorf("Duration = %v, want 200s", e.Duration)
	}
}

func TestForRunClampsWorkers(t *testing.T) {
	noWorkers := ForRun("gpt-4o-mini", 10, 0)
	oneWorker := ForRun("gpt-4o-mini", 10, 1)
	if noWorkers.Duration != oneWorker.Duration {
		t.Errorf("workers=0 should behave like workers=1: %v vs %v", noWorkers.Duration, oneWorker.Duration)
	}
}

func TestForRunZeroRemaining(t *testing.T) {
	e := ForRun("gemini-2.0-flash", 0, 8)
	if e.TotalCost != 0 || e.Duration != 0 {
		t.Errorf("zero remaining should cost nothing, got %+v", e)
	}
}

func TestEstimateString(t *testing.T) {
	e := Estimate{InputCost: 1.0, OutputCost: 0.5, TotalCost: 1.5, Duration: 30 * time.Minute}
	want := "~$1.00 (input) + ~$0.50 (output) = ~$1.50, ~30 min"
	if got := e.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
