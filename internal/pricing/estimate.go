// Package pricing holds rough per-image cost and latency figures for the
// estimate command. Figures are indicative, not billing data.
package pricing

import (
	"fmt"
	"time"
)

// ModelRates holds per-image estimates for one model.
type ModelRates struct {
	InputCost  float64 // USD per image (input tokens)
	OutputCost float64 // USD per image (output tokens)
	Seconds    float64 // Wall time per image at one worker
}

// defaultRates is used for models without a table entry.
var defaultRates = ModelRates{InputCost: 0.0002, OutputCost: 0.00006, Seconds: 1.0}

// rates per model. Update as providers reprice.
var rates = map[string]ModelRates{
	"gpt-4o-mini":      {InputCost: 0.00015, OutputCost: 0.00005, Seconds: 0.8},
	"gpt-4o":           {InputCost: 0.00032, OutputCost: 0.00012, Seconds: 1.0},
	"gemini-1.5-flash": {InputCost: 0.00008, OutputCost: 0.00003, Seconds: 0.5},
	"gemini-2.0-flash": {InputCost: 0.00012, OutputCost: 0.00005, Seconds: 0.6},
	"claude-haiku-4-5": {InputCost: 0.0012, OutputCost: 0.0004, Seconds: 1.0},
}

// RatesFor returns the per-image rates for a model, falling back to a
// conservative default for unknown models.
func RatesFor(model string) ModelRates {
	if r, ok := rates[model]; ok {
		return r
	}
	return defaultRates
}

// Estimate is the projected cost and duration for captioning a number
// of remaining images.
type Estimate struct {
	Remaining  int
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Duration   time.Duration
}

// ForRun projects cost and wall time for captioning remaining images
// with the given model across workers concurrent requests.
func ForRun(model string, remaining, workers int) Estimate {
	if workers < 1 {
		workers = 1
	}
	r := RatesFor(model)
	input := float64(remaining) * r.InputCost
	output := float64(remaining) * r.OutputCost
	seconds := float64(remaining) * r.Seconds / float64(workers)
	return Estimate{
		Remaining:  remaining,
		InputCost:  input,
		OutputCost: output,
		TotalCost:  input + output,
		Duration:   time.Duration(seconds * float64(time.Second)),
	}
}

// String renders the estimate in a human-readable form.
func (e Estimate) String() string {
	return fmt.Sprintf("~$%.2f (input) + ~$%.2f (output) = ~$%.2f, ~%.0f min",
		e.InputCost, e.OutputCost, e.TotalCost, e.Duration.Minutes())
}
