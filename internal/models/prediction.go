package models

import (
	"errors"
	"math"
	"time"
)

// Prediction records one served attendance forecast for later review.
// RawEstimate is the model output; DisplayEstimate is what users were shown.
// Category may be empty when the dataset has no category column.
type Prediction struct {
	ID              string    `json:"id"`
	ModelID         string    `json:"model_id"`
	Category        string    `json:"category"`
	Month           int       `json:"month"`
	Weekday         int       `json:"weekday"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	RawEstimate     float64   `json:"raw_estimate"`
	DisplayEstimate float64   `json:"display_estimate"`
	HistoricalMean  float64   `json:"historical_mean"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks that all prediction fields are valid
func (p *Prediction) Validate() error {
	if p.ID == "" {
		return errors.New("prediction ID must not be empty")
	}
	if p.ModelID == "" {
		return errors.New("model ID must not be empty")
	}
	if math.IsNaN(p.RawEstimate) || math.IsInf(p.RawEstimate, 0) {
		return errors.New("raw estimate must be a finite number")
	}
	if p.DisplayEstimate < 0 {
		return errors.New("display estimate must not be negative")
	}
	// Display is the raw estimate floored at zero
	if math.Abs(p.DisplayEstimate-math.Max(p.RawEstimate, 0)) > 1e-9 {
		return errors.New("display estimate must equal max(raw estimate, 0)")
	}
	if p.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
