package forecast

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrUnknownCategory matches any UnknownCategoryError via errors.Is.
var ErrUnknownCategory = errors.New("unknown category")

// ErrMissingFeature matches any MissingFeatureError via errors.Is.
var ErrMissingFeature = errors.New("missing feature")

// UnknownCategoryError is returned when a category was not present at fit time.
type UnknownCategoryError struct {
	Category string
	Known    []string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q (known: %s)", e.Category, strings.Join(e.Known, ", "))
}

func (e *UnknownCategoryError) Is(target error) bool {
	return target == ErrUnknownCategory
}

// MissingFeatureError is returned when a query omits a feature the model requires.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing feature %q required by the fitted model", e.Feature)
}

func (e *MissingFeatureError) Is(target error) bool {
	return target == ErrMissingFeature
}

// Query describes the event to forecast. Month and Weekday are expected in
// [1,12] and [0,6] but are passed to the model unclamped.
type Query struct {
	Category        string
	Month           int
	Weekday         int // Monday=0
	DurationMinutes *int
}

// Estimate is a predicted attendance. Raw is the unmodified model output and may be negative.
type Estimate struct {
	Raw float64
}

// Display returns the estimate floored at zero for presentation.
func (e Estimate) Display() float64 {
	return math.Max(e.Raw, 0)
}

// Floored reports whether Display differs from Raw.
func (e Estimate) Floored() bool {
	return e.Raw < 0
}

// Direction of a prediction relative to the historical mean
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
	DirectionEqual = "equal"
)

// Comparison relates a prediction to the fit-time mean attendance of its category.
type Comparison struct {
	HistoricalMean float64
	PercentDelta   float64 // NaN when HistoricalMean is zero
	Direction      string
}

// Predict estimates attendance for q. A duration supplied to a model fitted
// without one is ignored.
func (m *Model) Predict(q Query) (Estimate, error) {
	code, err := m.CategoryCode(q.Category)
	if err != nil {
		return Estimate{}, err
	}

	x := []float64{float64(code), float64(q.Month), float64(q.Weekday)}
	if m.UsesDuration() {
		if q.DurationMinutes == nil {
			return Estimate{}, &MissingFeatureError{Feature: FeatureDuration}
		}
		x = append(x, float64(*q.DurationMinutes))
	}

	return Estimate{Raw: m.intercept + floats.Dot(m.coefficients, x)}, nil
}

// CompareToHistoricalAverage compares prediction against the mean attendance of
// category over the records the model was fitted on. Any category accepted by
// Predict has at least one fit-time record, so the unknown-category path is only
// reachable when called without a prior successful Predict.
func (m *Model) CompareToHistoricalAverage(category string, prediction Estimate) (Comparison, error) {
	count, ok := m.categoryCounts[category]
	if !ok || count == 0 {
		return Comparison{}, &UnknownCategoryError{Category: category, Known: m.Categories()}
	}

	mean := m.categoryTotals[category] / float64(count)
	c := Comparison{
		HistoricalMean: mean,
		PercentDelta:   math.NaN(),
		Direction:      DirectionEqual,
	}
	if mean != 0 {
		c.PercentDelta = (prediction.Raw - mean) / mean * 100
	}

	switch {
	case prediction.Raw > mean:
		c.Direction = DirectionAbove
	case prediction.Raw < mean:
		c.Direction = DirectionBelow
	}
	return c, nil
}
