// Package models defines the core domain entities for the impact dashboard.
// These models represent normalized event records, community announcements, and
// logged attendance forecasts. All models include built-in validation to ensure
// data integrity throughout the application.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Season is the calendar season an event falls into.
type Season string

const (
	Winter Season = "Winter"
	Spring Season = "Spring"
	Summer Season = "Summer"
	Autumn Season = "Autumn"
)

// SeasonForMonth maps a month to its season (Dec–Feb Winter, Mar–May Spring,
// Jun–Aug Summer, Sep–Nov Autumn).
func SeasonForMonth(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Autumn
	}
}

// WeekdayIndex returns the weekday of t with Monday=0 and Sunday=6.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Row is one loosely-typed input row keyed by source column name.
// Values are strings, numbers, time.Time, or nil.
type Row map[string]any

// EventRecord is a normalized, dated activity entry.
//
// The calendar and financial fields are derived once by Derive and never
// recomputed; DurationMinutes is nil when the source had no usable duration.
type EventRecord struct {
	Date            time.Time         `json:"date"`
	Title           string            `json:"title"`
	Category        string            `json:"category"`
	Attendance      int               `json:"attendance"`
	TicketPrice     decimal.Decimal   `json:"ticket_price"`
	DurationMinutes *int              `json:"duration_minutes,omitempty"`
	Venue           string            `json:"venue,omitempty"`
	Organizer       string            `json:"organizer,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"` // Unrecognized source columns, display only

	Month            int             `json:"month"`   // 1–12
	Weekday          int             `json:"weekday"` // 0–6, Monday=0
	Year             int             `json:"year"`
	Season           Season          `json:"season"`
	EstimatedRevenue decimal.Decimal `json:"estimated_revenue"`
	EstimatedCost    decimal.Decimal `json:"estimated_cost"`
	EstimatedProfit  decimal.Decimal `json:"estimated_profit"`
}

// Derive fills the calendar and financial fields from Date, Attendance and TicketPrice.
// costRatio is the share of revenue assumed to be spent on the event.
func (e *EventRecord) Derive(costRatio decimal.Decimal) {
	e.Month = int(e.Date.Month())
	e.Weekday = WeekdayIndex(e.Date)
	e.Year = e.Date.Year()
	e.Season = SeasonForMonth(e.Date.Month())

	e.EstimatedRevenue = decimal.NewFromInt(int64(e.Attendance)).Mul(e.TicketPrice)
	e.EstimatedCost = e.EstimatedRevenue.Mul(costRatio)
	e.EstimatedProfit = e.EstimatedRevenue.Sub(e.EstimatedCost)
}

// EstimatedROI returns profit divided by cost. ok is false when cost is zero.
func (e *EventRecord) EstimatedROI() (roi decimal.Decimal, ok bool) {
	if e.EstimatedCost.IsZero() {
		return decimal.Zero, false
	}
	return e.EstimatedProfit.Div(e.EstimatedCost), true
}

// HasDuration reports whether the record carries a duration value.
func (e *EventRecord) HasDuration() bool {
	return e.DurationMinutes != nil
}

// Validate checks that the record can be used for fitting a forecast.
func (e *EventRecord) Validate() error {
	if e.Date.IsZero() {
		return errors.New("event date must be set")
	}
	if e.Attendance < 0 {
		return errors.New("attendance must not be negative")
	}
	if e.TicketPrice.IsNegative() {
		return errors.New("ticket price must not be negative")
	}
	if e.DurationMinutes != nil && *e.DurationMinutes < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}
