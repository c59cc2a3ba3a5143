// Package dataset turns loosely-typed tabular rows into normalized event records.
//
// Column names are matched against a fixed synonym table (exact, case-sensitive).
// Rows that cannot yield a date or an attendance figure are dropped with a warning;
// a single bad row never aborts the batch. Unrecognized columns are kept on the
// record for display.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/impactboard/internal/models"
)

// Canonical field names
const (
	FieldDate            = "date"
	FieldTitle           = "title"
	FieldCategory        = "category"
	FieldAttendance      = "attendance"
	FieldTicketPrice     = "ticket_price"
	FieldVenue           = "venue"
	FieldOrganizer       = "organizer"
	FieldDurationMinutes = "duration_minutes"
)

// Synonyms maps source column names to canonical field names.
var Synonyms = map[string]string{
	"date":         FieldDate,
	"title":        FieldTitle,
	"category":     FieldCategory,
	"visitors":     FieldAttendance,
	"ticket_price": FieldTicketPrice,
	"venue":        FieldVenue,
	"organizer":    FieldOrganizer,
	"duration_min": FieldDurationMinutes,
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02.01.2006",
	"2006/01/02",
}

// ParseError describes a value that could not be interpreted in one input row.
type ParseError struct {
	Row    int // 0-based index into the input
	Column string
	Value  any
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: column %q value %v: %s", e.Row, e.Column, e.Value, e.Reason)
}

// Result is the outcome of normalizing one batch of rows.
type Result struct {
	Records  []models.EventRecord
	Warnings []string
	// HasDuration is true when the source carried a duration column at all.
	HasDuration bool
}

// Normalizer holds the assumptions applied while normalizing.
type Normalizer struct {
	DefaultTicketPrice decimal.Decimal
	CostRatio          decimal.Decimal
}

// NewNormalizer creates a Normalizer from configured fallback values.
func NewNormalizer(defaultTicketPrice, costRatio float64) *Normalizer {
	return &Normalizer{
		DefaultTicketPrice: decimal.NewFromFloat(defaultTicketPrice),
		CostRatio:          decimal.NewFromFloat(costRatio),
	}
}

// Normalize maps rows onto EventRecords. It never fails: malformed rows become warnings.
func (n *Normalizer) Normalize(rows []models.Row) Result {
	result := Result{
		Records:  make([]models.EventRecord, 0, len(rows)),
		Warnings: []string{},
	}

	for _, row := range rows {
		if _, ok := row["duration_min"]; ok {
			result.HasDuration = true
			break
		}
	}

	for i, row := range rows {
		record, warnings, err := n.normalizeRow(i, row, result.HasDuration)
		for _, w := range warnings {
			result.Warnings = append(result.Warnings, w.Error())
		}
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error()+" (row dropped)")
			continue
		}
		result.Records = append(result.Records, record)
	}

	return result
}

// normalizeRow returns the record, recoverable warnings, and a fatal ParseError when
// the row must be dropped.
func (n *Normalizer) normalizeRow(index int, row models.Row, withDuration bool) (models.EventRecord, []*ParseError, *ParseError) {
	var record models.EventRecord
	var warnings []*ParseError

	fields := make(map[string]any, len(row))
	for column, value := range row {
		canonical, ok := Synonyms[column]
		if !ok {
			if s, present := text(value); present {
				if record.Extra == nil {
					record.Extra = make(map[string]string)
				}
				record.Extra[column] = s
			}
			continue
		}
		fields[canonical] = value
	}

	date, reason := parseDate(fields[FieldDate])
	if reason != "" {
		return record, warnings, &ParseError{Row: index, Column: "date", Value: fields[FieldDate], Reason: reason}
	}
	record.Date = date

	attendance, reason := parseCount(fields[FieldAttendance])
	if reason != "" {
		return record, warnings, &ParseError{Row: index, Column: "visitors", Value: fields[FieldAttendance], Reason: reason}
	}
	record.Attendance = attendance

	record.Title, _ = text(fields[FieldTitle])
	record.Category, _ = text(fields[FieldCategory])
	record.Venue, _ = text(fields[FieldVenue])
	record.Organizer, _ = text(fields[FieldOrganizer])

	record.TicketPrice = n.DefaultTicketPrice
	if raw, present := fields[FieldTicketPrice]; present && !isBlank(raw) {
		price, reason := parseDecimal(raw)
		switch {
		case reason != "":
			warnings = append(warnings, &ParseError{Row: index, Column: "ticket_price", Value: raw, Reason: reason + ", using default"})
		case price.IsNegative():
			warnings = append(warnings, &ParseError{Row: index, Column: "ticket_price", Value: raw, Reason: "negative price, using default"})
		default:
			record.TicketPrice = price
		}
	}

	if withDuration {
		raw := fields[FieldDurationMinutes]
		duration, reason := parseCount(raw)
		if reason != "" {
			warnings = append(warnings, &ParseError{Row: index, Column: "duration_min", Value: raw, Reason: reason})
		} else {
			record.DurationMinutes = &duration
		}
	}

	record.Derive(n.CostRatio)
	return record, warnings, nil
}

// ExtraColumns returns the columns, in source order, that no synonym maps to.
// Their values end up in EventRecord.Extra.
func ExtraColumns(columns []string) []string {
	extra := make([]string, 0, len(columns))
	for _, column := range columns {
		if _, ok := Synonyms[column]; !ok {
			extra = append(extra, column)
		}
	}
	return extra
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// text renders a value as display text; present is false for nil or blank values.
func text(v any) (string, bool) {
	if isBlank(v) {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case time.Time:
		return val.Format("2006-01-02"), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return fmt.Sprint(val), true
	}
}

func parseDate(v any) (time.Time, string) {
	if isBlank(v) {
		return time.Time{}, "missing date"
	}
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, "zero date"
		}
		return val, ""
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, ""
			}
		}
		return time.Time{}, "unrecognized date format"
	default:
		return time.Time{}, fmt.Sprintf("unsupported date type %T", v)
	}
}

// parseNumber accepts numeric Go values and numeric strings.
func parseNumber(v any) (float64, string) {
	if isBlank(v) {
		return 0, "missing value"
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, "not a number"
		}
		f = parsed
	default:
		return 0, fmt.Sprintf("unsupported number type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, "not a finite number"
	}
	return f, ""
}

// parseCount parses a non-negative whole number.
func parseCount(v any) (int, string) {
	f, reason := parseNumber(v)
	if reason != "" {
		return 0, reason
	}
	if f < 0 {
		return 0, "must not be negative"
	}
	if f != math.Trunc(f) {
		return 0, "must be a whole number"
	}
	if f > math.MaxInt32 {
		return 0, "out of range"
	}
	return int(f), ""
}

func parseDecimal(v any) (decimal.Decimal, string) {
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, "not a number"
		}
		return d, ""
	}
	f, reason := parseNumber(v)
	if reason != "" {
		return decimal.Zero, reason
	}
	return decimal.NewFromFloat(f), ""
}
