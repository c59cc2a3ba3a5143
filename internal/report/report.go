// Package report renders dashboard data as terminal tables.
//
// Everything here is presentation: values arrive already computed and are
// only formatted. The zero floor on attendance estimates is applied here and
// nowhere else.
package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/impactboard/internal/dataset"
	"github.com/rewired-gh/impactboard/internal/forecast"
	"github.com/rewired-gh/impactboard/internal/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	noteStyle   = lipgloss.NewStyle().Faint(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

const notAvailable = "n/a"

var decimalHundred = decimal.NewFromInt(100)

// ForecastView bundles everything shown for one forecast
type ForecastView struct {
	ModelID    string
	Query      forecast.Query
	Estimate   forecast.Estimate
	Comparison forecast.Comparison
	Quality    forecast.Quality
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func section(title, body string) string {
	return titleStyle.Render(title) + "\n" + body + "\n"
}

// Records renders normalized event records. ROI is shown as profit over cost.
// extraColumns names unrecognized source columns to show from EventRecord.Extra.
func Records(records []models.EventRecord, extraColumns []string) string {
	if len(records) == 0 {
		return noteStyle.Render("No events to show.") + "\n"
	}

	headers := []string{"Date", "Title", "Category", "Venue", "Organizer", "Visitors", "Ticket", "Revenue", "Profit", "ROI", "Season"}
	t := newTable(append(headers, extraColumns...)...)
	for i := range records {
		r := &records[i]
		row := []string{
			r.Date.Format("2006-01-02"),
			r.Title,
			r.Category,
			r.Venue,
			r.Organizer,
			strconv.Itoa(r.Attendance),
			r.TicketPrice.StringFixed(2),
			r.EstimatedRevenue.StringFixed(2),
			r.EstimatedProfit.StringFixed(2),
			formatROI(r),
			string(r.Season),
		}
		for _, column := range extraColumns {
			row = append(row, r.Extra[column])
		}
		t.Row(row...)
	}
	return section(fmt.Sprintf("Events (%d)", len(records)), t.String())
}

func formatROI(r *models.EventRecord) string {
	roi, ok := r.EstimatedROI()
	if !ok {
		return notAvailable
	}
	return roi.Mul(decimalHundred).StringFixed(1) + "%"
}

// Stats renders per-category statistics
func Stats(stats []dataset.CategoryStat) string {
	if len(stats) == 0 {
		return noteStyle.Render("No categories to show.") + "\n"
	}

	t := newTable("Category", "Events", "Avg visitors", "Max visitors", "Total visitors", "Revenue", "Profit")
	for _, s := range stats {
		t.Row(
			s.Category,
			strconv.Itoa(s.EventCount),
			strconv.FormatFloat(s.AvgAttendance, 'f', 1, 64),
			strconv.Itoa(s.MaxAttendance),
			strconv.Itoa(s.TotalAttendance),
			s.TotalRevenue.StringFixed(2),
			s.TotalProfit.StringFixed(2),
		)
	}
	return section("Categories", t.String())
}

// Quality renders the in-sample fit metrics of a model
func Quality(m *forecast.Model) string {
	q := m.Quality()
	t := newTable("Metric", "Value")
	t.Row("R² (in-sample)", FormatRSquared(q.RSquared))
	t.Row("Features", fmt.Sprintf("%d (%s)", q.FeatureCount, strings.Join(m.Features(), ", ")))
	t.Row("Training events", strconv.Itoa(q.Samples))
	t.Row("Fitted at", m.FittedAt().Format("2006-01-02 15:04:05"))
	t.Row("Categories", strings.Join(m.Categories(), ", "))

	note := noteStyle.Render("R² describes how well the model reproduces its own training data, not future events.")
	return section("Model quality", t.String()) + note + "\n"
}

// Forecast renders a single forecast with its historical comparison
func Forecast(v ForecastView) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Attendance forecast"))
	b.WriteString("\n")

	t := newTable("Input", "Value")
	t.Row("Category", v.Query.Category)
	t.Row("Month", strconv.Itoa(v.Query.Month))
	t.Row("Weekday", WeekdayName(v.Query.Weekday))
	if v.Query.DurationMinutes != nil {
		t.Row("Duration", fmt.Sprintf("%d min", *v.Query.DurationMinutes))
	}
	b.WriteString(t.String())
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Expected visitors: %s\n", FormatEstimate(v.Estimate))
	if v.Estimate.Floored() {
		b.WriteString(warnStyle.Render(fmt.Sprintf("Model output %.1f was below zero and is shown as 0.", v.Estimate.Raw)))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Historical average for %s: %.1f (%s, %s)\n",
		v.Query.Category, v.Comparison.HistoricalMean, FormatDelta(v.Comparison.PercentDelta), v.Comparison.Direction)
	fmt.Fprintf(&b, "Model R²: %s over %d events\n", FormatRSquared(v.Quality.RSquared), v.Quality.Samples)

	return b.String()
}

// Announcements renders community announcements
func Announcements(announcements []models.Announcement) string {
	if len(announcements) == 0 {
		return noteStyle.Render("No announcements.") + "\n"
	}

	t := newTable("Published", "Expires", "Priority", "Category", "Title", "Audience", "By")
	for i := range announcements {
		a := &announcements[i]
		t.Row(
			a.PublishDate.Format("2006-01-02"),
			a.ExpiryDate.Format("2006-01-02"),
			a.Priority,
			a.Category,
			a.Title,
			strings.Join(a.TargetAudience, ", "),
			a.CreatedBy,
		)
	}
	return section(fmt.Sprintf("Announcements (%d)", len(announcements)), t.String())
}

// History renders logged predictions
func History(predictions []models.Prediction) string {
	if len(predictions) == 0 {
		return noteStyle.Render("No forecasts logged yet.") + "\n"
	}

	t := newTable("Time", "Category", "Month", "Weekday", "Duration", "Forecast", "Raw", "Hist. avg")
	for i := range predictions {
		p := &predictions[i]
		duration := "-"
		if p.DurationMinutes != nil {
			duration = strconv.Itoa(*p.DurationMinutes)
		}
		t.Row(
			p.CreatedAt.Format("2006-01-02 15:04"),
			p.Category,
			strconv.Itoa(p.Month),
			WeekdayName(p.Weekday),
			duration,
			strconv.FormatFloat(math.Round(p.DisplayEstimate), 'f', 0, 64),
			strconv.FormatFloat(p.RawEstimate, 'f', 1, 64),
			strconv.FormatFloat(p.HistoricalMean, 'f', 1, 64),
		)
	}
	return section("Forecast history", t.String())
}

// Warnings renders normalization warnings, one per line
func Warnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(warnStyle.Render(fmt.Sprintf("%d warning(s) while reading the dataset:", len(warnings))))
	b.WriteString("\n")
	for _, w := range warnings {
		b.WriteString("  - " + w + "\n")
	}
	return b.String()
}

// FormatEstimate returns the display value of e rounded to whole visitors
func FormatEstimate(e forecast.Estimate) string {
	return strconv.FormatFloat(math.Round(e.Display()), 'f', 0, 64)
}

// FormatRSquared formats an R² value, "n/a" when undefined
func FormatRSquared(r2 float64) string {
	if math.IsNaN(r2) {
		return notAvailable
	}
	return strconv.FormatFloat(r2, 'f', 3, 64)
}

// FormatDelta formats a signed percentage, "n/a" when undefined
func FormatDelta(pct float64) string {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return notAvailable
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayName names a Monday=0 weekday index
func WeekdayName(i int) string {
	if i < 0 || i >= len(weekdays) {
		return strconv.Itoa(i)
	}
	return weekdays[i]
}
