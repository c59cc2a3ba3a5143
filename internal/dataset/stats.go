package dataset

import (
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/impactboard/internal/models"
)

// CategoryStat holds attendance and revenue figures for one category
type CategoryStat struct {
	Category        string
	EventCount      int
	AvgAttendance   float64
	MaxAttendance   int
	TotalAttendance int
	TotalRevenue    decimal.Decimal
	TotalProfit     decimal.Decimal
}

// CategoryStats computes per-category statistics, categories in first-seen order.
// Records failing Validate are skipped.
func CategoryStats(records []models.EventRecord) []CategoryStat {
	index := make(map[string]int)
	var stats []CategoryStat

	for i := range records {
		record := &records[i]
		if err := record.Validate(); err != nil {
			continue
		}

		pos, exists := index[record.Category]
		if !exists {
			pos = len(stats)
			index[record.Category] = pos
			stats = append(stats, CategoryStat{
				Category:     record.Category,
				TotalRevenue: decimal.Zero,
				TotalProfit:  decimal.Zero,
			})
		}

		s := &stats[pos]
		s.EventCount++
		s.TotalAttendance += record.Attendance
		if record.Attendance > s.MaxAttendance {
			s.MaxAttendance = record.Attendance
		}
		s.TotalRevenue = s.TotalRevenue.Add(record.EstimatedRevenue)
		s.TotalProfit = s.TotalProfit.Add(record.EstimatedProfit)
	}

	for i := range stats {
		stats[i].AvgAttendance = float64(stats[i].TotalAttendance) / float64(stats[i].EventCount)
	}

	if stats == nil {
		return []CategoryStat{}
	}
	return stats
}
