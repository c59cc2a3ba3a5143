package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/impactboard/internal/config"
	"github.com/rewired-gh/impactboard/internal/forecast"
	"github.com/rewired-gh/impactboard/internal/models"
	"github.com/rewired-gh/impactboard/internal/report"
)

const eventsCSV = `date,title,category,visitors,ticket_price
2024-06-07,Summer Concert,Concert,100,15
2024-07-13,Harbour Concert,Concert,120,15
2024-01-01,Pottery,Workshop,30,5
2024-02-06,Knitting,Workshop,40,
2024-13-01,Broken,Workshop,10,5
`

type fakeNotifier struct {
	forecasts     []report.ForecastView
	announcements []models.Announcement
}

func (f *fakeNotifier) SendForecast(v report.ForecastView) error {
	f.forecasts = append(f.forecasts, v)
	return nil
}

func (f *fakeNotifier) SendAnnouncement(a models.Announcement) error {
	f.announcements = append(f.announcements, a)
	return nil
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer, *fakeNotifier) {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "events.csv")
	if err := os.WriteFile(csvPath, []byte(eventsCSV), 0o644); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}

	cfg := &config.Config{
		Source: config.SourceConfig{
			Candidates:     []string{filepath.Join(dir, "missing.csv"), csvPath},
			Timeout:        time.Second,
			MaxRetries:     1,
			RetryDelayBase: time.Millisecond,
		},
		Forecast: config.ForecastConfig{DefaultTicketPrice: 10, CostRatio: 0.3},
		Storage:  config.StorageConfig{DBPath: filepath.Join(dir, "impactboard.db"), MaxPredictions: 10},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
	}

	out := &bytes.Buffer{}
	n := &fakeNotifier{}
	a := &app{
		cfg:         cfg,
		out:         out,
		now:         func() time.Time { return time.Date(2024, 7, 1, 10, 0, 0, 0, time.Local) },
		newNotifier: func() (notifier, error) { return n, nil },
	}
	return a, out, n
}

func TestRun_Records(t *testing.T) {
	a, out, _ := newTestApp(t)

	if err := a.run(context.Background(), "records", []string{"--category", "Concert"}); err != nil {
		t.Fatalf("records failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"1 warning(s)", "row dropped", "Events (2)", "Harbour Concert"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Pottery") {
		t.Error("Category filter should hide workshops")
	}
}

func TestRun_StatsAndQuality(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.run(ctx, "stats", nil); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if err := a.run(ctx, "quality", nil); err != nil {
		t.Fatalf("quality failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Categories", "110.0", "Model quality", "Concert, Workshop"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestRun_ForecastLogsAndNotifies(t *testing.T) {
	a, out, n := newTestApp(t)
	ctx := context.Background()

	args := []string{"--category", "Concert", "--month", "6", "--weekday", "4", "--notify"}
	if err := a.run(ctx, "forecast", args); err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if !strings.Contains(out.String(), "Expected visitors") {
		t.Errorf("Expected forecast output, got:\n%s", out.String())
	}
	if len(n.forecasts) != 1 || n.forecasts[0].Query.Category != "Concert" {
		t.Errorf("Expected one forecast notification, got %v", n.forecasts)
	}

	out.Reset()
	if err := a.run(ctx, "history", nil); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out.String(), "Forecast history") || !strings.Contains(out.String(), "Concert") {
		t.Errorf("Expected the forecast to be logged, got:\n%s", out.String())
	}
}

func TestRun_ForecastUnknownCategory(t *testing.T) {
	a, _, _ := newTestApp(t)

	err := a.run(context.Background(), "forecast", []string{"--category", "Opera"})
	if !errors.Is(err, forecast.ErrUnknownCategory) {
		t.Fatalf("Expected ErrUnknownCategory, got %v", err)
	}
	if !strings.Contains(err.Error(), "Concert, Workshop") {
		t.Errorf("Expected known categories in error, got %v", err)
	}
}

func TestRun_ForecastRequiresCategory(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := a.run(context.Background(), "forecast", nil); err == nil {
		t.Error("Expected error without --category")
	}
}

func TestRun_ForecastUncategorizedDataset(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	csvPath := filepath.Join(t.TempDir(), "plain.csv")
	plain := "date,visitors\n2024-06-07,100\n2024-07-13,120\n"
	if err := os.WriteFile(csvPath, []byte(plain), 0o644); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	a.cfg.Source.Candidates = []string{csvPath}

	if err := a.run(ctx, "forecast", []string{"--category", "", "--month", "6", "--weekday", "4"}); err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	store, err := a.openStorage()
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	defer closeStorage(store)
	n, err := store.CountPredictions(ctx)
	if err != nil {
		t.Fatalf("CountPredictions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the uncategorized forecast to be logged, got %d entries\n%s", n, out.String())
	}
}

func TestRun_RecordsShowsDisplayOnlyColumns(t *testing.T) {
	a, out, _ := newTestApp(t)

	csvPath := filepath.Join(t.TempDir(), "venues.csv")
	content := "date,title,category,visitors,venue,organizer,rating\n2024-05-04,Open Stage,Concert,80,Stadthalle,Kulturamt,4.5\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	a.cfg.Source.Candidates = []string{csvPath}

	if err := a.run(context.Background(), "records", nil); err != nil {
		t.Fatalf("records failed: %v", err)
	}
	for _, want := range []string{"Stadthalle", "Kulturamt", "rating", "4.5"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestRun_AnnounceAndList(t *testing.T) {
	a, out, n := newTestApp(t)
	ctx := context.Background()

	args := []string{
		"--title", "Street festival",
		"--content", "Market square closed",
		"--category", "Culture",
		"--priority", "High",
		"--audience", "residents,visitors",
		"--publish", "2024-06-28",
		"--by", "Culture office",
		"--notify",
	}
	if err := a.run(ctx, "announce", args); err != nil {
		t.Fatalf("announce failed: %v", err)
	}
	if len(n.announcements) != 1 || len(n.announcements[0].TargetAudience) != 2 {
		t.Errorf("Expected one announcement notification, got %v", n.announcements)
	}

	expired := []string{"--title", "Old", "--content", "Done", "--publish", "2024-01-01", "--expiry", "2024-01-02"}
	if err := a.run(ctx, "announce", expired); err != nil {
		t.Fatalf("announce failed: %v", err)
	}

	out.Reset()
	if err := a.run(ctx, "announcements", nil); err != nil {
		t.Fatalf("announcements failed: %v", err)
	}
	if !strings.Contains(out.String(), "Announcements (1)") || !strings.Contains(out.String(), "Street festival") {
		t.Errorf("Expected only the active announcement, got:\n%s", out.String())
	}

	out.Reset()
	if err := a.run(ctx, "announcements", []string{"--all"}); err != nil {
		t.Fatalf("announcements --all failed: %v", err)
	}
	if !strings.Contains(out.String(), "Announcements (2)") {
		t.Errorf("Expected both announcements, got:\n%s", out.String())
	}
}

func TestRun_AnnounceRejectsInvalid(t *testing.T) {
	a, _, _ := newTestApp(t)

	if err := a.run(context.Background(), "announce", []string{"--title", "No body"}); err == nil {
		t.Error("Expected error for missing content")
	}
	if err := a.run(context.Background(), "announce", []string{"--title", "x", "--content", "y", "--publish", "01/07/2024"}); err == nil {
		t.Error("Expected error for malformed date")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := a.run(context.Background(), "dance", nil); err == nil {
		t.Error("Expected error for unknown command")
	}
}
