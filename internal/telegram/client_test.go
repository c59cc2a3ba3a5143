package telegram

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/impactboard/internal/forecast"
	"github.com/rewired-gh/impactboard/internal/models"
	"github.com/rewired-gh/impactboard/internal/report"
)

type fakeSender struct {
	failures int
	calls    int
	last     tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.last = msg
	}
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	return tgbotapi.Message{}, nil
}

func mustClient(t *testing.T, bot sender, maxRetries int) *Client {
	t.Helper()
	c, err := newClient(bot, "12345", maxRetries, time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func testView() report.ForecastView {
	return report.ForecastView{
		ModelID:    "m-1",
		Query:      forecast.Query{Category: "Open-Air Concert", Month: 6, Weekday: 4},
		Estimate:   forecast.Estimate{Raw: 102.5},
		Comparison: forecast.Comparison{HistoricalMean: 110, PercentDelta: -6.8, Direction: forecast.DirectionBelow},
		Quality:    forecast.Quality{RSquared: 0.9957, FeatureCount: 3, Samples: 4},
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain text", "plain text"},
		{"3.5", "3\\.5"},
		{"(a-b)!", "\\(a\\-b\\)\\!"},
		{"snake_case *bold*", "snake\\_case \\*bold\\*"},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		result := escapeMarkdownV2(tt.input)
		if result != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatForecast(t *testing.T) {
	msg := formatForecast(testView())

	for _, want := range []string{"Open\\-Air Concert", "Friday", "*103*", "110\\.0", "\\-6\\.8%", "📉", "0\\.996"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestFormatForecast_OutOfRangeInputs(t *testing.T) {
	v := testView()
	duration := -30
	v.Query.Month = -1
	v.Query.Weekday = 9
	v.Query.DurationMinutes = &duration

	msg := formatForecast(v)
	for _, want := range []string{"Month \\-1, 9", "Duration: \\-30 min"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, " -") {
		t.Errorf("Expected every minus sign to be escaped, got:\n%s", msg)
	}
}

func TestFormatForecast_FloorsAndUndefined(t *testing.T) {
	v := testView()
	v.Estimate = forecast.Estimate{Raw: -20}
	v.Comparison.PercentDelta = math.NaN()
	v.Quality.RSquared = math.NaN()

	msg := formatForecast(v)
	if !strings.Contains(msg, "*0*") {
		t.Errorf("Expected floored estimate, got:\n%s", msg)
	}
	if !strings.Contains(msg, "n/a") {
		t.Errorf("Expected n/a for undefined values, got:\n%s", msg)
	}
}

func TestFormatAnnouncement(t *testing.T) {
	publish := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	msg := formatAnnouncement(models.Announcement{
		Title:          "Road closed!",
		Category:       "District",
		Priority:       "Urgent",
		Content:        "Main St. closed (repairs).",
		TargetAudience: []string{"residents"},
		PublishDate:    publish,
		ExpiryDate:     publish.AddDate(0, 0, 2),
		CreatedBy:      "District office",
	})

	for _, want := range []string{"🚨", "*Road closed\\!*", "Main St\\. closed \\(repairs\\)\\.", "residents", "2024\\-07\\-03"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	bot := &fakeSender{failures: 2}
	c := mustClient(t, bot, 3)

	if err := c.SendForecast(testView()); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", bot.calls)
	}
	if bot.last.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("Expected MarkdownV2 parse mode, got %s", bot.last.ParseMode)
	}
	if bot.last.ChatID != 12345 {
		t.Errorf("Expected chat ID 12345, got %d", bot.last.ChatID)
	}
}

func TestSend_GivesUp(t *testing.T) {
	bot := &fakeSender{failures: 10}
	c := mustClient(t, bot, 2)

	err := c.SendAnnouncement(models.Announcement{Title: "x", Content: "y"})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if bot.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", bot.calls)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeSender{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}
