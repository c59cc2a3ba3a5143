// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats attendance forecasts and community announcements into MarkdownV2
// messages and handles delivery with retry logic.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/impactboard/internal/forecast"
	"github.com/rewired-gh/impactboard/internal/logger"
	"github.com/rewired-gh/impactboard/internal/models"
	"github.com/rewired-gh/impactboard/internal/report"
)

// sender is the subset of tgbotapi.BotAPI used by Client
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendForecast sends a forecast summary
func (c *Client) SendForecast(v report.ForecastView) error {
	return c.send(formatForecast(v))
}

// SendAnnouncement sends a community announcement
func (c *Client) SendAnnouncement(a models.Announcement) error {
	return c.send(formatAnnouncement(a))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatForecast formats a forecast into a Telegram message
func formatForecast(v report.ForecastView) string {
	var b strings.Builder

	b.WriteString("📊 *Attendance Forecast*\n\n")
	fmt.Fprintf(&b, "🏷 Category: %s\n", escapeMarkdownV2(v.Query.Category))
	fmt.Fprintf(&b, "📅 Month %s, %s\n",
		escapeMarkdownV2(strconv.Itoa(v.Query.Month)),
		escapeMarkdownV2(report.WeekdayName(v.Query.Weekday)))
	if v.Query.DurationMinutes != nil {
		fmt.Fprintf(&b, "⏱ Duration: %s min\n", escapeMarkdownV2(strconv.Itoa(*v.Query.DurationMinutes)))
	}

	fmt.Fprintf(&b, "\n👥 Expected visitors: *%s*\n", escapeMarkdownV2(report.FormatEstimate(v.Estimate)))

	directionEmoji := "➖"
	switch v.Comparison.Direction {
	case forecast.DirectionAbove:
		directionEmoji = "📈"
	case forecast.DirectionBelow:
		directionEmoji = "📉"
	}
	fmt.Fprintf(&b, "%s Historical average: %s \\(%s\\)\n", directionEmoji,
		escapeMarkdownV2(strconv.FormatFloat(v.Comparison.HistoricalMean, 'f', 1, 64)),
		escapeMarkdownV2(report.FormatDelta(v.Comparison.PercentDelta)))
	fmt.Fprintf(&b, "🎯 Model R²: %s over %s events\n",
		escapeMarkdownV2(report.FormatRSquared(v.Quality.RSquared)),
		escapeMarkdownV2(strconv.Itoa(v.Quality.Samples)))

	return b.String()
}

var priorityEmoji = map[string]string{
	"Low":    "🔹",
	"Medium": "🔸",
	"High":   "⚠️",
	"Urgent": "🚨",
}

// formatAnnouncement formats an announcement into a Telegram message
func formatAnnouncement(a models.Announcement) string {
	var b strings.Builder

	emoji, ok := priorityEmoji[a.Priority]
	if !ok {
		emoji = "📢"
	}
	fmt.Fprintf(&b, "%s *%s*\n", emoji, escapeMarkdownV2(a.Title))
	fmt.Fprintf(&b, "_%s · %s_\n\n", escapeMarkdownV2(a.Category), escapeMarkdownV2(a.Priority))
	b.WriteString(escapeMarkdownV2(a.Content))
	b.WriteString("\n\n")

	if len(a.TargetAudience) > 0 {
		fmt.Fprintf(&b, "👥 For: %s\n", escapeMarkdownV2(strings.Join(a.TargetAudience, ", ")))
	}
	fmt.Fprintf(&b, "📅 %s – %s\n",
		escapeMarkdownV2(a.PublishDate.Format("2006-01-02")),
		escapeMarkdownV2(a.ExpiryDate.Format("2006-01-02")))
	if a.CreatedBy != "" {
		fmt.Fprintf(&b, "✍️ %s\n", escapeMarkdownV2(a.CreatedBy))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
