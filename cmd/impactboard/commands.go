package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/rewired-gh/impactboard/internal/config"
	"github.com/rewired-gh/impactboard/internal/dataset"
	"github.com/rewired-gh/impactboard/internal/forecast"
	"github.com/rewired-gh/impactboard/internal/logger"
	"github.com/rewired-gh/impactboard/internal/models"
	"github.com/rewired-gh/impactboard/internal/report"
	"github.com/rewired-gh/impactboard/internal/source"
	"github.com/rewired-gh/impactboard/internal/storage"
	"github.com/rewired-gh/impactboard/internal/telegram"
)

const dateLayout = "2006-01-02"

// notifier is implemented by *telegram.Client
type notifier interface {
	SendForecast(v report.ForecastView) error
	SendAnnouncement(a models.Announcement) error
}

type app struct {
	cfg *config.Config
	out io.Writer

	// Overridable in tests
	now         func() time.Time
	newNotifier func() (notifier, error)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	if a.now == nil {
		a.now = time.Now
	}
	if a.newNotifier == nil {
		a.newNotifier = a.telegramNotifier
	}

	switch command {
	case "records":
		return a.runRecords(ctx, args)
	case "stats":
		return a.runStats(ctx, args)
	case "quality":
		return a.runQuality(ctx, args)
	case "forecast":
		return a.runForecast(ctx, args)
	case "announce":
		return a.runAnnounce(ctx, args)
	case "announcements":
		return a.runAnnouncements(ctx, args)
	case "history":
		return a.runHistory(ctx, args)
	default:
		return fmt.Errorf("unknown command %q, run with --help for the list of commands", command)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// loadRecords resolves the dataset and normalizes it, printing any warnings
func (a *app) loadRecords(ctx context.Context) (*source.Loaded, dataset.Result, error) {
	resolver := source.NewResolver(a.cfg.Source.Timeout, a.cfg.Source.MaxRetries, a.cfg.Source.RetryDelayBase)
	loaded, err := resolver.Resolve(ctx, a.cfg.Source.Candidates)
	if err != nil {
		return nil, dataset.Result{}, err
	}
	if logger.Enabled(logger.DebugLevel) {
		logger.Debug("Dataset columns: %s", strings.Join(loaded.Columns, ", "))
	}

	normalizer := dataset.NewNormalizer(a.cfg.Forecast.DefaultTicketPrice, a.cfg.Forecast.CostRatio)
	result := normalizer.Normalize(loaded.Rows)
	logger.Info("Normalized %d of %d rows from %s (%d warnings)",
		len(result.Records), len(loaded.Rows), loaded.Origin, len(result.Warnings))

	fmt.Fprint(a.out, report.Warnings(result.Warnings))
	return loaded, result, nil
}

func (a *app) fitModel(ctx context.Context) (*forecast.Model, error) {
	_, result, err := a.loadRecords(ctx)
	if err != nil {
		return nil, err
	}
	m, err := forecast.Fit(result.Records)
	if err != nil {
		return nil, err
	}
	logger.Info("Fitted model %s on %d events", m.ID(), m.Quality().Samples)
	return m, nil
}

func (a *app) openStorage() (*storage.Storage, error) {
	return storage.New(a.cfg.Storage.MaxPredictions, a.cfg.Storage.DBPath)
}

func closeStorage(store *storage.Storage) {
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func (a *app) telegramNotifier() (notifier, error) {
	if !a.cfg.Telegram.Enabled {
		return nil, errors.New("telegram notifications are disabled (set telegram.enabled)")
	}
	client, err := telegram.NewClient(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Telegram.MaxRetries, a.cfg.Telegram.RetryDelayBase)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) runRecords(ctx context.Context, args []string) error {
	fs := newFlagSet("records")
	category := fs.String("category", "", "Only show events of this category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loaded, result, err := a.loadRecords(ctx)
	if err != nil {
		return err
	}

	records := result.Records
	if *category != "" {
		filtered := make([]models.EventRecord, 0, len(records))
		for _, r := range records {
			if r.Category == *category {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	fmt.Fprint(a.out, report.Records(records, dataset.ExtraColumns(loaded.Columns)))
	return nil
}

func (a *app) runStats(ctx context.Context, args []string) error {
	fs := newFlagSet("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, result, err := a.loadRecords(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.Stats(dataset.CategoryStats(result.Records)))
	return nil
}

func (a *app) runQuality(ctx context.Context, args []string) error {
	fs := newFlagSet("quality")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := a.fitModel(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.Quality(m))
	return nil
}

func (a *app) runForecast(ctx context.Context, args []string) error {
	fs := newFlagSet("forecast")
	category := fs.StringP("category", "c", "", "Event category (required)")
	month := fs.IntP("month", "m", int(a.now().Month()), "Month, 1-12")
	weekday := fs.IntP("weekday", "w", models.WeekdayIndex(a.now()), "Weekday, 0=Monday .. 6=Sunday")
	duration := fs.IntP("duration", "d", 0, "Duration in minutes, required when the dataset has durations")
	notify := fs.Bool("notify", false, "Send the forecast to Telegram")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// An empty category is valid for datasets without a category column
	if !fs.Changed("category") {
		return errors.New("--category is required")
	}

	m, err := a.fitModel(ctx)
	if err != nil {
		return err
	}

	q := forecast.Query{Category: *category, Month: *month, Weekday: *weekday}
	if fs.Changed("duration") {
		q.DurationMinutes = duration
	}

	estimate, err := m.Predict(q)
	if err != nil {
		var unknown *forecast.UnknownCategoryError
		if errors.As(err, &unknown) {
			return fmt.Errorf("%w; choose one of: %s", err, strings.Join(unknown.Known, ", "))
		}
		if errors.Is(err, forecast.ErrMissingFeature) {
			return fmt.Errorf("%w; pass --duration", err)
		}
		return err
	}

	comparison, err := m.CompareToHistoricalAverage(q.Category, estimate)
	if err != nil {
		return err
	}

	view := report.ForecastView{
		ModelID:    m.ID(),
		Query:      q,
		Estimate:   estimate,
		Comparison: comparison,
		Quality:    m.Quality(),
	}
	fmt.Fprint(a.out, report.Forecast(view))

	if err := a.logPrediction(ctx, view); err != nil {
		// The forecast was already shown; a failed log entry is not fatal
		logger.Warn("Failed to log forecast: %v", err)
	}

	if *notify {
		n, err := a.newNotifier()
		if err != nil {
			return err
		}
		if err := n.SendForecast(view); err != nil {
			return fmt.Errorf("failed to send forecast: %w", err)
		}
		logger.Info("Forecast sent to Telegram")
	}
	return nil
}

func (a *app) logPrediction(ctx context.Context, v report.ForecastView) error {
	store, err := a.openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	var duration *int
	if v.Query.DurationMinutes != nil {
		d := *v.Query.DurationMinutes
		duration = &d
	}
	return store.AddPrediction(ctx, &models.Prediction{
		ID:              uuid.New().String(),
		ModelID:         v.ModelID,
		Category:        v.Query.Category,
		Month:           v.Query.Month,
		Weekday:         v.Query.Weekday,
		DurationMinutes: duration,
		RawEstimate:     v.Estimate.Raw,
		DisplayEstimate: v.Estimate.Display(),
		HistoricalMean:  v.Comparison.HistoricalMean,
		CreatedAt:       a.now(),
	})
}

func (a *app) runAnnounce(ctx context.Context, args []string) error {
	today := a.now().Format(dateLayout)

	fs := newFlagSet("announce")
	title := fs.StringP("title", "t", "", "Title (required)")
	content := fs.String("content", "", "Message body (required)")
	category := fs.String("category", "General", "One of: "+strings.Join(models.AnnouncementCategories, ", "))
	priority := fs.String("priority", "Medium", "One of: "+strings.Join(models.AnnouncementPriorities, ", "))
	audience := fs.StringSlice("audience", nil, "Target audience, comma separated")
	publish := fs.String("publish", today, "Publish date (YYYY-MM-DD)")
	expiry := fs.String("expiry", "", "Expiry date (YYYY-MM-DD), defaults to one week after publish")
	createdBy := fs.String("by", "", "Author")
	notify := fs.Bool("notify", false, "Also send the announcement to Telegram")
	if err := fs.Parse(args); err != nil {
		return err
	}

	publishDate, err := time.ParseInLocation(dateLayout, *publish, time.Local)
	if err != nil {
		return fmt.Errorf("invalid --publish date: %w", err)
	}
	expiryDate := publishDate.AddDate(0, 0, 7)
	if *expiry != "" {
		expiryDate, err = time.ParseInLocation(dateLayout, *expiry, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --expiry date: %w", err)
		}
	}

	announcement := models.Announcement{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(*title),
		Category:       *category,
		Priority:       *priority,
		Content:        strings.TrimSpace(*content),
		TargetAudience: *audience,
		PublishDate:    publishDate,
		ExpiryDate:     expiryDate,
		CreatedBy:      *createdBy,
		CreatedAt:      a.now(),
	}

	store, err := a.openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	if err := store.AddAnnouncement(ctx, &announcement); err != nil {
		return err
	}
	logger.Info("Announcement %s stored", announcement.ID)
	fmt.Fprint(a.out, report.Announcements([]models.Announcement{announcement}))

	if *notify {
		n, err := a.newNotifier()
		if err != nil {
			return err
		}
		if err := n.SendAnnouncement(announcement); err != nil {
			return fmt.Errorf("failed to send announcement: %w", err)
		}
		logger.Info("Announcement sent to Telegram")
	}
	return nil
}

func (a *app) runAnnouncements(ctx context.Context, args []string) error {
	fs := newFlagSet("announcements")
	all := fs.Bool("all", false, "Include announcements that are not active today")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	var activeAt time.Time
	if !*all {
		activeAt = a.now()
	}
	announcements, err := store.ListAnnouncements(ctx, activeAt)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.Announcements(announcements))
	return nil
}

func (a *app) runHistory(ctx context.Context, args []string) error {
	fs := newFlagSet("history")
	limit := fs.IntP("limit", "n", 20, "Number of forecasts to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	predictions, err := store.GetRecentPredictions(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.History(predictions))
	return nil
}
