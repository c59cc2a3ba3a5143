// Package storage persists announcements and the forecast log in SQLite.
// Announcements are append-only. The forecast log is rotated so it never
// holds more than the configured number of predictions.
//
// Storage is safe for concurrent use. Pass ":memory:" as the path for an
// ephemeral database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/impactboard/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS announcements (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	category        TEXT NOT NULL,
	priority        TEXT NOT NULL,
	content         TEXT NOT NULL,
	target_audience TEXT NOT NULL,
	publish_date    INTEGER NOT NULL,
	expiry_date     INTEGER NOT NULL,
	created_by      TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_announcements_window ON announcements(publish_date, expiry_date);

CREATE TABLE IF NOT EXISTS predictions (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	model_id         TEXT NOT NULL,
	category         TEXT NOT NULL,
	month            INTEGER NOT NULL,
	weekday          INTEGER NOT NULL,
	duration_minutes INTEGER,
	raw_estimate     REAL NOT NULL,
	display_estimate REAL NOT NULL,
	historical_mean  REAL NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
`

// Storage wraps the SQLite database
type Storage struct {
	db *sql.DB
	mu sync.Mutex // serializes insert+rotate

	maxPredictions int
}

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(maxPredictions int, dbPath string) (*Storage, error) {
	if maxPredictions <= 0 {
		return nil, fmt.Errorf("max predictions must be positive, got %d", maxPredictions)
	}
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "impactboard", "impactboard.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{db: db, maxPredictions: maxPredictions}, nil
}

// Close releases the database handle
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddAnnouncement appends an announcement. IDs must be unique.
func (s *Storage) AddAnnouncement(ctx context.Context, a *models.Announcement) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid announcement: %w", err)
	}

	audience, err := json.Marshal(a.TargetAudience)
	if err != nil {
		return fmt.Errorf("failed to marshal target audience: %w", err)
	}

	const q = `INSERT INTO announcements
		(id, title, category, priority, content, target_audience, publish_date, expiry_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		a.ID, a.Title, a.Category, a.Priority, a.Content, string(audience),
		a.PublishDate.UnixNano(), a.ExpiryDate.UnixNano(), a.CreatedBy, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert announcement %s: %w", a.ID, err)
	}
	return nil
}

// GetAnnouncement retrieves an announcement by ID
func (s *Storage) GetAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	const q = `SELECT id, title, category, priority, content, target_audience,
		publish_date, expiry_date, created_by, created_at
		FROM announcements WHERE id = ?`
	a, err := scanAnnouncement(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("announcement %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get announcement %s: %w", id, err)
	}
	return a, nil
}

// ListAnnouncements returns announcements oldest first. A non-zero activeAt
// restricts the result to announcements active on that day.
func (s *Storage) ListAnnouncements(ctx context.Context, activeAt time.Time) ([]models.Announcement, error) {
	const q = `SELECT id, title, category, priority, content, target_audience,
		publish_date, expiry_date, created_by, created_at
		FROM announcements ORDER BY created_at, seq`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	defer rows.Close()

	announcements := make([]models.Announcement, 0)
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		// Day-granular window check stays in Go so it honors the stored location
		if !activeAt.IsZero() && !a.ActiveAt(activeAt) {
			continue
		}
		announcements = append(announcements, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate announcements: %w", err)
	}
	return announcements, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row scanner) (*models.Announcement, error) {
	var (
		a                             models.Announcement
		audience                      string
		publish, expiry, createdAtRaw int64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Category, &a.Priority, &a.Content, &audience,
		&publish, &expiry, &a.CreatedBy, &createdAtRaw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(audience), &a.TargetAudience); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target audience: %w", err)
	}
	a.PublishDate = time.Unix(0, publish)
	a.ExpiryDate = time.Unix(0, expiry)
	a.CreatedAt = time.Unix(0, createdAtRaw)
	return &a, nil
}

// AddPrediction logs a served forecast and rotates the log.
func (s *Storage) AddPrediction(ctx context.Context, p *models.Prediction) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}

	var duration sql.NullInt64
	if p.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: int64(*p.DurationMinutes), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `INSERT INTO predictions
		(id, model_id, category, month, weekday, duration_minutes, raw_estimate, display_estimate, historical_mean, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		p.ID, p.ModelID, p.Category, p.Month, p.Weekday, duration,
		p.RawEstimate, p.DisplayEstimate, p.HistoricalMean, p.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to insert prediction %s: %w", p.ID, err)
	}

	return s.rotatePredictions(ctx)
}

// GetRecentPredictions returns up to k predictions, newest first
func (s *Storage) GetRecentPredictions(ctx context.Context, k int) ([]models.Prediction, error) {
	if k <= 0 {
		return []models.Prediction{}, nil
	}

	const q = `SELECT id, model_id, category, month, weekday, duration_minutes,
		raw_estimate, display_estimate, historical_mean, created_at
		FROM predictions ORDER BY created_at DESC, seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	predictions := make([]models.Prediction, 0, k)
	for rows.Next() {
		var (
			p         models.Prediction
			duration  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.ModelID, &p.Category, &p.Month, &p.Weekday, &duration,
			&p.RawEstimate, &p.DisplayEstimate, &p.HistoricalMean, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		if duration.Valid {
			d := int(duration.Int64)
			p.DurationMinutes = &d
		}
		p.CreatedAt = time.Unix(0, createdAt)
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate predictions: %w", err)
	}
	return predictions, nil
}

// CountPredictions returns the number of logged predictions
func (s *Storage) CountPredictions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return n, nil
}

// RotatePredictions removes the oldest predictions exceeding the max limit
func (s *Storage) RotatePredictions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotatePredictions(ctx)
}

func (s *Storage) rotatePredictions(ctx context.Context) error {
	const q = `DELETE FROM predictions WHERE seq NOT IN (
		SELECT seq FROM predictions ORDER BY created_at DESC, seq DESC LIMIT ?)`
	if _, err := s.db.ExecContext(ctx, q, s.maxPredictions); err != nil {
		return fmt.Errorf("failed to rotate predictions: %w", err)
	}
	return nil
}
