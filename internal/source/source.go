// Package source locates and reads the raw event dataset.
//
// Candidates are tried in the order given; the first that exists and parses
// wins. A candidate is either a local CSV path or an http(s) URL. Nothing in
// this package interprets columns: rows are handed to the normalizer as
// loosely-typed maps.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/rewired-gh/impactboard/internal/logger"
	"github.com/rewired-gh/impactboard/internal/models"
)

// ErrNoSource is returned when no candidate could be loaded.
var ErrNoSource = errors.New("no dataset source available")

// Loaded is a parsed dataset together with where it came from
type Loaded struct {
	Origin  string
	Columns []string
	Rows    []models.Row
}

// Resolver loads datasets from files or HTTP endpoints
type Resolver struct {
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewResolver creates a new Resolver
func NewResolver(timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Resolver {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Resolver{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Resolve returns the first candidate that loads successfully.
func (r *Resolver) Resolve(ctx context.Context, candidates []string) (*Loaded, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates configured", ErrNoSource)
	}

	var lastErr error
	for _, candidate := range candidates {
		loaded, err := r.load(ctx, candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("Dataset candidate %s does not exist, skipping", candidate)
			} else {
				logger.Warn("Failed to load dataset candidate %s: %v", candidate, err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		logger.Info("Loaded %d rows from %s", len(loaded.Rows), candidate)
		return loaded, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoSource, lastErr)
}

func (r *Resolver) load(ctx context.Context, candidate string) (*Loaded, error) {
	if isURL(candidate) {
		body, err := r.fetch(ctx, candidate)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return parseCSV(candidate, body)
	}

	f, err := os.Open(candidate)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(candidate, f)
}

func isURL(candidate string) bool {
	return strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://")
}

// fetch performs an HTTP GET with retry on transport errors and 5xx responses
func (r *Resolver) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error

	for i := 0; i < r.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Debug("Fetch attempt %d/%d for %s failed: %v", i+1, r.maxRetries, url, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Debug("Fetch attempt %d/%d for %s failed: %v", i+1, r.maxRetries, url, lastErr)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			// Client errors will not improve on retry
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp.Body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseCSV reads every cell as literal text; typing is left to the normalizer
func parseCSV(origin string, r io.Reader) (*Loaded, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("failed to parse CSV from %s: %w", origin, df.Err)
	}

	// Records keeps a literal "NaN" cell as text, Maps would turn it into nil
	records := df.Records()
	columns := records[0]
	rows := make([]models.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(models.Row, len(columns))
		for i, column := range columns {
			row[column] = record[i]
		}
		rows = append(rows, row)
	}

	return &Loaded{
		Origin:  origin,
		Columns: columns,
		Rows:    rows,
	}, nil
}
