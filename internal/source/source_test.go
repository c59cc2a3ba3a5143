package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const sampleCSV = `date,category,visitors,ticket_price
2024-07-26,Concert,120,15
2024-01-10,Workshop,30,
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	return path
}

func newTestResolver() *Resolver {
	return NewResolver(5*time.Second, 3, time.Millisecond)
}

func TestResolve_LocalFile(t *testing.T) {
	path := writeCSV(t, sampleCSV)

	loaded, err := newTestResolver().Resolve(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if loaded.Origin != path {
		t.Errorf("Expected origin %s, got %s", path, loaded.Origin)
	}
	if len(loaded.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(loaded.Rows))
	}
	if len(loaded.Columns) != 4 {
		t.Errorf("Expected 4 columns, got %v", loaded.Columns)
	}

	first := loaded.Rows[0]
	if first["visitors"] != "120" {
		t.Errorf("Expected visitors to stay a string, got %#v", first["visitors"])
	}
	if first["category"] != "Concert" {
		t.Errorf("Expected category Concert, got %#v", first["category"])
	}
}

func TestResolve_KeepsMissingValueMarkersAsText(t *testing.T) {
	path := writeCSV(t, "date,title,visitors,venue,ticket_price\n2024-03-01,NA,10,NaN,\n")

	loaded, err := newTestResolver().Resolve(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	row := loaded.Rows[0]
	if row["title"] != "NA" {
		t.Errorf("Expected title NA, got %#v", row["title"])
	}
	if row["venue"] != "NaN" {
		t.Errorf("Expected venue NaN, got %#v", row["venue"])
	}
	if row["ticket_price"] != "" {
		t.Errorf("Expected blank ticket price, got %#v", row["ticket_price"])
	}
}

func TestResolve_SkipsMissingCandidates(t *testing.T) {
	path := writeCSV(t, sampleCSV)
	missing := filepath.Join(t.TempDir(), "nope.csv")

	loaded, err := newTestResolver().Resolve(context.Background(), []string{missing, path})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if loaded.Origin != path {
		t.Errorf("Expected fallback to %s, got %s", path, loaded.Origin)
	}
}

func TestResolve_NoSource(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.csv")

	_, err := newTestResolver().Resolve(context.Background(), []string{missing})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("Expected ErrNoSource, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}

	if _, err := newTestResolver().Resolve(context.Background(), nil); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource for empty candidates, got %v", err)
	}
}

func TestResolve_HTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events.csv" {
			t.Errorf("Expected path /events.csv, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	loaded, err := newTestResolver().Resolve(context.Background(), []string{server.URL + "/events.csv"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(loaded.Rows) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(loaded.Rows))
	}
}

func TestResolve_HTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	loaded, err := newTestResolver().Resolve(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if len(loaded.Rows) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(loaded.Rows))
	}
}

func TestResolve_HTTPClientErrorFallsThrough(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	path := writeCSV(t, sampleCSV)
	loaded, err := newTestResolver().Resolve(context.Background(), []string{server.URL, path})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a 404 not to be retried, got %d attempts", calls.Load())
	}
	if loaded.Origin != path {
		t.Errorf("Expected fallback to local file, got %s", loaded.Origin)
	}
}

func TestResolve_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(time.Second, 3, time.Second).Resolve(ctx, []string{server.URL})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
