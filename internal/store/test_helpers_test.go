package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/smartview/internal/ir"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedItems inserts items and fails the test on error.
func seedItems(t *testing.T, s *Store, items ...ir.Item) {
	t.Helper()
	for _, item := range items {
		if _, err := s.InsertItem(context.Background(), item); err != nil {
			t.Fatalf("InsertItem(%d) failed: %v", item.ID, err)
		}
	}
}

// track builds an item with the attributes most tests care about.
func track(id int64, genre string, minutes int) ir.Item {
	return ir.Item{
		ID:        id,
		Title:     "Track",
		Genre:     genre,
		Duration:  time.Duration(minutes) * time.Minute,
		URI:       "file:///music/track.mp3",
		DateAdded: testNow.Add(-time.Duration(id) * time.Hour),
	}
}
