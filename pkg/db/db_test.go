package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"moviequiz/pkg/db"
)

func TestDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	for _, table := range []string{"movie", "person", "movie_cast", "movie_director", "alternative_title", "cache", "persistent_state"} {
		var name string
		err := d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Re-running migrations on an existing file is a no-op
	d.Close()
	d2, err := db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	d2.Close()
}

func TestDB_AlternativeTitleUnique(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "unique.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	insert := "INSERT INTO alternative_title (movie_id, language_code, title) VALUES (?, ?, ?)"
	if _, err := d.Exec(insert, "Q1", "de", "Eins"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec(insert, "Q1", "de", "Zwei"); err == nil {
		t.Error("expected unique constraint violation for (movie_id, language_code)")
	}

	var ratio float64
	if err := d.QueryRow("SELECT difference_ratio FROM alternative_title WHERE movie_id='Q1'").Scan(&ratio); err != nil {
		t.Fatal(err)
	}
	if ratio != 1.0 {
		t.Errorf("expected default ratio 1.0, got %v", ratio)
	}
}

func TestPruneCache(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	recent := time.Now().Add(-1 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", "old", []byte("x"), old); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", "new", []byte("y"), recent); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM cache").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining entry, got %d", count)
	}
}
