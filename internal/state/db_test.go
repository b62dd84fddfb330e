package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Nothing can be created under /proc.
	if _, err := Open("/proc/nonexistent/test.db"); err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := db.Query("SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "agents", "tasks", "workflows"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("failed to count versions: %v", err)
	}
	if rows != 3 {
		t.Errorf("schema_version rows = %d, want 3", rows)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	boom := errors.New("boom")

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO agents (id, name, type, status, registered_at) VALUES ('a', 'a', 'specialist', 'idle', '2024-01-01T00:00:00.000000000Z')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction error = %v, want boom", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM agents").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled back insert is visible: %d rows", count)
	}
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := formatTime(base.Add(500 * time.Millisecond))
	later := formatTime(base.Add(1 * time.Second))
	if !(earlier < later) {
		t.Errorf("%q should sort before %q", earlier, later)
	}

	got, err := parseTime(earlier)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !got.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("round trip = %v", got)
	}

	if parseNullableTime(sql.NullString{}) != nil {
		t.Error("NULL should parse to nil")
	}
}

func TestPurgeFinishedTasks(t *testing.T) {
	db := setupTestDB(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	tasks := []struct {
		id     string
		status string
		done   *time.Time
	}{
		{"old-done", "completed", &old},
		{"old-failed", "failed", &old},
		{"recent-done", "completed", &recent},
		{"still-pending", "pending", nil},
	}
	for _, tc := range tasks {
		task := newTestTask(tc.id)
		task.Status = statusOf(tc.status)
		task.CompletedAt = tc.done
		if err := db.SaveTask(task); err != nil {
			t.Fatalf("SaveTask(%s): %v", tc.id, err)
		}
	}

	n, err := db.PurgeFinishedTasks(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeFinishedTasks: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	for _, id := range []string{"recent-done", "still-pending"} {
		if got, _ := db.GetTask(id); got == nil {
			t.Errorf("%s should survive the purge", id)
		}
	}
}
