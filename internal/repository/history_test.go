package repository

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloudy/internal/db"
	"cloudy/internal/model"
)

func openTestDB(t *testing.T) {
	t.Helper()

	if err := db.Init(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("db.Init() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
}

func TestHistorySaveAndQuery(t *testing.T) {
	openTestDB(t)
	repo := NewHistoryRepository()

	start := time.Now().Add(-time.Minute)
	outcomes := []model.TransferOutcome{
		{ID: "aaaa", Kind: model.EventModified, RelPath: "a.txt", Destination: "h:/d/", StartedAt: start, Duration: time.Second},
		{ID: "bbbb", Kind: model.EventModified, RelPath: "b.txt", Destination: "h:/d/", StartedAt: start.Add(10 * time.Second), ExitCode: 255, Err: errors.New("ssh: connect refused")},
		{ID: "cccc", Kind: model.EventModified, RelPath: "src/c.txt", Destination: "h:/d/src/", StartedAt: start.Add(20 * time.Second)},
	}
	for _, o := range outcomes {
		if err := repo.Save(o); err != nil {
			t.Fatalf("Save(%s) failed: %v", o.ID, err)
		}
	}

	stats, err := repo.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{Total: 3, Success: 2, Failed: 1}) {
		t.Errorf("GetStats() = %+v", stats)
	}

	recent, err := repo.GetRecent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].TransferID != "cccc" || recent[1].TransferID != "bbbb" {
		t.Errorf("GetRecent(2) returned %+v", recent)
	}

	failed, err := repo.GetFailed()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("GetFailed() returned %d rows, want 1", len(failed))
	}
	if failed[0].ErrMsg != "ssh: connect refused" || failed[0].ExitCode != 255 {
		t.Errorf("unexpected failed row %+v", failed[0])
	}
}

func TestHistoryWithoutDB(t *testing.T) {
	repo := NewHistoryRepository()
	if err := repo.Save(model.TransferOutcome{}); !errors.Is(err, ErrNoDB) {
		t.Errorf("Save() = %v, want ErrNoDB", err)
	}
}
