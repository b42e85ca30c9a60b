package job

import (
	"context"
	"errors"
	"testing"

	"github.com/docdex/docdex/internal/domain"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/store"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var tick int64
	return New(db).WithClock(func() int64 {
		tick++
		return 1700000000000 + tick
	})
}


func TestCreateAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, domjob.TypeIndexMigrate, []byte(`{"index_id":7,"mode":"reinsert"}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID() == 0 {
		t.Fatal("expected a storage id")
	}
	if created.JobStatus() != domjob.StatusCreated {
		t.Errorf("status = %q, want %q", created.JobStatus(), domjob.StatusCreated)
	}

	got, err := repo.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobType() != domjob.TypeIndexMigrate {
		t.Errorf("type = %q", got.JobType())
	}
	if string(got.Payload()) != `{"index_id":7,"mode":"reinsert"}` {
		t.Errorf("payload = %s", got.Payload())
	}
	if got.CreatedAt() == 0 || got.CreatedAt() != got.UpdatedAt() {
		t.Errorf("timestamps: created=%d updated=%d", got.CreatedAt(), got.UpdatedAt())
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := repo.Get(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, domjob.TypeIndexMigrate, []byte(`{}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateStatus(ctx, created.ID(), domjob.StatusRunning); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := repo.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobStatus() != domjob.StatusRunning {
		t.Errorf("status = %q, want %q", got.JobStatus(), domjob.StatusRunning)
	}
	if got.UpdatedAt() <= got.CreatedAt() {
		t.Error("updated_at should advance past created_at")
	}

	// Updating a missing job stays silent: bookkeeping is best-effort.
	if err := repo.UpdateStatus(ctx, 999, domjob.StatusFailed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLogs_InsertionOrder(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, domjob.TypeIndexMigrate, []byte(`{}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.AddLog(ctx, created.ID(), domjob.LevelInfo, "started"); err != nil {
		t.Fatalf("AddLog: %v", err)
	}
	if err := repo.AddLog(ctx, created.ID(), domjob.LevelError, "log row 2: bad"); err != nil {
		t.Fatalf("AddLog: %v", err)
	}

	entries, err := repo.Logs(ctx, created.ID())
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "started" || entries[0].Level != domjob.LevelInfo {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Message != "log row 2: bad" || entries[1].Level != domjob.LevelError {
		t.Errorf("second entry = %+v", entries[1])
	}

	// A job with no entries yields an empty slice, not an error.
	other, err := repo.Create(ctx, domjob.TypeIndexMigrate, []byte(`{}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries, err = repo.Logs(ctx, other.ID())
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
