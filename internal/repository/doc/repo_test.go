package doc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/docdex/docdex/internal/domain"
	"github.com/docdex/docdex/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`INSERT INTO collections (name) VALUES ('sales'), ('support')`); err != nil {
		t.Fatalf("seed collections: %v", err)
	}
	return db
}

func seedRows(t *testing.T, repo *Repo, collectionID int64, n int) {
	t.Helper()
	rows := make([]Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, Row{
			Source:       []byte(fmt.Sprintf(`{"n":%d}`, i)),
			BatchID:      "b1",
			CollectionID: collectionID,
		})
	}
	if err := repo.Append(context.Background(), rows); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAppendAndGet(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()

	id, err := repo.AppendOne(ctx, Row{Source: []byte(`{"a":1}`), BatchID: "b1", CollectionID: 1})
	if err != nil {
		t.Fatalf("AppendOne: %v", err)
	}

	row, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(row.Source) != `{"a":1}` || row.BatchID != "b1" || row.CollectionID != 1 {
		t.Errorf("round trip mismatch: %+v", row)
	}
	if row.ModifiedByIndex != nil {
		t.Error("plain ingestion must not carry an index attribution")
	}

	if _, err := repo.Get(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPageAfter_CursorAndLimit(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()
	seedRows(t, repo, 1, 25)

	page, err := repo.PageAfter(ctx, 1, 7, 0, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 10 || page[0].ID != 1 || page[9].ID != 10 {
		t.Errorf("first page wrong: %d rows, ids %d..%d", len(page), page[0].ID, page[len(page)-1].ID)
	}

	page, err = repo.PageAfter(ctx, 1, 7, 20, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 5 || page[0].ID != 21 {
		t.Errorf("tail page wrong: %d rows", len(page))
	}

	page, err = repo.PageAfter(ctx, 1, 7, 25, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d rows", len(page))
	}
}

func TestPageAfter_FiltersByCollection(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()
	seedRows(t, repo, 1, 3)
	seedRows(t, repo, 2, 3)

	page, err := repo.PageAfter(ctx, 2, 7, 0, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("got %d rows, want 3", len(page))
	}
	for _, row := range page {
		if row.CollectionID != 2 {
			t.Errorf("row %d belongs to collection %d", row.ID, row.CollectionID)
		}
	}
}

func TestPageAfter_IndexAttributionVisibility(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()

	mine, other := int64(7), int64(8)
	if _, err := repo.AppendOne(ctx, Row{Source: []byte(`{}`), CollectionID: 1}); err != nil {
		t.Fatalf("AppendOne: %v", err)
	}
	if _, err := repo.AppendOne(ctx, Row{Source: []byte(`{}`), CollectionID: 1, ModifiedByIndex: &mine}); err != nil {
		t.Fatalf("AppendOne: %v", err)
	}
	if _, err := repo.AppendOne(ctx, Row{Source: []byte(`{}`), CollectionID: 1, ModifiedByIndex: &other}); err != nil {
		t.Fatalf("AppendOne: %v", err)
	}

	// Index 7 sees unclaimed rows and its own, not index 8's.
	page, err := repo.PageAfter(ctx, 1, mine, 0, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d rows, want 2", len(page))
	}
	if page[0].ID != 1 || page[1].ID != 2 {
		t.Errorf("unexpected ids: %d, %d", page[0].ID, page[1].ID)
	}
}

func TestDeleteByIndex(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()

	idx := int64(7)
	if _, err := repo.AppendOne(ctx, Row{Source: []byte(`{}`), CollectionID: 1}); err != nil {
		t.Fatalf("AppendOne: %v", err)
	}
	if _, err := repo.AppendOne(ctx, Row{Source: []byte(`{}`), CollectionID: 1, ModifiedByIndex: &idx}); err != nil {
		t.Fatalf("AppendOne: %v", err)
	}

	if err := repo.DeleteByIndex(ctx, idx); err != nil {
		t.Fatalf("DeleteByIndex: %v", err)
	}
	page, err := repo.PageAfter(ctx, 1, idx, 0, 10)
	if err != nil {
		t.Fatalf("PageAfter: %v", err)
	}
	if len(page) != 1 || page[0].ID != 1 {
		t.Errorf("only the ingested row should remain, got %+v", page)
	}
}

func TestDeleteByCollection(t *testing.T) {
	repo := New(openTestDB(t))
	ctx := context.Background()
	seedRows(t, repo, 1, 3)
	seedRows(t, repo, 2, 2)

	if err := repo.DeleteByCollection(ctx, 1); err != nil {
		t.Fatalf("DeleteByCollection: %v", err)
	}
	if page, _ := repo.PageAfter(ctx, 1, 0, 0, 10); len(page) != 0 {
		t.Errorf("collection 1 rows should be gone, got %d", len(page))
	}
	if page, _ := repo.PageAfter(ctx, 2, 0, 0, 10); len(page) != 2 {
		t.Errorf("collection 2 rows should survive, got %d", len(page))
	}
}
