package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
	"github.com/pizza-nz/print-agent/internal/db"
	"github.com/pizza-nz/print-agent/internal/models"
)

func testJobRepo(t *testing.T) *PrintJobRepository {
	t.Helper()
	database, err := db.NewSQLite(config.Database{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepositories(database).PrintJob
}

func TestPrintJobRecordAndList(t *testing.T) {
	repo := testJobRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	results := []models.PrintResult{
		{JobID: "a", OrderID: "1", Role: models.RoleKitchen, Backend: models.BackendBLE, At: base},
		{JobID: "b", OrderID: "2", Role: models.RoleKitchen, Backend: models.BackendBrowser, Fallback: true, Error: "gatt write failed", At: base.Add(time.Minute)},
		{JobID: "c", OrderID: "3", Role: models.RoleOrders, Backend: models.BackendSerial, At: base.Add(2 * time.Minute)},
	}
	for _, r := range results {
		if err := repo.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s): %v", r.JobID, err)
		}
	}

	got, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].JobID != "c" || got[1].JobID != "b" {
		t.Fatalf("ListRecent = %+v", got)
	}
	if !got[1].Fallback || got[1].Error != "gatt write failed" || got[1].Backend != models.BackendBrowser {
		t.Errorf("fallback job = %+v", got[1])
	}

	n, err := repo.DeleteBefore(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	left, _ := repo.ListRecent(ctx, 10)
	if len(left) != 1 || left[0].JobID != "c" {
		t.Errorf("remaining = %+v", left)
	}
}
