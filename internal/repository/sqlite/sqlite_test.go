package sqlite_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"streetcount/internal/model"
	"streetcount/internal/repository"
	"streetcount/internal/repository/sqlite"
)

var _ repository.BatchRepository = (*sqlite.BatchRepository)(nil)

func setupTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dbPath
}

func testBatch(id string, started time.Time) *model.BatchResult {
	return &model.BatchResult{
		Summary: model.Summary{
			BatchID:               id,
			TotalImages:           3,
			ProcessedCount:        2,
			FailureCount:          1,
			Failed:                []string{"shots/b.jpg"},
			Skipped:               []string{"shots/readme.txt"},
			TotalPeople:           4,
			TotalVehicles:         1,
			TotalTrafficLights:    2,
			TrafficLightStates:    model.LightStateTotals{Red: 1, Green: 1},
			TotalProcessingTime:   0.75,
			AverageProcessingTime: 0.375,
			ElapsedTime:           0.5,
			ConfidenceThreshold:   0.5,
			WorkerCount:           2,
			StartedAt:             started,
			FinishedAt:            started.Add(500 * time.Millisecond),
		},
		Records: []model.Record{
			{Index: 0, Result: &model.ImageResult{
				PeopleCount:      4,
				TrafficLights:    model.TrafficLightCounts{Total: 2, Red: 1, Green: 1},
				ConfidenceScores: model.ConfidenceScores{People: 0.8125, TrafficLights: 0.7},
				ProcessingTime:   0.5,
				ImagePath:        "shots/a.jpg",
				Timestamp:        started.Add(200 * time.Millisecond),
			}},
			{Index: 1, Err: &model.ItemError{Kind: model.KindDecode, ImagePath: "shots/b.jpg", Message: "unexpected EOF"}},
			{Index: 2, Result: &model.ImageResult{
				VehicleCount:     1,
				ConfidenceScores: model.ConfidenceScores{Vehicles: 0.9},
				ProcessingTime:   0.25,
				ImagePath:        "shots/c.jpg",
				Timestamp:        started.Add(400 * time.Millisecond),
			}},
		},
	}
}

func TestDatabase_Connection(t *testing.T) {
	_, dbPath := setupTestDB(t)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := sqlite.New(dbPath)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		db.Close()
	}
}

func TestBatchRepository_SaveGet(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)
	ctx := context.Background()

	want := testBatch("batch-1", time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC))
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected batch, got nil")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stored batch differs (-want +got):\n%s", diff)
	}
}

func TestBatchRepository_GetMissing(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)

	got, err := repo.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing batch, got %+v", got)
	}
}

func TestBatchRepository_SaveReplaces(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)
	ctx := context.Background()
	started := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	if err := repo.Save(ctx, testBatch("batch-1", started)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second := testBatch("batch-1", started)
	second.Records = second.Records[:1]
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := repo.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Records) != 1 {
		t.Errorf("Expected 1 record after replace, got %d", len(got.Records))
	}
}

func TestBatchRepository_ListAndDelete(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "middle", "new"} {
		if err := repo.Save(ctx, testBatch(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, s := range all {
		ids = append(ids, s.BatchID)
	}
	if diff := cmp.Diff([]string{"new", "middle", "old"}, ids); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}

	limited, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 summaries, got %d", len(limited))
	}

	if err := repo.Delete(ctx, "middle"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := repo.Get(ctx, "middle")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Deleted batch should be gone")
	}

	history, err := repo.ResultsForImage(ctx, "shots/a.jpg")
	if err != nil {
		t.Fatalf("ResultsForImage failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 results for shots/a.jpg, got %d", len(history))
	}
	if !history[0].Timestamp.Before(history[1].Timestamp) {
		t.Error("Expected results oldest first")
	}
}

func TestBatchRepository_SaveWithoutID(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)

	if err := repo.Save(context.Background(), &model.BatchResult{}); err == nil {
		t.Error("Expected error for batch without id")
	}
}

func TestReportWriter(t *testing.T) {
	db, dbPath := setupTestDB(t)
	repo := sqlite.NewBatchRepository(db)
	w := sqlite.ReportWriter{Repo: repo, Path: dbPath}

	if err := w.Write(context.Background(), testBatch("batch-9", time.Now().UTC())); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := repo.Get(context.Background(), "batch-9")
	if err != nil || got == nil {
		t.Fatalf("Expected stored batch, got %v, %v", got, err)
	}

	db.Close()
	err = w.Write(context.Background(), testBatch("batch-10", time.Now().UTC()))
	var writeErr *model.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Expected WriteError, got %v", err)
	}
	if writeErr.Destination != dbPath {
		t.Errorf("Expected destination %s, got %s", dbPath, writeErr.Destination)
	}
}
