package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"streetcount/internal/model"
)

// BatchRepository implements repository.BatchRepository for SQLite.
type BatchRepository struct {
	db *DB
}

// NewBatchRepository creates a new SQLite batch repository.
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const summaryColumns = `id, total_images, processed_count, failure_count, cancelled_count, cancelled,
	total_people, total_vehicles, total_traffic_lights,
	lights_red, lights_green, lights_yellow, lights_unknown,
	total_processing_time, average_processing_time, elapsed_time,
	confidence_threshold, worker_count, failed, skipped, started_at, finished_at`

// Save stores a batch with all its records in one transaction. Saving a
// batch id that already exists replaces it.
func (r *BatchRepository) Save(ctx context.Context, b *model.BatchResult) error {
	if b.Summary.BatchID == "" {
		return errors.New("batch has no id")
	}
	failed, err := json.Marshal(b.Summary.Failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed list: %w", err)
	}
	skipped, err := json.Marshal(b.Summary.Skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skipped list: %w", err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteBatch(ctx, tx, b.Summary.BatchID); err != nil {
		return err
	}

	s := b.Summary
	_, err = tx.ExecContext(ctx, `INSERT INTO batches (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.BatchID, s.TotalImages, s.ProcessedCount, s.FailureCount, s.CancelledCount, s.Cancelled,
		s.TotalPeople, s.TotalVehicles, s.TotalTrafficLights,
		s.TrafficLightStates.Red, s.TrafficLightStates.Green, s.TrafficLightStates.Yellow, s.TrafficLightStates.Unknown,
		s.TotalProcessingTime, s.AverageProcessingTime, s.ElapsedTime,
		s.ConfidenceThreshold, s.WorkerCount, string(failed), string(skipped), s.StartedAt, s.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO image_results (batch_id, idx, image_path, people_count, vehicle_count,
			lights_total, lights_red, lights_green, lights_yellow, lights_unknown,
			conf_people, conf_vehicles, conf_traffic_lights, processing_time, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer resultStmt.Close()

	errorStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_errors (batch_id, idx, image_path, kind, message)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer errorStmt.Close()

	for _, rec := range b.Records {
		switch {
		case rec.Result != nil:
			res := rec.Result
			if _, err := resultStmt.ExecContext(ctx, s.BatchID, rec.Index, res.ImagePath, res.PeopleCount, res.VehicleCount,
				res.TrafficLights.Total, res.TrafficLights.Red, res.TrafficLights.Green, res.TrafficLights.Yellow, res.TrafficLights.Unknown,
				res.ConfidenceScores.People, res.ConfidenceScores.Vehicles, res.ConfidenceScores.TrafficLights,
				res.ProcessingTime, res.Timestamp); err != nil {
				return fmt.Errorf("failed to insert result %d: %w", rec.Index, err)
			}
		case rec.Err != nil:
			if _, err := errorStmt.ExecContext(ctx, s.BatchID, rec.Index, rec.Err.ImagePath, string(rec.Err.Kind), rec.Err.Message); err != nil {
				return fmt.Errorf("failed to insert error record %d: %w", rec.Index, err)
			}
		}
	}

	return tx.Commit()
}

// Get retrieves a batch with its records in index order. It returns nil
// when the batch does not exist.
func (r *BatchRepository) Get(ctx context.Context, batchID string) (*model.BatchResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM batches WHERE id = ?`, batchID)
	summary, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	b := &model.BatchResult{Summary: *summary}

	results, err := r.queryResults(ctx, `WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, err
	}
	for _, ir := range results {
		b.Records = append(b.Records, model.Record{Index: ir.index, Result: ir.result})
	}

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT idx, image_path, kind, message FROM item_errors WHERE batch_id = ?
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query error records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx  int
			kind string
			ie   model.ItemError
		)
		if err := rows.Scan(&idx, &ie.ImagePath, &kind, &ie.Message); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		ie.Kind = model.ErrorKind(kind)
		b.Records = append(b.Records, model.Record{Index: idx, Err: &ie})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read error records: %w", err)
	}

	sort.Slice(b.Records, func(i, j int) bool { return b.Records[i].Index < b.Records[j].Index })
	return b, nil
}

// List returns batch summaries, newest first. A limit of zero or less
// returns every batch.
func (r *BatchRepository) List(ctx context.Context, limit int) ([]model.Summary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + summaryColumns + ` FROM batches ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var summaries []model.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		summaries = append(summaries, *s)
	}
	return summaries, rows.Err()
}

// ResultsForImage returns every stored result for an image path across
// batches, oldest first.
func (r *BatchRepository) ResultsForImage(ctx context.Context, imagePath string) ([]model.ImageResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	indexed, err := r.queryResults(ctx, `WHERE image_path = ? ORDER BY timestamp`, imagePath)
	if err != nil {
		return nil, err
	}
	results := make([]model.ImageResult, 0, len(indexed))
	for _, ir := range indexed {
		results = append(results, *ir.result)
	}
	return results, nil
}

// Delete removes a batch and its records.
func (r *BatchRepository) Delete(ctx context.Context, batchID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteBatch(ctx, tx, batchID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteBatch(ctx context.Context, tx *sql.Tx, batchID string) error {
	for _, table := range []string{"image_results", "item_errors", "batches"} {
		column := "batch_id"
		if table == "batches" {
			column = "id"
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` = ?`, batchID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

type indexedResult struct {
	index  int
	result *model.ImageResult
}

// queryResults must be called with the read lock held.
func (r *BatchRepository) queryResults(ctx context.Context, where string, args ...interface{}) ([]indexedResult, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT idx, image_path, people_count, vehicle_count,
			lights_total, lights_red, lights_green, lights_yellow, lights_unknown,
			conf_people, conf_vehicles, conf_traffic_lights, processing_time, timestamp
		FROM image_results `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []indexedResult
	for rows.Next() {
		var (
			idx int
			res model.ImageResult
		)
		if err := rows.Scan(&idx, &res.ImagePath, &res.PeopleCount, &res.VehicleCount,
			&res.TrafficLights.Total, &res.TrafficLights.Red, &res.TrafficLights.Green, &res.TrafficLights.Yellow, &res.TrafficLights.Unknown,
			&res.ConfidenceScores.People, &res.ConfidenceScores.Vehicles, &res.ConfidenceScores.TrafficLights,
			&res.ProcessingTime, &res.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, indexedResult{index: idx, result: &res})
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row scanner) (*model.Summary, error) {
	var (
		s       model.Summary
		failed  string
		skipped string
	)
	err := row.Scan(&s.BatchID, &s.TotalImages, &s.ProcessedCount, &s.FailureCount, &s.CancelledCount, &s.Cancelled,
		&s.TotalPeople, &s.TotalVehicles, &s.TotalTrafficLights,
		&s.TrafficLightStates.Red, &s.TrafficLightStates.Green, &s.TrafficLightStates.Yellow, &s.TrafficLightStates.Unknown,
		&s.TotalProcessingTime, &s.AverageProcessingTime, &s.ElapsedTime,
		&s.ConfidenceThreshold, &s.WorkerCount, &failed, &skipped, &s.StartedAt, &s.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(failed), &s.Failed); err != nil {
		return nil, fmt.Errorf("failed to decode failed list: %w", err)
	}
	if err := json.Unmarshal([]byte(skipped), &s.Skipped); err != nil {
		return nil, fmt.Errorf("failed to decode skipped list: %w", err)
	}
	return &s, nil
}
