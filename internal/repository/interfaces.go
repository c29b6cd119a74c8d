package repository

import (
	"context"

	"streetcount/internal/model"
)

// BatchRepository stores finished batches.
type BatchRepository interface {
	// Create operations
	Save(ctx context.Context, b *model.BatchResult) error

	// Read operations
	Get(ctx context.Context, batchID string) (*model.BatchResult, error)
	List(ctx context.Context, limit int) ([]model.Summary, error)
	ResultsForImage(ctx context.Context, imagePath string) ([]model.ImageResult, error)

	// Delete operations
	Delete(ctx context.Context, batchID string) error
}
