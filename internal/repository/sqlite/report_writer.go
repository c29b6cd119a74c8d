package sqlite

import (
	"context"

	"streetcount/internal/model"
	"streetcount/internal/repository"
)

// ReportWriter stores batch reports in a repository, so the database can be
// used wherever a JSON report file is.
type ReportWriter struct {
	Repo repository.BatchRepository
	Path string // database path, for error messages
}

func (w ReportWriter) Write(ctx context.Context, b *model.BatchResult) error {
	if err := w.Repo.Save(ctx, b); err != nil {
		return &model.WriteError{Destination: w.Path, Err: err}
	}
	return nil
}
