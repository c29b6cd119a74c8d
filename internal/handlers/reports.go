package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/repository"
	"streetcount/internal/services/report"
)

// ReportSource provides the most recent finished batch, or nil.
type ReportSource interface {
	Latest() *model.BatchResult
}

// ReportHandler serves the last batch report in the JSON report format.
func ReportHandler(source ReportSource, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := source.Latest()
		if b == nil {
			writeError(w, http.StatusNotFound, "no finished batch")
			return
		}
		serveReport(w, b, logger)
	}
}

// ListBatchesHandler lists stored batch summaries, newest first.
func ListBatchesHandler(repo repository.BatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		summaries, err := repo.List(r.Context(), limit)
		if err != nil {
			logger.Error("Failed to list batches: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to list batches")
			return
		}
		if summaries == nil {
			summaries = []model.Summary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

// GetBatchHandler serves one stored batch as a report.
func GetBatchHandler(repo repository.BatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		b, err := repo.Get(r.Context(), id)
		if err != nil {
			logger.Error("Failed to load batch %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to load batch")
			return
		}
		if b == nil {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		serveReport(w, b, logger)
	}
}

// ImageHistoryHandler lists stored results for one image path.
func ImageHistoryHandler(repo repository.BatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		results, err := repo.ResultsForImage(r.Context(), path)
		if err != nil {
			logger.Error("Failed to load results for %s: %v", path, err)
			writeError(w, http.StatusInternalServerError, "failed to load results")
			return
		}
		if results == nil {
			results = []model.ImageResult{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func serveReport(w http.ResponseWriter, b *model.BatchResult, logger *logger.Logger) {
	var buf bytes.Buffer
	if err := report.Encode(&buf, b); err != nil {
		logger.Error("Failed to encode report: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to encode report")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}
