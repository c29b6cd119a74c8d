package model

import (
	"time"
)

// Record is the outcome of one batch item. Exactly one of Result or Err is set.
type Record struct {
	Index  int
	Result *ImageResult
	Err    *ItemError
}

// Path returns the identifier of the item the record belongs to.
func (r Record) Path() string {
	if r.Result != nil {
		return r.Result.ImagePath
	}
	if r.Err != nil {
		return r.Err.ImagePath
	}
	return ""
}

// Failed reports whether the record is an error record other than cancellation.
func (r Record) Failed() bool {
	return r.Err != nil && r.Err.Kind != KindCancelled
}

// LightStateTotals aggregates traffic light states across a batch.
type LightStateTotals struct {
	Red     int `json:"red"`
	Green   int `json:"green"`
	Yellow  int `json:"yellow"`
	Unknown int `json:"unknown"`
}

// Summary holds the aggregate statistics of a batch run.
type Summary struct {
	BatchID               string           `json:"batch_id"`
	TotalImages           int              `json:"total_images"`
	ProcessedCount        int              `json:"processed_count"`
	FailureCount          int              `json:"failure_count"`
	Failed                []string         `json:"failed"`
	Skipped               []string         `json:"skipped,omitempty"`
	CancelledCount        int              `json:"cancelled_count"`
	Cancelled             bool             `json:"cancelled"`
	TotalPeople           int              `json:"total_people"`
	TotalVehicles         int              `json:"total_vehicles"`
	TotalTrafficLights    int              `json:"total_traffic_lights"`
	TrafficLightStates    LightStateTotals `json:"traffic_light_states"`
	TotalProcessingTime   float64          `json:"total_processing_time"`
	AverageProcessingTime float64          `json:"average_processing_time"`
	ElapsedTime           float64          `json:"elapsed_time"`
	ConfidenceThreshold   float64          `json:"confidence_threshold"`
	WorkerCount           int              `json:"worker_count"`
	StartedAt             time.Time        `json:"started_at"`
	FinishedAt            time.Time        `json:"finished_at"`
}

// BatchResult is the full outcome of a batch run, ordered by enumeration index.
type BatchResult struct {
	Summary Summary
	Records []Record
}

// Results returns the successful image results in index order.
func (b *BatchResult) Results() []ImageResult {
	out := make([]ImageResult, 0, len(b.Records))
	for _, r := range b.Records {
		if r.Result != nil {
			out = append(out, *r.Result)
		}
	}
	return out
}

// Errors returns the error records in index order.
func (b *BatchResult) Errors() []ItemError {
	var out []ItemError
	for _, r := range b.Records {
		if r.Err != nil {
			out = append(out, *r.Err)
		}
	}
	return out
}
