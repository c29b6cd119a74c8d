package ai

import (
	"context"
	"image"

	"streetcount/internal/model"
)

// Detector wraps an object detection backend. Implementations apply the
// confidence threshold themselves: every returned detection has
// Confidence >= threshold, and callers never filter again.
//
// A Detector is not required to be safe for concurrent use. The batch
// scheduler gives every worker its own instance obtained from a Factory.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error)
	Close() error
}

// Factory creates a new, independent Detector.
type Factory func() (Detector, error)

// FilterByConfidence keeps detections whose confidence is at least threshold.
// The input order is preserved.
func FilterByConfidence(in []model.Detection, threshold float64) []model.Detection {
	out := make([]model.Detection, 0, len(in))
	for _, d := range in {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// clampBox converts corner coordinates to a box clipped to a w x h image.
func clampBox(x1, y1, x2, y2 float64, w, h int) model.BoundingBox {
	left := clampInt(int(x1), 0, w)
	top := clampInt(int(y1), 0, h)
	right := clampInt(int(x2), left, w)
	bottom := clampInt(int(y2), top, h)
	return model.BoundingBox{X: left, Y: top, W: right - left, H: bottom - top}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
