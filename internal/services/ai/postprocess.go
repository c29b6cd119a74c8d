package ai

import (
	"fmt"
	"math"
	"sort"

	"streetcount/internal/model"
)

// ssdRowSize is the width of one SSD output row:
// [batch_id, class_id, confidence, x1, y1, x2, y2] with normalised corners.
const ssdRowSize = 7

// ParseSSD decodes a flattened SSD output for an image of w x h pixels.
func ParseSSD(data []float32, w, h int, threshold float64) ([]model.Detection, error) {
	if len(data)%ssdRowSize != 0 {
		return nil, fmt.Errorf("ssd output length %d is not a multiple of %d", len(data), ssdRowSize)
	}

	var out []model.Detection
	for i := 0; i+ssdRowSize <= len(data); i += ssdRowSize {
		row := data[i : i+ssdRowSize]
		confidence := float64(row[2])
		if confidence < threshold {
			continue
		}
		box := clampBox(
			float64(row[3])*float64(w), float64(row[4])*float64(h),
			float64(row[5])*float64(w), float64(row[6])*float64(h),
			w, h,
		)
		if box.W == 0 || box.H == 0 {
			continue
		}
		out = append(out, model.Detection{
			ClassID:    int(row[1]),
			Confidence: confidence,
			Box:        box,
		})
	}
	return out, nil
}

// yoloCandidate is a box before non-maximum suppression, in image pixels.
type yoloCandidate struct {
	classID        int
	score          float32
	x1, y1, x2, y2 float32
}

// ParseYOLOv8 decodes a [1, 4+C, N] YOLOv8 output laid out attribute-major.
// Box centres and sizes are in input pixels and are scaled back to w x h.
func ParseYOLOv8(data []float32, attrs, n, inputSize, w, h int, threshold, nmsThreshold float64) ([]model.Detection, error) {
	if attrs <= 4 || n <= 0 || len(data) != attrs*n {
		return nil, fmt.Errorf("yolov8 output shape [%d, %d] does not match %d values", attrs, n, len(data))
	}

	sx := float32(w) / float32(inputSize)
	sy := float32(h) / float32(inputSize)

	var candidates []yoloCandidate
	for i := 0; i < n; i++ {
		best, classID := float32(0), -1
		for a := 4; a < attrs; a++ {
			if s := data[a*n+i]; s > best {
				best, classID = s, a-4
			}
		}
		if classID < 0 || float64(best) < threshold {
			continue
		}

		cx, cy := data[i]*sx, data[n+i]*sy
		bw, bh := data[2*n+i]*sx, data[3*n+i]*sy
		candidates = append(candidates, yoloCandidate{
			classID: classID,
			score:   best,
			x1:      cx - bw/2,
			y1:      cy - bh/2,
			x2:      cx + bw/2,
			y2:      cy + bh/2,
		})
	}

	kept := nms(candidates, float32(nmsThreshold))

	out := make([]model.Detection, 0, len(kept))
	for _, c := range kept {
		box := clampBox(float64(c.x1), float64(c.y1), float64(c.x2), float64(c.y2), w, h)
		if box.W == 0 || box.H == 0 {
			continue
		}
		out = append(out, model.Detection{
			ClassID:    c.classID,
			Confidence: float64(c.score),
			Box:        box,
		})
	}
	return out, nil
}

// nms runs per-class non-maximum suppression. Candidates are visited by
// descending score, ties broken by original position, so the result is stable.
func nms(candidates []yoloCandidate, threshold float32) []yoloCandidate {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].score > candidates[order[b]].score
	})

	suppressed := make([]bool, len(candidates))
	var kept []yoloCandidate
	for i, n := range order {
		if suppressed[n] {
			continue
		}
		kept = append(kept, candidates[n])
		for _, m := range order[i+1:] {
			if suppressed[m] || candidates[m].classID != candidates[n].classID {
				continue
			}
			if iou(candidates[n], candidates[m]) > threshold {
				suppressed[m] = true
			}
		}
	}
	return kept
}

// iou works out the intersection over union of two boxes.
func iou(a, b yoloCandidate) float32 {
	w := math.Max(0, math.Min(float64(a.x2), float64(b.x2))-math.Max(float64(a.x1), float64(b.x1)))
	h := math.Max(0, math.Min(float64(a.y2), float64(b.y2))-math.Max(float64(a.y1), float64(b.y1)))
	intersection := float32(w * h)

	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
