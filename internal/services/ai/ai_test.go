package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetcount/internal/model"
)

func TestFilterByConfidence(t *testing.T) {
	in := []model.Detection{
		{ClassID: 1, Confidence: 0.49},
		{ClassID: 2, Confidence: 0.5},
		{ClassID: 3, Confidence: 0.91},
	}

	out := FilterByConfidence(in, 0.5)

	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].ClassID)
	assert.Equal(t, 3, out[1].ClassID)
	assert.Empty(t, FilterByConfidence(in, 0.95))
}

func TestLabelSet_Category(t *testing.T) {
	tests := []struct {
		labels LabelSet
		id     int
		want   model.Category
	}{
		{COCO91, 1, model.CategoryPerson},
		{COCO91, 2, model.CategoryVehicle},
		{COCO91, 3, model.CategoryVehicle},
		{COCO91, 4, model.CategoryVehicle},
		{COCO91, 6, model.CategoryVehicle},
		{COCO91, 8, model.CategoryVehicle},
		{COCO91, 7, model.CategoryIgnored}, // train
		{COCO91, 10, model.CategoryTrafficLight},
		{COCO91, 17, model.CategoryIgnored},
		{COCO80, 0, model.CategoryPerson},
		{COCO80, 5, model.CategoryVehicle},
		{COCO80, 9, model.CategoryTrafficLight},
		{COCO80, 10, model.CategoryIgnored},
		{COCO80, -1, model.CategoryIgnored},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.labels.Category(tt.id), "%s id %d", tt.labels.Name, tt.id)
	}
	assert.Equal(t, "traffic light", COCO80.Label(9))
	assert.Equal(t, "unknown_42", COCO80.Label(42))
}

func TestLabelSetByName(t *testing.T) {
	ls, err := LabelSetByName("coco80")
	require.NoError(t, err)
	assert.Equal(t, "coco80", ls.Name)

	_, err = LabelSetByName("voc")
	assert.Error(t, err)
}

func TestClampBox(t *testing.T) {
	assert.Equal(t, model.BoundingBox{X: 0, Y: 5, W: 20, H: 10}, clampBox(-4, 5, 20, 15, 100, 100))
	assert.Equal(t, model.BoundingBox{X: 90, Y: 90, W: 10, H: 10}, clampBox(90, 90, 130, 140, 100, 100))
	assert.Equal(t, model.BoundingBox{X: 50, Y: 50, W: 0, H: 0}, clampBox(50, 50, 40, 40, 100, 100))
}

func TestParseSSD(t *testing.T) {
	data := []float32{
		0, 1, 0.9, 0.1, 0.2, 0.3, 0.6, // person
		0, 10, 0.4, 0.5, 0.5, 0.6, 0.7, // light below threshold
		0, 3, 0.7, 0.5, 0.5, 1.2, 1.1, // car overflowing the frame
		0, 3, 0.8, 0.5, 0.5, 0.5, 0.9, // zero width
	}

	dets, err := ParseSSD(data, 200, 100, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, model.BoundingBox{X: 20, Y: 20, W: 40, H: 40}, dets[0].Box)
	assert.Equal(t, model.BoundingBox{X: 100, Y: 50, W: 100, H: 50}, dets[1].Box)

	_, err = ParseSSD(data[:5], 200, 100, 0.5)
	assert.Error(t, err)
}

// yoloOutput lays rows of [cx, cy, w, h, scores...] out attribute-major.
func yoloOutput(rows [][]float32) ([]float32, int, int) {
	attrs, n := len(rows[0]), len(rows)
	data := make([]float32, attrs*n)
	for i, row := range rows {
		for a, v := range row {
			data[a*n+i] = v
		}
	}
	return data, attrs, n
}

func TestParseYOLOv8(t *testing.T) {
	data, attrs, n := yoloOutput([][]float32{
		{100, 100, 40, 80, 0.9, 0.1, 0.0},  // class 0
		{102, 101, 40, 80, 0.8, 0.1, 0.0},  // overlaps the first, suppressed
		{102, 101, 40, 80, 0.0, 0.75, 0.0}, // same box, other class, kept
		{300, 300, 20, 20, 0.1, 0.2, 0.3},  // below threshold
	})

	// Input 640, image 1280x640: x scales by 2, y by 1.
	dets, err := ParseYOLOv8(data, attrs, n, 640, 1280, 640, 0.5, 0.45)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, model.BoundingBox{X: 160, Y: 60, W: 80, H: 80}, dets[0].Box)
	assert.Equal(t, 1, dets[1].ClassID)

	_, err = ParseYOLOv8(data, attrs+1, n, 640, 1280, 640, 0.5, 0.45)
	assert.Error(t, err)
}

func TestNMS_StableOnTies(t *testing.T) {
	a := yoloCandidate{classID: 0, score: 0.8, x1: 0, y1: 0, x2: 10, y2: 10}
	b := yoloCandidate{classID: 0, score: 0.8, x1: 1, y1: 1, x2: 11, y2: 11}

	kept := nms([]yoloCandidate{a, b}, 0.5)

	require.Len(t, kept, 1)
	assert.Equal(t, a, kept[0])
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.Zero(t, iou(a, yoloCandidate{x1: 20, y1: 20, x2: 30, y2: 30}))
}
