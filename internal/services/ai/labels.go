package ai

import (
	"fmt"

	"streetcount/internal/model"
)

// LabelSet maps detector class ids to label names and domain categories.
type LabelSet struct {
	Name   string
	labels map[int]string
}

// NewLabelSet builds a LabelSet from an id to label mapping.
func NewLabelSet(name string, labels map[int]string) LabelSet {
	return LabelSet{Name: name, labels: labels}
}

// COCO91 is the 1-based id space of the TensorFlow SSD MobileNet COCO models.
var COCO91 = NewLabelSet("coco91", map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	6:  "bus",
	7:  "train",
	8:  "truck",
	10: "traffic light",
})

// COCO80 is the contiguous 0-based id space used by YOLO models.
var COCO80 = NewLabelSet("coco80", map[int]string{
	0: "person",
	1: "bicycle",
	2: "car",
	3: "motorcycle",
	5: "bus",
	6: "train",
	7: "truck",
	9: "traffic light",
})

// LabelSetByName returns a preset label set.
func LabelSetByName(name string) (LabelSet, error) {
	switch name {
	case COCO91.Name:
		return COCO91, nil
	case COCO80.Name:
		return COCO80, nil
	}
	return LabelSet{}, fmt.Errorf("unknown label set %q", name)
}

var categories = map[string]model.Category{
	"person":        model.CategoryPerson,
	"bicycle":       model.CategoryVehicle,
	"car":           model.CategoryVehicle,
	"motorcycle":    model.CategoryVehicle,
	"bus":           model.CategoryVehicle,
	"truck":         model.CategoryVehicle,
	"traffic light": model.CategoryTrafficLight,
}

// Label returns the label for a class id.
func (l LabelSet) Label(classID int) string {
	if label, ok := l.labels[classID]; ok {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}

// Category returns the domain category for a class id. Ids outside the
// recognised set are ignored.
func (l LabelSet) Category(classID int) model.Category {
	if c, ok := categories[l.Label(classID)]; ok {
		return c
	}
	return model.CategoryIgnored
}
