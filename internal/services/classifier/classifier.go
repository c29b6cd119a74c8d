package classifier

import (
	"fmt"
	"image"
	"math"

	"streetcount/internal/model"
	"streetcount/internal/services/ai"
)

// ClassifiedLight is a traffic light detection with its inferred state.
type ClassifiedLight struct {
	Detection model.Detection
	State     model.TrafficLightState
}

// Classification holds the counted detections of one image by category.
type Classification struct {
	People         []model.Detection
	Vehicles       []model.Detection
	Lights         []ClassifiedLight
	RejectedPeople int
	Ignored        int
}

// Classifier maps detections to domain categories. It holds no mutable state
// and may be shared between goroutines as long as its policies are.
type Classifier struct {
	labels ai.LabelSet
	people PersonPolicy
	lights LightPolicy
}

// New creates a Classifier. A nil people policy counts every person; a nil
// light policy uses DefaultLightClassifier.
func New(labels ai.LabelSet, people PersonPolicy, lights LightPolicy) *Classifier {
	if people == nil {
		people = AcceptAllPersons{}
	}
	if lights == nil {
		lights = DefaultLightClassifier()
	}
	return &Classifier{labels: labels, people: people, lights: lights}
}

// Classify sorts dets into categories. The detections must already be
// threshold-filtered. A malformed detection fails the whole image with a
// ClassificationError.
func (c *Classifier) Classify(img image.Image, dets []model.Detection) (*Classification, error) {
	if img == nil {
		return nil, &model.ClassificationError{Index: -1, Reason: "nil image"}
	}
	bounds := img.Bounds()
	for i, d := range dets {
		if err := validate(i, d, bounds); err != nil {
			return nil, err
		}
	}

	scene := NewScene(img)
	out := &Classification{}
	for _, d := range dets {
		switch c.labels.Category(d.ClassID) {
		case model.CategoryPerson:
			if c.people.IsPhysical(scene, d) {
				out.People = append(out.People, d)
			} else {
				out.RejectedPeople++
			}
		case model.CategoryVehicle:
			out.Vehicles = append(out.Vehicles, d)
		case model.CategoryTrafficLight:
			region := d.Region
			if region == nil {
				region = crop(img, d.Box.Rect())
			}
			out.Lights = append(out.Lights, ClassifiedLight{Detection: d, State: c.lights.Classify(region)})
		default:
			out.Ignored++
		}
	}
	return out, nil
}

func validate(i int, d model.Detection, bounds image.Rectangle) error {
	switch {
	case math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1:
		return &model.ClassificationError{Index: i, Reason: fmt.Sprintf("confidence %v outside [0,1]", d.Confidence)}
	case d.Box.W <= 0 || d.Box.H <= 0:
		return &model.ClassificationError{Index: i, Reason: fmt.Sprintf("empty bounding box %+v", d.Box)}
	case !d.Box.Rect().Overlaps(bounds):
		return &model.ClassificationError{Index: i, Reason: fmt.Sprintf("bounding box %+v outside image %v", d.Box, bounds)}
	}
	return nil
}
