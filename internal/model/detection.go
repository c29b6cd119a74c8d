package model

import (
	"image"
)

// BoundingBox is a detection box in image pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Aspect returns height divided by width, or 0 for a degenerate box.
func (b BoundingBox) Aspect() float64 {
	if b.W <= 0 {
		return 0
	}
	return float64(b.H) / float64(b.W)
}

// Detection is a single raw detector output. Region optionally carries the
// cropped pixels for the box; when nil the classifier crops from the source image.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        BoundingBox
	Region     image.Image
}

// Category is the domain class a detection is counted under.
type Category string

const (
	CategoryPerson       Category = "person"
	CategoryVehicle      Category = "vehicle"
	CategoryTrafficLight Category = "traffic_light"
	CategoryIgnored      Category = "ignored"
)

// TrafficLightState is the colour a traffic light is showing.
type TrafficLightState string

const (
	LightRed     TrafficLightState = "red"
	LightGreen   TrafficLightState = "green"
	LightYellow  TrafficLightState = "yellow"
	LightUnknown TrafficLightState = "unknown"
)

// Image is a decoded image together with the identifier it was loaded from.
type Image struct {
	Path   string
	Pixels image.Image
}
