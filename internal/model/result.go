package model

import (
	"time"
)

// TrafficLightCounts holds per-state traffic light counts for one image.
// Lights whose state could not be decided are counted in Total and Unknown only,
// so Total == Red+Green+Yellow+Unknown.
type TrafficLightCounts struct {
	Total   int `json:"total"`
	Red     int `json:"red"`
	Green   int `json:"green"`
	Yellow  int `json:"yellow"`
	Unknown int `json:"unknown,omitempty"`
}

// Add records one light in the given state.
func (c *TrafficLightCounts) Add(state TrafficLightState) {
	c.Total++
	switch state {
	case LightRed:
		c.Red++
	case LightGreen:
		c.Green++
	case LightYellow:
		c.Yellow++
	default:
		c.Unknown++
	}
}

// Decided returns the number of lights with a known colour.
func (c TrafficLightCounts) Decided() int {
	return c.Red + c.Green + c.Yellow
}

// Merge adds other into c.
func (c *TrafficLightCounts) Merge(other TrafficLightCounts) {
	c.Total += other.Total
	c.Red += other.Red
	c.Green += other.Green
	c.Yellow += other.Yellow
	c.Unknown += other.Unknown
}

// ConfidenceScores holds the mean confidence of the counted detections per
// category. Empty categories report 0.
type ConfidenceScores struct {
	People        float64 `json:"people"`
	Vehicles      float64 `json:"vehicles"`
	TrafficLights float64 `json:"traffic_lights"`
}

// ImageResult is the analysis outcome for one image. It is built once by the
// analyzer and not modified afterwards.
type ImageResult struct {
	PeopleCount      int                `json:"people_count"`
	VehicleCount     int                `json:"vehicle_count"`
	TrafficLights    TrafficLightCounts `json:"traffic_lights"`
	ConfidenceScores ConfidenceScores   `json:"confidence_scores"`
	ProcessingTime   float64            `json:"processing_time"`
	ImagePath        string             `json:"image_path"`
	Timestamp        time.Time          `json:"timestamp"`
}
