package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/services/ai"
	"streetcount/internal/services/classifier"
)

// Analyzer turns one decoded image into an ImageResult. It is not safe for
// concurrent use when its detector is not; the batch scheduler gives every
// worker its own Analyzer.
type Analyzer struct {
	detector   ai.Detector
	classifier *classifier.Classifier
	logger     *logger.Logger
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock replaces time.Now, used for timestamps and processing time.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

func New(detector ai.Detector, c *classifier.Classifier, logger *logger.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		detector:   detector,
		classifier: c,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ValidThreshold reports whether t is a usable confidence threshold.
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t > 0 && t <= 1
}

// Analyze detects and classifies objects in src. Detections below threshold
// are never counted. It returns either a complete result or an error, never both.
func (a *Analyzer) Analyze(ctx context.Context, src model.Image, threshold float64) (*model.ImageResult, error) {
	if !ValidThreshold(threshold) {
		return nil, fmt.Errorf("%w: got %v", model.ErrInvalidThreshold, threshold)
	}
	if src.Pixels == nil {
		return nil, &model.DecodeError{Path: src.Path, Err: errors.New("no pixel data")}
	}

	start := a.now()

	dets, err := a.detector.Detect(ctx, src.Pixels, threshold)
	if err != nil {
		var detErr *model.DetectionError
		if !errors.As(err, &detErr) {
			return nil, &model.DetectionError{Path: src.Path, Err: err}
		}
		if detErr.Path == "" {
			detErr.Path = src.Path
		}
		return nil, err
	}

	cls, err := a.classifier.Classify(src.Pixels, dets)
	if err != nil {
		return nil, err
	}

	result := &model.ImageResult{
		PeopleCount:  len(cls.People),
		VehicleCount: len(cls.Vehicles),
		ImagePath:    src.Path,
	}
	lightConf := make([]float64, 0, len(cls.Lights))
	for _, l := range cls.Lights {
		result.TrafficLights.Add(l.State)
		lightConf = append(lightConf, l.Detection.Confidence)
	}
	result.ConfidenceScores = model.ConfidenceScores{
		People:        meanConfidence(confidences(cls.People)),
		Vehicles:      meanConfidence(confidences(cls.Vehicles)),
		TrafficLights: meanConfidence(lightConf),
	}

	if undecided := result.TrafficLights.Total - result.TrafficLights.Decided(); undecided > 0 {
		a.logger.Info("%s: colour of %d traffic light(s) undecided", src.Path, undecided)
	}
	if cls.RejectedPeople > 0 {
		a.logger.Info("%s: %d person detection(s) rejected as non-physical", src.Path, cls.RejectedPeople)
	}

	end := a.now()
	result.ProcessingTime = end.Sub(start).Seconds()
	result.Timestamp = end
	return result, nil
}

func confidences(dets []model.Detection) []float64 {
	out := make([]float64, len(dets))
	for i, d := range dets {
		out[i] = d.Confidence
	}
	return out
}

func meanConfidence(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}
