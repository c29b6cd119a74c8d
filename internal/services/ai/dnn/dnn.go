// Package dnn runs OpenCV DNN object detection networks through gocv.
package dnn

import (
	"context"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/services/ai"
)

// Format is the output layout of a DNN model.
type Format string

const (
	FormatSSD    Format = "ssd"
	FormatYOLOv8 Format = "yolov8"
)

// Options configures a Detector.
type Options struct {
	ModelPath    string
	ConfigPath   string // optional, e.g. the .pbtxt of a TensorFlow graph
	Format       Format
	InputSize    int
	NMSThreshold float64
}

// Detector runs an OpenCV DNN network. A gocv.Net must not be shared
// between goroutines; use NewFactory to give each worker its own network.
type Detector struct {
	net    gocv.Net
	opts   Options
	logger *logger.Logger
}

// NewDetector loads the network and sets backend/target preferences.
func NewDetector(opts Options, logger *logger.Logger) (*Detector, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", opts.ModelPath)
	}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("model config file not found: %s", opts.ConfigPath)
		}
	}
	switch opts.Format {
	case FormatSSD, FormatYOLOv8:
	default:
		return nil, fmt.Errorf("unsupported model format %q", opts.Format)
	}
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", opts.InputSize)
	}

	net := gocv.ReadNet(opts.ModelPath, opts.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", opts.ModelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	logger.Info("Detection network %s (%s) initialized", opts.ModelPath, opts.Format)
	return &Detector{net: net, opts: opts, logger: logger}, nil
}

// NewFactory returns an ai.Factory that loads a separate network per call.
func NewFactory(opts Options, logger *logger.Logger) ai.Factory {
	return func() (ai.Detector, error) {
		return NewDetector(opts, logger)
	}
}

// Detect runs the network on img and returns detections at or above threshold.
func (d *Detector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.DetectionError{Err: err}
	}
	if img == nil {
		return nil, &model.DetectionError{Err: fmt.Errorf("nil image")}
	}
	if d.net.Empty() {
		return nil, &model.DetectionError{Err: fmt.Errorf("detection network not initialized")}
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, &model.DetectionError{Err: fmt.Errorf("failed to convert image: %w", err)}
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &model.DetectionError{Err: fmt.Errorf("converted image is empty")}
	}
	w, h := mat.Cols(), mat.Rows()

	// The Mat is already RGB, so no channel swap.
	size := image.Pt(d.opts.InputSize, d.opts.InputSize)
	var blob gocv.Mat
	if d.opts.Format == FormatYOLOv8 {
		blob = gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), false, false)
	} else {
		blob = gocv.BlobFromImage(mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, &model.DetectionError{Err: fmt.Errorf("failed to read network output: %w", err)}
	}

	var detections []model.Detection
	switch d.opts.Format {
	case FormatYOLOv8:
		dims := output.Size()
		if len(dims) != 3 {
			return nil, &model.DetectionError{Err: fmt.Errorf("unexpected yolov8 output dims %v", dims)}
		}
		detections, err = ai.ParseYOLOv8(data, dims[1], dims[2], d.opts.InputSize, w, h, threshold, d.opts.NMSThreshold)
	default:
		detections, err = ai.ParseSSD(data, w, h, threshold)
	}
	if err != nil {
		return nil, &model.DetectionError{Err: err}
	}

	return ai.FilterByConfidence(detections, threshold), nil
}

// Close releases the network.
func (d *Detector) Close() error {
	if d.net.Empty() {
		return nil
	}
	return d.net.Close()
}
