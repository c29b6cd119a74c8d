// Package aitest provides scripted detectors for tests.
package aitest

import (
	"context"
	"image"
	"sync"

	"streetcount/internal/model"
	"streetcount/internal/services/ai"
)

// Detector is an ai.Detector whose output is produced by DetectFunc. The
// threshold is applied with ai.FilterByConfidence like a real backend.
type Detector struct {
	DetectFunc func(ctx context.Context, img image.Image) ([]model.Detection, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// Static returns a Detector that reports dets for every image.
func Static(dets ...model.Detection) *Detector {
	return &Detector{
		DetectFunc: func(context.Context, image.Image) ([]model.Detection, error) {
			return append([]model.Detection(nil), dets...), nil
		},
	}
}

// Failing returns a Detector that always fails with err.
func Failing(err error) *Detector {
	return &Detector{
		DetectFunc: func(context.Context, image.Image) ([]model.Detection, error) {
			return nil, err
		},
	}
}

func (d *Detector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	dets, err := d.DetectFunc(ctx, img)
	if err != nil {
		return nil, err
	}
	return ai.FilterByConfidence(dets, threshold), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Calls returns how many times Detect was called.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Closed reports whether Close was called.
func (d *Detector) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Factory hands out detectors built by New and remembers them.
type Factory struct {
	New func() *Detector

	// FailAfter makes the factory fail once this many detectors exist. Zero
	// never fails.
	FailAfter int
	Err       error

	mu      sync.Mutex
	created []*Detector
}

// Create implements ai.Factory.
func (f *Factory) Create() (ai.Detector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAfter > 0 && len(f.created) >= f.FailAfter {
		return nil, f.Err
	}
	d := f.New()
	f.created = append(f.created, d)
	return d, nil
}

// Created returns the detectors handed out so far.
func (f *Factory) Created() []*Detector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Detector(nil), f.created...)
}
