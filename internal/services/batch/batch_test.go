package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/services/ai"
	"streetcount/internal/services/ai/aitest"
	"streetcount/internal/services/classifier"
)

// namedImage lets scripted detectors tell images apart.
type namedImage struct {
	*image.RGBA
	name string
}

func street(name string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{200, 50, 50, 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(80, 0, 90, 30), &image.Uniform{C: color.RGBA{20, 20, 20, 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(81, 21, 89, 29), &image.Uniform{C: color.RGBA{0, 255, 0, 255}}, image.Point{}, draw.Src)
	return namedImage{RGBA: img, name: name}
}

// memLoader serves images from memory; paths listed in fail cannot be decoded.
type memLoader struct {
	fail map[string]bool
}

func (l memLoader) Load(_ context.Context, path string) (model.Image, error) {
	if l.fail[path] {
		return model.Image{}, &model.DecodeError{Path: path, Err: errors.New("corrupt data")}
	}
	return model.Image{Path: path, Pixels: street(path)}, nil
}

// scripted returns detections derived from the image name, so every image
// has a distinct but reproducible outcome.
func scripted(_ context.Context, img image.Image) ([]model.Detection, error) {
	name := img.(namedImage).name
	var n int
	fmt.Sscanf(name, "image%d", &n)

	var dets []model.Detection
	for i := 0; i < n%4; i++ {
		dets = append(dets, model.Detection{ClassID: 1, Confidence: 0.6 + 0.1*float64(i), Box: model.BoundingBox{X: 10 * i, Y: 10, W: 8, H: 30}})
	}
	if n%2 == 0 {
		dets = append(dets, model.Detection{ClassID: 3, Confidence: 0.9, Box: model.BoundingBox{X: 10, Y: 60, W: 30, H: 20}})
	}
	if n%3 == 0 {
		dets = append(dets, model.Detection{ClassID: 10, Confidence: 0.7, Box: model.BoundingBox{X: 80, Y: 0, W: 10, H: 30}})
	}
	dets = append(dets, model.Detection{ClassID: 3, Confidence: 0.2, Box: model.BoundingBox{X: 0, Y: 0, W: 5, H: 5}})
	return dets, nil
}

func newScheduler(factory ai.Factory, loader Loader) *Scheduler {
	return NewScheduler(factory, classifier.New(ai.COCO91, nil, nil), loader, logger.NewNop())
}

func scriptedFactory() *aitest.Factory {
	return &aitest.Factory{New: func() *aitest.Detector { return &aitest.Detector{DetectFunc: scripted} }}
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("image%d", i+1)
	}
	return out
}

var ignoreTiming = cmp.Options{
	cmpopts.IgnoreFields(model.ImageResult{}, "ProcessingTime", "Timestamp"),
	cmpopts.IgnoreFields(model.Summary{}, "BatchID", "WorkerCount", "StartedAt", "FinishedAt",
		"ElapsedTime", "TotalProcessingTime", "AverageProcessingTime"),
}

func TestProcess_DeterministicAcrossWorkerCounts(t *testing.T) {
	items := names(40)
	loader := memLoader{fail: map[string]bool{"image7": true, "image23": true}}

	var results []*model.BatchResult
	for _, workers := range []int{1, 3, 8} {
		s := newScheduler(scriptedFactory().Create, loader)
		res, err := s.Process(context.Background(), items, Options{ConfidenceThreshold: 0.5, Workers: workers})
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results[1:] {
		if diff := cmp.Diff(results[0], res, ignoreTiming); diff != "" {
			t.Errorf("batch result differs between worker counts (-sequential +parallel):\n%s", diff)
		}
	}

	res := results[0]
	require.Len(t, res.Records, 40)
	for i, r := range res.Records {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, items[i], r.Path())
	}
	assert.Equal(t, []string{"image7", "image23"}, res.Summary.Failed)
	assert.Equal(t, 38, res.Summary.ProcessedCount)
}

func TestProcess_ThreeImagesSecondFails(t *testing.T) {
	s := newScheduler(scriptedFactory().Create, memLoader{fail: map[string]bool{"image2": true}})

	res, err := s.Process(context.Background(), names(3), Options{ConfidenceThreshold: 0.5, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Summary.TotalImages)
	assert.Equal(t, 2, res.Summary.ProcessedCount)
	assert.Equal(t, 1, res.Summary.FailureCount)
	assert.Equal(t, []string{"image2"}, res.Summary.Failed)
	assert.False(t, res.Summary.Cancelled)

	require.NotNil(t, res.Records[1].Err)
	assert.Equal(t, model.KindDecode, res.Records[1].Err.Kind)
	assert.NotNil(t, res.Records[0].Result)
	assert.NotNil(t, res.Records[2].Result)

	// image1: 1 person; image3: 3 people and a green light.
	assert.Equal(t, 4, res.Summary.TotalPeople)
	assert.Equal(t, 0, res.Summary.TotalVehicles)
	assert.Equal(t, 1, res.Summary.TotalTrafficLights)
	assert.Equal(t, model.LightStateTotals{Green: 1}, res.Summary.TrafficLightStates)
}

func TestProcess_CorruptFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("definitely not a jpeg"), 0o644))
	writePNG(t, filepath.Join(dir, "c.png"))

	in, err := EnumerateDir(dir, true)
	require.NoError(t, err)

	factory := &aitest.Factory{New: func() *aitest.Detector {
		return aitest.Static(model.Detection{ClassID: 3, Confidence: 0.9, Box: model.BoundingBox{W: 4, H: 4}})
	}}
	res, err := newScheduler(factory.Create, nil).ProcessInput(context.Background(), in, Options{ConfidenceThreshold: 0.5, Workers: 4})
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Len(t, res.Results(), 2)
	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.KindDecode, errs[0].Kind)
	assert.Equal(t, filepath.Join(dir, "b.jpg"), errs[0].ImagePath)
	assert.Equal(t, 2, res.Summary.TotalVehicles)
}

func TestProcess_ClosesDetectors(t *testing.T) {
	factory := scriptedFactory()
	s := newScheduler(factory.Create, memLoader{})

	_, err := s.Process(context.Background(), names(10), Options{ConfidenceThreshold: 0.5, Workers: 4})
	require.NoError(t, err)

	created := factory.Created()
	require.Len(t, created, 4)
	calls := 0
	for _, d := range created {
		assert.True(t, d.Closed())
		calls += d.Calls()
	}
	assert.Equal(t, 10, calls)
}

func TestProcess_PoolNeverExceedsItems(t *testing.T) {
	factory := scriptedFactory()
	s := newScheduler(factory.Create, memLoader{})

	res, err := s.Process(context.Background(), names(2), Options{ConfidenceThreshold: 0.5, Workers: 8})
	require.NoError(t, err)
	assert.Len(t, factory.Created(), 2)
	assert.Equal(t, 2, res.Summary.WorkerCount)
}

func TestProcess_Sequential(t *testing.T) {
	factory := scriptedFactory()
	s := newScheduler(factory.Create, memLoader{})

	_, err := s.Process(context.Background(), names(5), Options{ConfidenceThreshold: 0.5, Workers: 8, Sequential: true})
	require.NoError(t, err)
	assert.Len(t, factory.Created(), 1)
}

func TestProcess_InvalidOptions(t *testing.T) {
	s := newScheduler(scriptedFactory().Create, memLoader{})

	_, err := s.Process(context.Background(), names(1), Options{ConfidenceThreshold: 0, Workers: 1})
	assert.ErrorIs(t, err, model.ErrInvalidThreshold)

	_, err = s.Process(context.Background(), names(1), Options{ConfidenceThreshold: 1.5, Workers: 1})
	assert.ErrorIs(t, err, model.ErrInvalidThreshold)

	_, err = s.Process(context.Background(), names(1), Options{ConfidenceThreshold: 0.5, Workers: 0})
	assert.ErrorIs(t, err, model.ErrInvalidWorkerCount)
}

func TestProcess_FactoryFailure(t *testing.T) {
	boom := errors.New("no model")
	factory := scriptedFactory()
	factory.FailAfter = 2
	factory.Err = boom

	_, err := newScheduler(factory.Create, memLoader{}).Process(context.Background(), names(5), Options{ConfidenceThreshold: 0.5, Workers: 4})
	assert.ErrorIs(t, err, boom)

	created := factory.Created()
	require.Len(t, created, 2)
	for _, d := range created {
		assert.True(t, d.Closed())
		assert.Zero(t, d.Calls())
	}
}

func TestProcess_PanicBecomesRecord(t *testing.T) {
	factory := &aitest.Factory{New: func() *aitest.Detector {
		return &aitest.Detector{DetectFunc: func(ctx context.Context, img image.Image) ([]model.Detection, error) {
			if img.(namedImage).name == "image2" {
				panic("tensor shape mismatch")
			}
			return scripted(ctx, img)
		}}
	}}

	res, err := newScheduler(factory.Create, memLoader{}).Process(context.Background(), names(3), Options{ConfidenceThreshold: 0.5, Workers: 2})
	require.NoError(t, err)

	require.NotNil(t, res.Records[1].Err)
	assert.Equal(t, model.KindDetection, res.Records[1].Err.Kind)
	assert.Contains(t, res.Records[1].Err.Message, "tensor shape mismatch")
	assert.Equal(t, 2, res.Summary.ProcessedCount)
	assert.Equal(t, []string{"image2"}, res.Summary.Failed)
}

func TestProcess_Stop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	factory := &aitest.Factory{New: func() *aitest.Detector {
		return &aitest.Detector{DetectFunc: func(ctx context.Context, img image.Image) ([]model.Detection, error) {
			if img.(namedImage).name == "image1" {
				close(started)
				<-release
			}
			return scripted(ctx, img)
		}}
	}}
	s := newScheduler(factory.Create, memLoader{})

	type outcome struct {
		res *model.BatchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Process(context.Background(), names(5), Options{ConfidenceThreshold: 0.5, Workers: 1})
		done <- outcome{res, err}
	}()

	<-started
	s.Stop()
	close(release)
	out := <-done
	require.NoError(t, out.err)

	res := out.res
	require.NotNil(t, res.Records[0].Result, "in-flight item must finish")
	for _, r := range res.Records[1:] {
		require.NotNil(t, r.Err)
		assert.Equal(t, model.KindCancelled, r.Err.Kind)
	}
	assert.True(t, res.Summary.Cancelled)
	assert.Equal(t, 4, res.Summary.CancelledCount)
	assert.Equal(t, 1, res.Summary.ProcessedCount)
	assert.Zero(t, res.Summary.FailureCount)
	assert.Empty(t, res.Summary.Failed)

	snap := s.Progress().Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 4, snap.Cancelled)
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newScheduler(scriptedFactory().Create, memLoader{}).Process(ctx, names(4), Options{ConfidenceThreshold: 0.5, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Summary.CancelledCount)
	assert.Zero(t, res.Summary.ProcessedCount)
	assert.Zero(t, res.Summary.FailureCount)
	assert.True(t, res.Summary.Cancelled)
}

func TestProcess_Busy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	factory := &aitest.Factory{New: func() *aitest.Detector {
		return &aitest.Detector{DetectFunc: func(ctx context.Context, img image.Image) ([]model.Detection, error) {
			close(started)
			<-release
			return nil, nil
		}}
	}}
	s := newScheduler(factory.Create, memLoader{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), names(1), Options{ConfidenceThreshold: 0.5, Workers: 1})
		done <- err
	}()
	<-started

	_, err := s.Process(context.Background(), names(1), Options{ConfidenceThreshold: 0.5, Workers: 1})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	assert.NoError(t, <-done)
}

func TestProcess_Empty(t *testing.T) {
	factory := scriptedFactory()
	res, err := newScheduler(factory.Create, memLoader{}).ProcessInput(context.Background(), &Input{Skipped: []string{"notes.txt"}}, Options{ConfidenceThreshold: 0.5, Workers: 4})
	require.NoError(t, err)

	assert.Empty(t, factory.Created())
	assert.Zero(t, res.Summary.TotalImages)
	assert.Equal(t, []string{"notes.txt"}, res.Summary.Skipped)
	assert.NotNil(t, res.Summary.Failed)
}

func TestProgress_Subscribe(t *testing.T) {
	s := newScheduler(scriptedFactory().Create, memLoader{fail: map[string]bool{"image2": true}})
	updates, cancel := s.Progress().Subscribe(16)

	res, err := s.Process(context.Background(), names(3), Options{ConfidenceThreshold: 0.5, Workers: 2})
	require.NoError(t, err)
	cancel()

	var got []Snapshot
	for snap := range updates {
		got = append(got, snap)
	}
	// start, three completions, finish
	require.Len(t, got, 5)
	assert.True(t, got[0].Running)
	assert.Equal(t, 3, got[0].Total)
	last := got[len(got)-1]
	assert.False(t, last.Running)
	assert.Equal(t, 3, last.Completed)
	assert.Equal(t, 1, last.Failed)
	assert.Equal(t, res.Summary.BatchID, last.BatchID)
	assert.Equal(t, last, s.Progress().Snapshot())

	cancel()
}

func TestProgress_SlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewProgress()
	updates, cancel := p.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		p.update(func(s *Snapshot) { s.Completed++ })
	}

	first := <-updates
	assert.Equal(t, 1, first.Completed)
	assert.Equal(t, 10, p.Snapshot().Completed)
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{30, 90, 200, 255}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}
