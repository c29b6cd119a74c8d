package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/services/ai"
	"streetcount/internal/services/analyzer"
	"streetcount/internal/services/classifier"
)

// ErrBusy is returned when Process is called while a batch is running.
var ErrBusy = errors.New("a batch is already running")

// Options controls one batch run.
type Options struct {
	ConfidenceThreshold float64
	Workers             int
	Sequential          bool // forces a single worker
}

func (o Options) workerCount() int {
	if o.Sequential {
		return 1
	}
	return o.Workers
}

type task struct {
	index int
	path  string
}

type run struct {
	stop chan struct{}
	once sync.Once
}

// Scheduler processes batches of images on a bounded pool of workers, each
// with its own detector.
type Scheduler struct {
	factory    ai.Factory
	classifier *classifier.Classifier
	loader     Loader
	logger     *logger.Logger
	progress   *Progress

	mu      sync.Mutex
	current *run
}

func NewScheduler(factory ai.Factory, c *classifier.Classifier, loader Loader, logger *logger.Logger) *Scheduler {
	if loader == nil {
		loader = FileLoader{}
	}
	return &Scheduler{
		factory:    factory,
		classifier: c,
		loader:     loader,
		logger:     logger,
		progress:   NewProgress(),
	}
}

// Progress returns the progress tracker shared by every batch of s.
func (s *Scheduler) Progress() *Progress {
	return s.progress
}

// Stop asks the running batch to dispatch no further items. Items already
// being processed finish normally. Stop is a no-op when nothing is running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.once.Do(func() { close(s.current.stop) })
	}
}

// Process runs a batch over items, in order.
func (s *Scheduler) Process(ctx context.Context, items []string, opts Options) (*model.BatchResult, error) {
	return s.ProcessInput(ctx, &Input{Items: items}, opts)
}

// ProcessInput runs a batch over in. Per-item failures are recorded in the
// result; an error is returned only when the batch could not run at all.
func (s *Scheduler) ProcessInput(ctx context.Context, in *Input, opts Options) (*model.BatchResult, error) {
	if !analyzer.ValidThreshold(opts.ConfidenceThreshold) {
		return nil, fmt.Errorf("%w: got %v", model.ErrInvalidThreshold, opts.ConfidenceThreshold)
	}
	workers := opts.workerCount()
	if workers < 1 {
		return nil, fmt.Errorf("%w: got %d", model.ErrInvalidWorkerCount, workers)
	}

	r, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	poolSize := min(workers, len(in.Items))
	detectors, err := s.openDetectors(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create detectors: %w", err)
	}
	defer func() {
		if err := closeAll(detectors); err != nil {
			s.logger.Warning("Error closing detectors: %v", err)
		}
	}()

	batchID := uuid.NewString()
	started := time.Now()
	records := make([]model.Record, len(in.Items))
	s.progress.update(func(p *Snapshot) {
		*p = Snapshot{BatchID: batchID, Total: len(in.Items), Running: true, StartedAt: started}
	})
	s.logger.Info("🎬 Batch %s started: %d image(s), %d worker(s), threshold %.2f",
		batchID, len(in.Items), poolSize, opts.ConfidenceThreshold)

	queue := make(chan task)
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go s.worker(ctx, i, analyzer.New(d, s.classifier, s.logger), queue, records, opts.ConfidenceThreshold, &wg)
	}

	dispatched := s.dispatch(ctx, r, in.Items, queue)
	close(queue)
	wg.Wait()

	s.progress.update(func(p *Snapshot) {
		for i := dispatched; i < len(in.Items); i++ {
			records[i] = cancelledRecord(i, in.Items[i])
			p.Cancelled++
		}
		p.Running = false
	})

	summary := summarize(records, in.Skipped)
	summary.BatchID = batchID
	summary.ConfidenceThreshold = opts.ConfidenceThreshold
	summary.WorkerCount = poolSize
	summary.StartedAt = started
	summary.FinishedAt = time.Now()
	summary.ElapsedTime = summary.FinishedAt.Sub(started).Seconds()

	if summary.Cancelled {
		s.logger.Warning("🛑 Batch %s cancelled: %d processed, %d failed, %d not processed",
			batchID, summary.ProcessedCount, summary.FailureCount, summary.CancelledCount)
	} else {
		s.logger.Info("✅ Batch %s finished: %d processed, %d failed in %.2fs",
			batchID, summary.ProcessedCount, summary.FailureCount, summary.ElapsedTime)
	}

	return &model.BatchResult{Summary: summary, Records: records}, nil
}

func (s *Scheduler) begin() (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrBusy
	}
	s.current = &run{stop: make(chan struct{})}
	return s.current, nil
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Scheduler) openDetectors(n int) ([]ai.Detector, error) {
	detectors := make([]ai.Detector, 0, n)
	for i := 0; i < n; i++ {
		d, err := s.factory()
		if err != nil {
			return nil, multierr.Append(err, closeAll(detectors))
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}

func closeAll(detectors []ai.Detector) error {
	var err error
	for _, d := range detectors {
		err = multierr.Append(err, d.Close())
	}
	return err
}

// dispatch feeds items to the workers in order and returns how many were
// handed out before a stop or context cancellation.
func (s *Scheduler) dispatch(ctx context.Context, r *run, items []string, queue chan<- task) int {
	for i, path := range items {
		select {
		case <-r.stop:
			return i
		case <-ctx.Done():
			return i
		default:
		}

		select {
		case queue <- task{index: i, path: path}:
		case <-r.stop:
			return i
		case <-ctx.Done():
			return i
		}
	}
	return len(items)
}

func (s *Scheduler) worker(ctx context.Context, id int, a *analyzer.Analyzer, queue <-chan task, records []model.Record, threshold float64, wg *sync.WaitGroup) {
	defer wg.Done()

	s.logger.Info("🔧 Processing worker %d started", id)
	for t := range queue {
		rec := s.processItem(ctx, a, t, threshold)
		s.progress.update(func(p *Snapshot) {
			records[t.index] = rec
			switch {
			case rec.Result != nil:
				p.Completed++
			case rec.Failed():
				p.Completed++
				p.Failed++
			default:
				p.Cancelled++
			}
		})
	}
	s.logger.Info("🔧 Processing worker %d stopped", id)
}

func (s *Scheduler) processItem(ctx context.Context, a *analyzer.Analyzer, t task, threshold float64) (rec model.Record) {
	rec.Index = t.index
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while processing %s: %v", t.path, r)
			rec.Result = nil
			rec.Err = model.NewItemError(t.path, &model.DetectionError{Path: t.path, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	img, err := s.loader.Load(ctx, t.path)
	if err == nil {
		var res *model.ImageResult
		res, err = a.Analyze(ctx, img, threshold)
		if err == nil {
			rec.Result = res
			return rec
		}
	} else if !isDecodeError(err) {
		err = &model.DecodeError{Path: t.path, Err: err}
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return cancelledRecord(t.index, t.path)
	}
	s.logger.Error("Error processing %s: %v", t.path, err)
	rec.Err = model.NewItemError(t.path, err)
	return rec
}

func isDecodeError(err error) bool {
	var decodeErr *model.DecodeError
	return errors.As(err, &decodeErr)
}

func cancelledRecord(index int, path string) model.Record {
	return model.Record{
		Index: index,
		Err:   &model.ItemError{Kind: model.KindCancelled, ImagePath: path},
	}
}

// summarize aggregates records. Identity and timing fields are left to the caller.
func summarize(records []model.Record, skipped []string) model.Summary {
	s := model.Summary{
		TotalImages: len(records),
		Failed:      []string{},
		Skipped:     skipped,
	}

	var lights model.TrafficLightCounts
	var times []float64
	for _, r := range records {
		switch {
		case r.Result != nil:
			s.ProcessedCount++
			s.TotalPeople += r.Result.PeopleCount
			s.TotalVehicles += r.Result.VehicleCount
			lights.Merge(r.Result.TrafficLights)
			times = append(times, r.Result.ProcessingTime)
		case r.Failed():
			s.FailureCount++
			s.Failed = append(s.Failed, r.Path())
		default:
			s.CancelledCount++
		}
	}
	s.Cancelled = s.CancelledCount > 0
	s.TotalTrafficLights = lights.Total
	s.TrafficLightStates = model.LightStateTotals{
		Red:     lights.Red,
		Green:   lights.Green,
		Yellow:  lights.Yellow,
		Unknown: lights.Unknown,
	}

	if len(times) > 0 {
		s.TotalProcessingTime = floats.Sum(times)
		s.AverageProcessingTime = stat.Mean(times, nil)
	}
	return s
}
