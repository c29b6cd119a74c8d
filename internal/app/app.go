package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"streetcount/internal/config"
	"streetcount/internal/logger"
	"streetcount/internal/model"
	"streetcount/internal/repository/sqlite"
	"streetcount/internal/routes"
	"streetcount/internal/services/ai"
	"streetcount/internal/services/ai/dnn"
	"streetcount/internal/services/batch"
	"streetcount/internal/services/classifier"
	"streetcount/internal/services/report"
	"streetcount/internal/services/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	scheduler *batch.Scheduler
	hub       *websocket.HubService
	writers   report.MultiWriter
	db        *sqlite.DB
	repo      *sqlite.BatchRepository
	latest    atomic.Pointer[model.BatchResult]
}

// NewApp wires the application with the OpenCV DNN detector described by cfg.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	factory := dnn.NewFactory(dnn.Options{
		ModelPath:    cfg.ModelPath,
		ConfigPath:   cfg.ModelConfigPath,
		Format:       dnn.Format(cfg.ModelFormat),
		InputSize:    cfg.ModelInputSize,
		NMSThreshold: cfg.NMSThreshold,
	}, logger)
	return New(cfg, logger, factory)
}

// New wires the application around an arbitrary detector factory.
func New(cfg *config.Config, logger *logger.Logger, factory ai.Factory) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	c, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:    cfg,
		logger:    logger,
		scheduler: batch.NewScheduler(factory, c, batch.FileLoader{}, logger),
		hub:       websocket.NewHubService(logger),
	}

	output := cfg.OutputPath
	if output == "" {
		output = fmt.Sprintf("batch_results_%d.json", time.Now().Unix())
	}
	a.writers = append(a.writers, report.JSONWriter{Path: output})

	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.repo = sqlite.NewBatchRepository(db)
		a.writers = append(a.writers, sqlite.ReportWriter{Repo: a.repo, Path: cfg.DatabasePath})
	}

	return a, nil
}

func newClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	labels, err := ai.LabelSetByName(cfg.LabelSet)
	if err != nil {
		return nil, err
	}

	var people classifier.PersonPolicy = classifier.AcceptAllPersons{}
	if cfg.SmartFilter {
		p := classifier.DefaultPersonPolicy()
		p.MinAspect = cfg.PersonMinAspect
		p.MaxAspect = cfg.PersonMaxAspect
		p.MinChromaSpread = cfg.PersonMinChromaSpread
		people = p
	}

	lights := classifier.DefaultLightClassifier()
	lights.MinSaturation = cfg.LightMinSaturation
	lights.MinValue = cfg.LightMinValue
	lights.MinLitFraction = cfg.LightMinLitFraction
	lights.DominanceRatio = cfg.LightDominanceRatio

	return classifier.New(labels, people, lights), nil
}

// Latest returns the last finished batch, or nil.
func (a *App) Latest() *model.BatchResult {
	return a.latest.Load()
}

// Scheduler exposes the batch scheduler, e.g. to stop it on a signal.
func (a *App) Scheduler() *batch.Scheduler {
	return a.scheduler
}

// Run enumerates inputs, processes them and writes the report. When a
// listen address is configured the progress server runs alongside the batch
// and is shut down once the report is written. A cancelled ctx stops
// dispatching; the partial result is still written.
func (a *App) Run(ctx context.Context, inputs []string) (*model.BatchResult, error) {
	in, err := batch.Enumerate(inputs, a.config.Recursive)
	if err != nil {
		return nil, err
	}
	if len(in.Skipped) > 0 {
		a.logger.Warning("Skipping %d unsupported file(s)", len(in.Skipped))
	}
	if len(in.Items) == 0 {
		a.logger.Warning("No supported images found in %v", inputs)
		return nil, model.ErrNoInput
	}

	a.logger.Info("🎬 Processing %d image(s) with up to %d worker(s)", len(in.Items), min(a.config.WorkerCount(), len(in.Items)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.config.ListenAddr != "" {
		a.serve(gctx, g)
	}

	var result *model.BatchResult
	g.Go(func() error {
		defer cancel()

		res, err := a.scheduler.ProcessInput(gctx, in, batch.Options{
			ConfidenceThreshold: a.config.ConfidenceThreshold,
			Workers:             a.config.Workers,
			Sequential:          a.config.Sequential,
		})
		if err != nil {
			return err
		}
		a.latest.Store(res)
		result = res

		return a.writers.Write(context.WithoutCancel(gctx), res)
	})

	err = g.Wait()
	return result, err
}

func (a *App) serve(ctx context.Context, g *errgroup.Group) {
	deps := routes.Dependencies{
		Config:    a.config,
		Logger:    a.logger,
		Scheduler: a.scheduler,
		Hub:       a.hub,
		Reports:   a,
	}
	if a.repo != nil {
		deps.Repo = a.repo
	}
	srv := &http.Server{
		Addr:              a.config.ListenAddr,
		Handler:           routes.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	updates, unsubscribe := a.scheduler.Progress().Subscribe(16)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		for snap := range updates {
			if err := a.hub.BroadcastJSON(snap); err != nil {
				a.logger.Warning("Failed to broadcast progress: %v", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("🚀 Progress server listening on %s", a.config.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("progress server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		unsubscribe()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Close releases the database.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
