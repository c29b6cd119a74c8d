package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"streetcount/internal/app"
	"streetcount/internal/config"
	"streetcount/internal/logger"
	"streetcount/internal/model"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile     string
		output      string
		confidence  float64
		workers     int
		sequential  bool
		database    string
		listen      string
		modelPath   string
		modelConfig string
		format      string
		labels      string
		noSmart     bool
		flat        bool
	)
	flag.StringVar(&envFile, "env", "", "Load configuration from this env file instead of ./.env")
	flag.StringVar(&output, "o", "", "Output JSON file for results")
	flag.StringVar(&output, "output", "", "Output JSON file for results")
	flag.Float64Var(&confidence, "c", 0.5, "Detection confidence threshold")
	flag.Float64Var(&confidence, "confidence", 0.5, "Detection confidence threshold")
	flag.IntVar(&workers, "w", 4, "Number of parallel workers")
	flag.IntVar(&workers, "workers", 4, "Number of parallel workers")
	flag.BoolVar(&sequential, "sequential", false, "Process images sequentially instead of in parallel")
	flag.StringVar(&database, "db", "", "Also store results in this SQLite database")
	flag.StringVar(&listen, "listen", "", "Serve progress and cancellation on this address, e.g. :8080")
	flag.StringVar(&modelPath, "model", "", "Detection model file")
	flag.StringVar(&modelConfig, "model-config", "", "Detection model config file")
	flag.StringVar(&format, "format", "", "Model output format: ssd or yolov8")
	flag.StringVar(&labels, "labels", "", "Class id space: coco91 or coco80")
	flag.BoolVar(&noSmart, "no-smart-filter", false, "Count every person detection, including statues and pictures")
	flag.BoolVar(&flat, "flat", false, "Do not descend into subdirectories")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <image dir or files>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg := config.Load()
	if envFile != "" {
		var err error
		if cfg, err = config.LoadFile(envFile); err != nil {
			log.Printf("❌ %v", err)
			return 1
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o", "output":
			cfg.OutputPath = output
		case "c", "confidence":
			cfg.ConfidenceThreshold = confidence
		case "w", "workers":
			cfg.Workers = workers
		case "sequential":
			cfg.Sequential = sequential
		case "db":
			cfg.DatabasePath = database
		case "listen":
			cfg.ListenAddr = listen
		case "model":
			cfg.ModelPath = modelPath
		case "model-config":
			cfg.ModelConfigPath = modelConfig
		case "format":
			cfg.ModelFormat = format
		case "labels":
			cfg.LabelSet = labels
		case "no-smart-filter":
			cfg.SmartFilter = !noSmart
		case "flat":
			cfg.Recursive = !flat
		}
	})

	l, err := logger.NewLogger(cfg)
	if err != nil {
		log.Printf("❌ Failed to initialize logger: %v", err)
		return 1
	}
	defer l.Close()

	application, err := app.NewApp(cfg, l)
	if err != nil {
		l.Error("Failed to start: %v", err)
		return 1
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := application.Run(ctx, flag.Args())
	if errors.Is(err, model.ErrNoInput) {
		fmt.Println("No supported images found")
		return 0
	}
	if result != nil {
		s := result.Summary
		fmt.Printf("\n📊 Summary: %d images, %d people, %d vehicles, %d traffic lights (red %d, green %d, yellow %d, unknown %d)\n",
			s.ProcessedCount, s.TotalPeople, s.TotalVehicles, s.TotalTrafficLights,
			s.TrafficLightStates.Red, s.TrafficLightStates.Green, s.TrafficLightStates.Yellow, s.TrafficLightStates.Unknown)
		if s.FailureCount > 0 {
			fmt.Printf("⚠️  %d image(s) failed\n", s.FailureCount)
			for _, e := range result.Errors() {
				if e.Kind != model.KindCancelled {
					fmt.Printf("   - %s: %s\n", e.ImagePath, e.Message)
				}
			}
		}
		if s.Cancelled {
			fmt.Printf("🛑 Cancelled, %d image(s) not processed\n", s.CancelledCount)
		}
	}
	if err != nil {
		l.Error("Batch processing failed: %v", err)
		return 1
	}

	fmt.Println("✅ Batch processing completed successfully!")
	return 0
}
