package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	ModelPath       string
	ModelConfigPath string
	ModelFormat     string // ssd or yolov8
	LabelSet        string // coco91 or coco80
	ModelInputSize  int
	NMSThreshold    float64

	ConfidenceThreshold float64
	Workers             int
	Sequential          bool // forces Workers=1
	Recursive           bool

	OutputPath   string
	DatabasePath string // empty disables the SQLite store
	ListenAddr   string // empty disables the progress server
	ControlToken string
	LogDirectory string

	SmartFilter           bool
	PersonMinAspect       float64
	PersonMaxAspect       float64
	PersonMinChromaSpread float64

	LightMinSaturation  float64
	LightMinValue       float64
	LightMinLitFraction float64
	LightDominanceRatio float64
}

// Load reads configuration from the environment, after applying any .env file
// found in the working directory. Values already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit env file; a missing file is an error.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	return &Config{
		ModelPath:       getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath: getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ModelFormat:     getEnv("MODEL_FORMAT", "ssd"),
		LabelSet:        getEnv("LABEL_SET", "coco91"),
		ModelInputSize:  getEnvAsInt("MODEL_INPUT_SIZE", 300),
		NMSThreshold:    getEnvAsFloat("NMS_THRESHOLD", 0.45),

		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		Workers:             getEnvAsInt("WORKERS", 4),
		Sequential:          getEnvAsBool("SEQUENTIAL", false),
		Recursive:           getEnvAsBool("RECURSIVE", true),

		OutputPath:   getEnv("OUTPUT_PATH", ""),
		DatabasePath: getEnv("DATABASE_PATH", ""),
		ListenAddr:   getEnv("LISTEN_ADDR", ""),
		ControlToken: getEnv("CONTROL_TOKEN", ""),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),

		SmartFilter:           getEnvAsBool("SMART_FILTER", true),
		PersonMinAspect:       getEnvAsFloat("PERSON_MIN_ASPECT", 0.8),
		PersonMaxAspect:       getEnvAsFloat("PERSON_MAX_ASPECT", 5.0),
		PersonMinChromaSpread: getEnvAsFloat("PERSON_MIN_CHROMA_SPREAD", 0.035),

		LightMinSaturation:  getEnvAsFloat("LIGHT_MIN_SATURATION", 0.35),
		LightMinValue:       getEnvAsFloat("LIGHT_MIN_VALUE", 0.45),
		LightMinLitFraction: getEnvAsFloat("LIGHT_MIN_LIT_FRACTION", 0.02),
		LightDominanceRatio: getEnvAsFloat("LIGHT_DOMINANCE_RATIO", 1.5),
	}
}

// WorkerCount returns the effective pool size.
func (c *Config) WorkerCount() int {
	if c.Sequential {
		return 1
	}
	return c.Workers
}

// Validate checks value ranges and returns every problem found.
func (c *Config) Validate() error {
	var err error

	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold <= 1) {
		err = multierr.Append(err, fmt.Errorf("CONFIDENCE_THRESHOLD %.3f outside (0,1]", c.ConfidenceThreshold))
	}
	if c.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("WORKERS %d must be at least 1", c.Workers))
	}
	switch c.ModelFormat {
	case "ssd", "yolov8":
	default:
		err = multierr.Append(err, fmt.Errorf("MODEL_FORMAT %q must be ssd or yolov8", c.ModelFormat))
	}
	switch c.LabelSet {
	case "coco91", "coco80":
	default:
		err = multierr.Append(err, fmt.Errorf("LABEL_SET %q must be coco91 or coco80", c.LabelSet))
	}
	if c.ModelInputSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("MODEL_INPUT_SIZE %d must be positive", c.ModelInputSize))
	}
	if !(c.NMSThreshold > 0 && c.NMSThreshold <= 1) {
		err = multierr.Append(err, fmt.Errorf("NMS_THRESHOLD %.3f outside (0,1]", c.NMSThreshold))
	}
	if !(c.PersonMinAspect >= 0) || !(c.PersonMaxAspect >= 0) ||
		(c.PersonMaxAspect > 0 && c.PersonMinAspect > c.PersonMaxAspect) {
		err = multierr.Append(err, fmt.Errorf("person aspect band [%.2f, %.2f] is invalid", c.PersonMinAspect, c.PersonMaxAspect))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"PERSON_MIN_CHROMA_SPREAD", c.PersonMinChromaSpread},
		{"LIGHT_MIN_SATURATION", c.LightMinSaturation},
		{"LIGHT_MIN_VALUE", c.LightMinValue},
		{"LIGHT_MIN_LIT_FRACTION", c.LightMinLitFraction},
	} {
		if !(f.v >= 0 && f.v <= 1) {
			err = multierr.Append(err, fmt.Errorf("%s %.3f outside [0,1]", f.name, f.v))
		}
	}
	if !(c.LightDominanceRatio >= 1) {
		err = multierr.Append(err, fmt.Errorf("LIGHT_DOMINANCE_RATIO %.3f must be at least 1", c.LightDominanceRatio))
	}

	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
