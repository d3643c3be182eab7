package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ServerConfig is the listen address of the plate store.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// StoreConfig points the detector at the plate store.
type StoreConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CameraConfig struct {
	// Source is a device index ("0") or a video file / stream URL.
	Source string `mapstructure:"source"`
	Model  string `mapstructure:"model"`
}

type DetectorConfig struct {
	ModelPath  string  `mapstructure:"model_path"`
	InputSize  int     `mapstructure:"input_size"`
	Confidence float64 `mapstructure:"confidence"`
	NMS        float64 `mapstructure:"nms"`
}

type OCRConfig struct {
	Language  string `mapstructure:"language"`
	Whitelist string `mapstructure:"whitelist"`
}

type PipelineConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	FrameWidth   int           `mapstructure:"frame_width"`
	FrameHeight  int           `mapstructure:"frame_height"`
	CropWidth    int           `mapstructure:"crop_width"`
	CropHeight   int           `mapstructure:"crop_height"`
	ROI          [][]float64   `mapstructure:"roi"`
	// Display selects the publisher: "dashboard", "window" or "none".
	Display string `mapstructure:"display"`
}

type DashboardConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=127.0.0.1 user=postgres password=postgres dbname=numberplate port=5432 sslmode=disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("store.base_url", "http://127.0.0.1:8000")
	v.SetDefault("store.timeout", 2*time.Second)

	v.SetDefault("camera.source", "0")
	v.SetDefault("camera.model", "generic-webcam")

	v.SetDefault("detector.model_path", "license_plate_detector.onnx")
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.confidence", 0.25)
	v.SetDefault("detector.nms", 0.45)

	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.whitelist", "")

	v.SetDefault("pipeline.tick_interval", 30*time.Millisecond)
	v.SetDefault("pipeline.frame_width", 1020)
	v.SetDefault("pipeline.frame_height", 500)
	v.SetDefault("pipeline.crop_width", 120)
	v.SetDefault("pipeline.crop_height", 70)
	v.SetDefault("pipeline.roi", [][]float64{{5, 180}, {3, 249}, {984, 237}, {950, 168}})
	v.SetDefault("pipeline.display", "dashboard")

	v.SetDefault("dashboard.addr", "127.0.0.1:8080")
	v.SetDefault("dashboard.cors_origins", []string{"*"})
}

// Load reads .env, the optional YAML file at path and ANPR_* environment
// variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Pipeline.ROI) < 3 {
		return fmt.Errorf("pipeline.roi needs at least 3 vertices, got %d", len(c.Pipeline.ROI))
	}
	for i, v := range c.Pipeline.ROI {
		if len(v) != 2 {
			return fmt.Errorf("pipeline.roi vertex %d must be [x, y]", i)
		}
	}
	if c.Pipeline.FrameWidth <= 0 || c.Pipeline.FrameHeight <= 0 {
		return errors.New("pipeline frame size must be positive")
	}
	if c.Pipeline.CropWidth <= 0 || c.Pipeline.CropHeight <= 0 {
		return errors.New("pipeline crop size must be positive")
	}
	if c.Pipeline.TickInterval <= 0 {
		return errors.New("pipeline.tick_interval must be positive")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Pipeline.Display {
	case "dashboard", "window", "none":
	default:
		return fmt.Errorf("unsupported pipeline.display %q", c.Pipeline.Display)
	}
	return nil
}
