// Package config loads the scanner's runtime configuration from the
// environment, optionally seeded from a .env file next to the binary.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Camera sources understood by the scanner binary.
const (
	SourceDevice  = "device"
	SourcePattern = "pattern"
	SourceImage   = "image"
)

type Config struct {
	ListenAddr    string `env:"SCANNER_LISTEN_ADDR" envDefault:":8080"`
	User          string `env:"SCANNER_USER,required"`
	Password      string `env:"SCANNER_PASSWORD,required"`
	SessionSecret string `env:"SCANNER_SESSION_SECRET,required"`
	LogLevel      string `env:"SCANNER_LOG_LEVEL" envDefault:"info"`

	Camera   CameraConfig
	Sampler  SamplerConfig
	Redeem   RedeemConfig
	Watchdog WatchdogConfig
	Feedback FeedbackConfig
	History  HistoryConfig

	Telemetry  TelemetryConfig
	Supervisor SupervisorConfig
}

type CameraConfig struct {
	// Source is one of "device", "pattern" or "image".
	Source      string `env:"SCANNER_CAMERA_SOURCE" envDefault:"device"`
	Width       int    `env:"SCANNER_CAMERA_WIDTH" envDefault:"1280"`
	Height      int    `env:"SCANNER_CAMERA_HEIGHT" envDefault:"720"`
	FPS         int    `env:"SCANNER_CAMERA_FPS" envDefault:"30"`
	PatternCode string `env:"SCANNER_PATTERN_CODE"`
	ImagePath   string `env:"SCANNER_IMAGE_PATH"`
}

type SamplerConfig struct {
	FPS      int `env:"SCANNER_SAMPLE_FPS" envDefault:"15"`
	MaxWidth int `env:"SCANNER_SAMPLE_MAX_WIDTH" envDefault:"640"`
}

type RedeemConfig struct {
	BaseURL string        `env:"SCANNER_REDEEM_URL,required"`
	Token   string        `env:"SCANNER_REDEEM_TOKEN"`
	Timeout time.Duration `env:"SCANNER_REDEEM_TIMEOUT" envDefault:"15s"`
}

type WatchdogConfig struct {
	Schedule  string        `env:"SCANNER_WATCHDOG_SCHEDULE" envDefault:"@every 15s"`
	IdleLimit time.Duration `env:"SCANNER_IDLE_LIMIT" envDefault:"2m"`
}

type FeedbackConfig struct {
	GPIOChip    string `env:"SCANNER_GPIO_CHIP"`
	SuccessLine int    `env:"SCANNER_GPIO_SUCCESS_LINE" envDefault:"17"`
	FailureLine int    `env:"SCANNER_GPIO_FAILURE_LINE" envDefault:"27"`
	SuccessClip string `env:"SCANNER_SUCCESS_CLIP"`
	FailureClip string `env:"SCANNER_FAILURE_CLIP"`
	// SpeechURL is a Piper server used to greet ticket holders by name.
	SpeechURL string `env:"SCANNER_SPEECH_URL"`
}

type HistoryConfig struct {
	Retention time.Duration `env:"SCANNER_HISTORY_RETENTION" envDefault:"1h"`
	// Path persists the log across restarts. Empty keeps it in memory.
	Path          string `env:"SCANNER_HISTORY_PATH"`
	FlushSchedule string `env:"SCANNER_HISTORY_FLUSH" envDefault:"@every 1m"`
}

// SupervisorConfig is injected by balena on managed devices.
type SupervisorConfig struct {
	Address    string `env:"BALENA_SUPERVISOR_ADDRESS"`
	APIKey     string `env:"BALENA_SUPERVISOR_API_KEY"`
	DeviceUUID string `env:"BALENA_DEVICE_UUID"`
	DeviceName string `env:"BALENA_DEVICE_NAME_AT_INIT"`
}

type TelemetryConfig struct {
	Enabled     bool          `env:"SCANNER_OTEL_ENABLED" envDefault:"false"`
	Endpoint    string        `env:"SCANNER_OTEL_ENDPOINT" envDefault:"otel-collector:4317"`
	ServiceName string        `env:"SCANNER_OTEL_SERVICE" envDefault:"gate-scanner"`
	Interval    time.Duration `env:"SCANNER_OTEL_INTERVAL" envDefault:"10s"`
}

// Load reads .env files (if any) and then parses the environment.
// Variables already present in the environment win over .env values.
func Load(dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.Camera.Source {
	case SourceDevice, SourcePattern:
	case SourceImage:
		if c.Camera.ImagePath == "" {
			return errors.New("SCANNER_IMAGE_PATH is required when SCANNER_CAMERA_SOURCE=image")
		}
	default:
		return fmt.Errorf("unknown camera source %q", c.Camera.Source)
	}
	if c.Sampler.FPS <= 0 {
		return fmt.Errorf("SCANNER_SAMPLE_FPS must be positive, got %d", c.Sampler.FPS)
	}
	if c.Redeem.Timeout < 0 {
		return fmt.Errorf("SCANNER_REDEEM_TIMEOUT must not be negative, got %s", c.Redeem.Timeout)
	}
	return nil
}
