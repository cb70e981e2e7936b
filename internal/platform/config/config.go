package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	apperrors "biomon/internal/platform/errors"
)

const (
	FileName  = "biomon.yaml"
	EnvPrefix = "BIOMON"
)

type Config struct {
	DataDir     string        `yaml:"-"`
	DBPath      string        `yaml:"-"`
	ExportDir   string        `yaml:"-"`
	SessionsDir string        `yaml:"-"`
	LogPath     string        `yaml:"-"`
	Serial      SerialConfig  `yaml:"serial"`
	Session     SessionConfig `yaml:"session"`
	Classifier  string        `yaml:"classifier"`
	HTTP        HTTPConfig    `yaml:"http"`
}

type SerialConfig struct {
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type SessionConfig struct {
	Baseline     time.Duration `yaml:"baseline"`
	Reading      time.Duration `yaml:"reading"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RawTail      int           `yaml:"raw_tail"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type envOverrides struct {
	Baud         int           `envconfig:"BAUD"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT"`
	Baseline     time.Duration `envconfig:"BASELINE"`
	Reading      time.Duration `envconfig:"READING"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL"`
	Classifier   string        `envconfig:"CLASSIFIER"`
	HTTPAddr     string        `envconfig:"HTTP_ADDR"`
}

func Defaults() Config {
	return Config{
		Serial:     SerialConfig{Baud: 9600, ReadTimeout: time.Second},
		Session:    SessionConfig{Baseline: 5 * time.Second, Reading: 10 * time.Second, PollInterval: 100 * time.Millisecond, RawTail: 20},
		Classifier: "deviation",
		HTTP:       HTTPConfig{Addr: ":8080"},
	}
}

// New resolves paths under dataDir, then layers biomon.yaml, dataDir/.env and
// BIOMON_* variables over the defaults.
func New(dataDir string) (Config, error) {
	if strings.TrimSpace(dataDir) == "" {
		return Config{}, fmt.Errorf("%w: data dir is required", apperrors.ErrInvalidConfig)
	}
	cfg := Defaults()
	if err := cfg.loadFile(filepath.Join(dataDir, FileName)); err != nil {
		return Config{}, err
	}
	if err := cfg.loadEnv(filepath.Join(dataDir, ".env")); err != nil {
		return Config{}, err
	}
	cfg.DataDir = dataDir
	cfg.DBPath = filepath.Join(dataDir, "biomon.db")
	cfg.ExportDir = filepath.Join(dataDir, "exports")
	cfg.SessionsDir = filepath.Join(dataDir, "sessions")
	cfg.LogPath = filepath.Join(dataDir, "biomon.log")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(payload, c); err != nil {
		return fmt.Errorf("%w: decode %s: %v", apperrors.ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) loadEnv(dotenv string) error {
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	if env.Baud != 0 {
		c.Serial.Baud = env.Baud
	}
	if env.ReadTimeout != 0 {
		c.Serial.ReadTimeout = env.ReadTimeout
	}
	if env.Baseline != 0 {
		c.Session.Baseline = env.Baseline
	}
	if env.Reading != 0 {
		c.Session.Reading = env.Reading
	}
	if env.PollInterval != 0 {
		c.Session.PollInterval = env.PollInterval
	}
	if env.Classifier != "" {
		c.Classifier = env.Classifier
	}
	if env.HTTPAddr != "" {
		c.HTTP.Addr = env.HTTPAddr
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Serial.Baud <= 0:
		return fmt.Errorf("%w: serial.baud must be positive", apperrors.ErrInvalidConfig)
	case c.Serial.ReadTimeout <= 0:
		return fmt.Errorf("%w: serial.read_timeout must be positive", apperrors.ErrInvalidConfig)
	case c.Session.Baseline <= 0:
		return fmt.Errorf("%w: session.baseline must be positive", apperrors.ErrInvalidConfig)
	case c.Session.Reading <= 0:
		return fmt.Errorf("%w: session.reading must be positive", apperrors.ErrInvalidConfig)
	case c.Session.PollInterval <= 0:
		return fmt.Errorf("%w: session.poll_interval must be positive", apperrors.ErrInvalidConfig)
	case c.Session.RawTail < 0:
		return fmt.Errorf("%w: session.raw_tail must not be negative", apperrors.ErrInvalidConfig)
	case strings.TrimSpace(c.Classifier) == "":
		return fmt.Errorf("%w: classifier is required", apperrors.ErrInvalidConfig)
	}
	return nil
}

// WriteDefault writes biomon.yaml with default values unless one exists.
func WriteDefault(dataDir string) (string, error) {
	path := filepath.Join(dataDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	payload, err := yaml.Marshal(Defaults())
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
