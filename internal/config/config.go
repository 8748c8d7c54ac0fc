package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Face     FaceConfig     `yaml:"face"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ONNXLibrary        string  `yaml:"onnx_library"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// MaxCandidates bounds how many faces the detector may return per image.
	MaxCandidates int `yaml:"max_candidates"`
}

// ThresholdConfig holds the similarity bands used by the decision engine.
// It is validated once at load and never mutated afterwards.
type ThresholdConfig struct {
	Verify        float64 `yaml:"verify"`
	DuplicateHigh float64 `yaml:"duplicate_high"`
	// AmbiguousLow marks the lower edge of the near-miss region below Verify.
	AmbiguousLow float64 `yaml:"ambiguous_low"`
	LandmarkTwin float64 `yaml:"landmark_twin"`
}

func (t ThresholdConfig) Validate() error {
	if t.Verify <= 0 || t.Verify > t.DuplicateHigh || t.DuplicateHigh > 1 {
		return fmt.Errorf("thresholds: need 0 < verify (%.3f) <= duplicate_high (%.3f) <= 1", t.Verify, t.DuplicateHigh)
	}
	if t.AmbiguousLow > t.Verify {
		return fmt.Errorf("thresholds: ambiguous_low (%.3f) above verify (%.3f)", t.AmbiguousLow, t.Verify)
	}
	if t.LandmarkTwin <= 0 {
		return fmt.Errorf("thresholds: landmark_twin must be positive")
	}
	return nil
}

// DefaultThresholds returns the production similarity bands.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Verify:        0.55,
		DuplicateHigh: 0.65,
		AmbiguousLow:  0.50,
		LandmarkTwin:  18.0,
	}
}

type FaceConfig struct {
	Thresholds      ThresholdConfig `yaml:"thresholds"`
	DuplicateTopK   int             `yaml:"duplicate_top_k"`
	StagingTTL      time.Duration   `yaml:"staging_ttl"`
	StagingCapacity int             `yaml:"staging_capacity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Face.Thresholds.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "gatepass-evidence"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MaxCandidates == 0 {
		cfg.Vision.MaxCandidates = 2
	}

	def := DefaultThresholds()
	th := &cfg.Face.Thresholds
	if th.Verify == 0 {
		th.Verify = def.Verify
	}
	if th.DuplicateHigh == 0 {
		th.DuplicateHigh = def.DuplicateHigh
	}
	if th.AmbiguousLow == 0 {
		th.AmbiguousLow = def.AmbiguousLow
	}
	if th.LandmarkTwin == 0 {
		th.LandmarkTwin = def.LandmarkTwin
	}
	if cfg.Face.DuplicateTopK == 0 {
		cfg.Face.DuplicateTopK = 5
	}
	if cfg.Face.StagingTTL == 0 {
		cfg.Face.StagingTTL = 5 * time.Minute
	}
	if cfg.Face.StagingCapacity == 0 {
		cfg.Face.StagingCapacity = 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("GP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("GP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("GP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("GP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("GP_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("GP_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("GP_STAGING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Face.StagingTTL = d
		}
	}
	if v := os.Getenv("GP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
