package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Embedding backends selectable with embed_backend.
const (
	backendHTTP = "http"
	backendNATS = "nats"
	backendGRPC = "grpc"
	backendHash = "hash"
)

// Config holds the service configuration after defaults, the config file,
// the environment and flags have been merged.
type Config struct {
	Port          int    `mapstructure:"port"`
	DatasetDir    string `mapstructure:"dataset_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	StaticPrefix  string `mapstructure:"static_prefix"`

	Dimension int `mapstructure:"dimension"`
	DefaultK  int `mapstructure:"default_k"`
	MaxK      int `mapstructure:"max_k"`

	EmbedBackend      string        `mapstructure:"embed_backend"`
	EmbedURL          string        `mapstructure:"embed_url"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout"`
	EmbedWait         time.Duration `mapstructure:"embed_wait"`
	NATSURL           string        `mapstructure:"nats_url"`
	NATSSubjectPrefix string        `mapstructure:"nats_subject_prefix"`
	GRPCAddr          string        `mapstructure:"grpc_addr"`
	SerializeEmbedder bool          `mapstructure:"serialize_embedder"`

	BuildWorkers int     `mapstructure:"build_workers"`
	BuildRate    float64 `mapstructure:"build_rate"`

	CORSOrigins  string  `mapstructure:"cors_origins"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	LogLevel     string  `mapstructure:"log_level"`
	PublishReady bool    `mapstructure:"publish_ready"`
}

var defaults = map[string]any{
	"port":                8080,
	"dataset_dir":         "dataset",
	"public_base_url":     "http://localhost:8080",
	"static_prefix":       "/static/images",
	"dimension":           512,
	"default_k":           6,
	"max_k":               100,
	"embed_backend":       backendHTTP,
	"embed_url":           "http://localhost:9000",
	"embed_timeout":       "30s",
	"embed_wait":          "0s",
	"nats_url":            "nats://localhost:4222",
	"nats_subject_prefix": "imagesearch.embed",
	"grpc_addr":           "localhost:50051",
	"serialize_embedder":  true,
	"build_workers":       1,
	"build_rate":          0.0,
	"cors_origins":        "http://localhost:5173,http://127.0.0.1:5173",
	"rate_limit_rps":      0.0,
	"log_level":           "info",
	"publish_ready":       false,
}

// newViper returns a viper instance with defaults and environment lookup.
// Environment variables use the upper-cased key, e.g. DATASET_DIR.
func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// addFlags registers the command-line overrides and binds them to v.
func addFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("dataset-dir", "dataset", "directory of <id>.jpg images")
	fs.String("public-base-url", "http://localhost:8080", "prefix for image_url in responses")
	fs.Int("dimension", 512, "embedding dimension")
	fs.Int("default-k", 6, "results returned when k is omitted")
	fs.String("embed-backend", backendHTTP, "embedding backend: http, nats, grpc or hash")
	fs.String("embed-url", "http://localhost:9000", "HTTP embedding worker")
	fs.String("nats-url", "nats://localhost:4222", "NATS server")
	fs.String("grpc-addr", "localhost:50051", "gRPC embedding worker")
	fs.Int("build-workers", 1, "concurrent image embeddings during build")
	fs.Duration("embed-wait", 0, "how long to wait for the embedder at startup")
	fs.String("log-level", "info", "log level: debug, info, warn or error")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// readConfig merges an optional config file into v. With no explicit path
// it looks for imagesearch.{yaml,json,toml} in the working directory and
// ignores its absence.
func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("imagesearch")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: read: %w", err)
	}
	return nil
}

// loadConfig decodes and validates the merged settings.
func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.StaticPrefix = strings.TrimSuffix(cfg.StaticPrefix, "/")
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DatasetDir == "" {
		errs = append(errs, errors.New("dataset_dir is required"))
	}
	if c.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", c.Dimension))
	}
	if c.DefaultK <= 0 {
		errs = append(errs, fmt.Errorf("default_k must be positive, got %d", c.DefaultK))
	}
	if c.MaxK < c.DefaultK {
		errs = append(errs, fmt.Errorf("max_k %d is below default_k %d", c.MaxK, c.DefaultK))
	}
	if !strings.HasPrefix(c.StaticPrefix, "/") || len(strings.Trim(c.StaticPrefix, "/")) == 0 {
		errs = append(errs, fmt.Errorf("static_prefix %q must be an absolute path below /", c.StaticPrefix))
	}
	switch c.EmbedBackend {
	case backendHTTP, backendNATS, backendGRPC, backendHash:
	default:
		errs = append(errs, fmt.Errorf("unknown embed_backend %q", c.EmbedBackend))
	}
	if c.BuildRate < 0 {
		errs = append(errs, fmt.Errorf("build_rate must not be negative, got %v", c.BuildRate))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// newLogger builds the process logger. cfg must already be validated.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
