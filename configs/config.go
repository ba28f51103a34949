package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"randooprun/pkg/discovery"
	"randooprun/pkg/models"
)

// ErrToolRequired is returned when a command that launches the generator
// has no tool artifact configured.
var ErrToolRequired = errors.New("tool jar is required (--tool-jar or RANDOOP_JAR)")

type LogStoreConfig struct {
	Dir             string `yaml:"dir"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Prefix        string `yaml:"s3_prefix"`
	S3Region        string `yaml:"s3_region"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

type Config struct {
	Packages      []string `yaml:"packages" validate:"required,min=1,dive,javapkg"`
	SourceDir     string   `yaml:"source_dir" validate:"required"`
	TargetDir     string   `yaml:"target_dir" validate:"required"`
	TimeLimit     int      `yaml:"time_limit" validate:"gt=0,lte=31536000"`
	Dependencies  []string `yaml:"dependencies"`
	ToolJar       string   `yaml:"tool_jar"`
	WorkDir       string   `yaml:"work_dir"`
	JavaBin       string   `yaml:"java"`
	GraceSeconds  int      `yaml:"grace_seconds" validate:"gte=0"`
	KillOnTimeout bool     `yaml:"kill_on_timeout"`
	Parallelism   int      `yaml:"parallelism" validate:"gte=1"`

	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogEncoding string `yaml:"log_encoding" validate:"omitempty,oneof=json console"`

	LogStore        LogStoreConfig `yaml:"log_store"`
	MetricsTextfile string         `yaml:"metrics_textfile"`
	Tracing         TracingConfig  `yaml:"tracing"`

	Schedule   string `yaml:"schedule"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoadConfig builds the configuration from defaults, an optional .env file
// in the working directory and RANDOOP_* environment variables.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Packages:      splitList(getEnv("RANDOOP_PACKAGES", ""), ","),
		SourceDir:     getEnv("RANDOOP_SOURCE_DIR", filepath.Join("target", "classes")),
		TargetDir:     getEnv("RANDOOP_TARGET_DIR", filepath.Join("target", "generated-test-sources", "java")),
		TimeLimit:     getEnvAsInt("RANDOOP_TIME_LIMIT", 30),
		Dependencies:  splitList(getEnv("RANDOOP_DEPENDENCIES", ""), string(os.PathListSeparator)),
		ToolJar:       getEnv("RANDOOP_JAR", ""),
		WorkDir:       getEnv("RANDOOP_WORK_DIR", ""),
		JavaBin:       getEnv("RANDOOP_JAVA", "java"),
		GraceSeconds:  getEnvAsInt("RANDOOP_GRACE_SECONDS", 3),
		KillOnTimeout: getEnvAsBool("RANDOOP_KILL_ON_TIMEOUT", true),
		Parallelism:   getEnvAsInt("RANDOOP_PARALLELISM", 1),
		LogLevel:      getEnv("RANDOOP_LOG_LEVEL", "info"),
		LogEncoding:   getEnv("RANDOOP_LOG_ENCODING", "console"),
		LogStore: LogStoreConfig{
			Dir:             getEnv("RANDOOP_LOG_DIR", ""),
			S3Bucket:        getEnv("RANDOOP_LOG_S3_BUCKET", ""),
			S3Prefix:        getEnv("RANDOOP_LOG_S3_PREFIX", "randoop/runs/"),
			S3Region:        getEnv("AWS_REGION", "us-east-1"),
			S3Endpoint:      getEnv("RANDOOP_LOG_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		MetricsTextfile: getEnv("RANDOOP_METRICS_TEXTFILE", ""),
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("RANDOOP_TRACING_ENABLED", false),
			Endpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SamplingRate: getEnvAsFloat("RANDOOP_TRACING_SAMPLING_RATE", 1.0),
		},
		Schedule:   getEnv("RANDOOP_SCHEDULE", ""),
		ListenAddr: getEnv("RANDOOP_LISTEN_ADDR", ":9090"),
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration shared by every command.
func (c *Config) Validate() error {
	return Validate(c)
}

// RequireTool additionally checks that the generator can be launched.
func (c *Config) RequireTool() error {
	if strings.TrimSpace(c.ToolJar) == "" {
		return ErrToolRequired
	}
	return nil
}

// Grace returns the grace period added to the time budget.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// RunConfig returns the per-package run configuration.
func (c *Config) RunConfig(pkg string) models.RunConfig {
	return models.RunConfig{
		PackageName:  pkg,
		SourceDir:    c.SourceDir,
		TargetDir:    c.TargetDir,
		TimeBudget:   c.TimeLimit,
		Dependencies: append([]string(nil), c.Dependencies...),
		ToolArtifact: c.ToolJar,
		WorkDir:      c.WorkDir,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("javapkg", func(fl validator.FieldLevel) bool {
		return discovery.ValidPackageName(fl.Field().String())
	})
	return v
}

// Validate runs struct-tag validation on v and flattens the result into
// one readable error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
