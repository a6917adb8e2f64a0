// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the controller and the stage runner.
type Config struct {
	// Database connection string. "memory://" selects the in-memory store.
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// OTLP gRPC collector address
	OTELEndpoint string

	// Shared secret for principal management
	AdminSecret string

	// Checkpoint at which a completed transition completes the build
	TerminalCheckpoint int

	// Retries after a build version conflict before surfacing it
	TransitionRetries int

	LogLevel  string
	LogFormat string

	// Controller URL and API token used by the stage runner
	ControllerURL string
	APIToken      string

	// Stage runtime: exec, docker or kubernetes
	Runtime        string
	RuntimeWorkDir string
	StageTimeout   time.Duration

	// Artifact retrieval
	ArtifactRoot     string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	KubernetesNamespace      string
	KubernetesServiceAccount string
	KubernetesCPULimit       string
	KubernetesMemoryLimit    string
}

var validRuntimes = map[string]bool{"exec": true, "docker": true, "kubernetes": true}

var envBindings = map[string]string{
	"database_url":               "DATABASE_URL",
	"http_port":                  "PORT",
	"otel_endpoint":              "OTEL_EXPORTER_OTLP_ENDPOINT",
	"admin_secret":               "BUILDSTATE_ADMIN_SECRET",
	"terminal_checkpoint":        "BUILDSTATE_TERMINAL_CHECKPOINT",
	"transition_retries":         "BUILDSTATE_TRANSITION_RETRIES",
	"log_level":                  "LOG_LEVEL",
	"log_format":                 "LOG_FORMAT",
	"controller_url":             "CONTROLLER_URL",
	"api_token":                  "BUILDSTATE_TOKEN",
	"runtime":                    "RUNTIME",
	"runtime_workdir":            "RUNTIME_WORKDIR",
	"stage_timeout":              "STAGE_TIMEOUT",
	"artifact_root":              "ARTIFACT_ROOT",
	"s3_region":                  "AWS_REGION",
	"s3_endpoint":                "S3_ENDPOINT",
	"s3_access_key":              "AWS_ACCESS_KEY_ID",
	"s3_secret_key":              "AWS_SECRET_ACCESS_KEY",
	"s3_force_path_style":        "S3_FORCE_PATH_STYLE",
	"kubernetes_namespace":       "KUBERNETES_NAMESPACE",
	"kubernetes_service_account": "KUBERNETES_SERVICE_ACCOUNT",
	"kubernetes_cpu_limit":       "KUBERNETES_CPU_LIMIT",
	"kubernetes_memory_limit":    "KUBERNETES_MEMORY_LIMIT",
}

// Load reads the controller configuration. database_url is required.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is required (env: DATABASE_URL)")
	}
	return cfg, nil
}

// LoadRunner reads the stage runner configuration, which needs no database.
func LoadRunner(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 6161)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("terminal_checkpoint", 100)
	v.SetDefault("transition_retries", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("runtime", "exec")
	v.SetDefault("stage_timeout", 2*time.Hour)
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("kubernetes_cpu_limit", "2")
	v.SetDefault("kubernetes_memory_limit", "4Gi")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("buildstate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:              v.GetString("database_url"),
		HTTPPort:                 v.GetInt("http_port"),
		OTELEndpoint:             v.GetString("otel_endpoint"),
		AdminSecret:              v.GetString("admin_secret"),
		TerminalCheckpoint:       v.GetInt("terminal_checkpoint"),
		TransitionRetries:        v.GetInt("transition_retries"),
		LogLevel:                 strings.ToLower(v.GetString("log_level")),
		LogFormat:                strings.ToLower(v.GetString("log_format")),
		ControllerURL:            v.GetString("controller_url"),
		APIToken:                 v.GetString("api_token"),
		Runtime:                  strings.ToLower(v.GetString("runtime")),
		RuntimeWorkDir:           v.GetString("runtime_workdir"),
		StageTimeout:             v.GetDuration("stage_timeout"),
		ArtifactRoot:             v.GetString("artifact_root"),
		S3Region:                 v.GetString("s3_region"),
		S3Endpoint:               v.GetString("s3_endpoint"),
		S3AccessKey:              v.GetString("s3_access_key"),
		S3SecretKey:              v.GetString("s3_secret_key"),
		S3ForcePathStyle:         v.GetBool("s3_force_path_style"),
		KubernetesNamespace:      v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount: v.GetString("kubernetes_service_account"),
		KubernetesCPULimit:       v.GetString("kubernetes_cpu_limit"),
		KubernetesMemoryLimit:    v.GetString("kubernetes_memory_limit"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if !validRuntimes[c.Runtime] {
		return fmt.Errorf("invalid runtime %q (must be exec, docker or kubernetes)", c.Runtime)
	}
	if c.TerminalCheckpoint <= 0 || c.TerminalCheckpoint > 100 {
		return fmt.Errorf("terminal_checkpoint must be within (0,100], got %d", c.TerminalCheckpoint)
	}
	if c.TransitionRetries < 1 {
		return fmt.Errorf("transition_retries must be at least 1, got %d", c.TransitionRetries)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive, got %s", c.StageTimeout)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q (must be json or text)", c.LogFormat)
	}
	return nil
}
