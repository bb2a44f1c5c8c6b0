package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "GRAPHSYNC_"

// Loader handles loading configuration from multiple sources.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders []FileLoader
	getenv      func(string) string
	warn        io.Writer
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	return &Loader{
		basePath:    basePath,
		environment: env,
		fileLoaders: []FileLoader{&YAMLLoader{}, &JSONLoader{}},
		getenv:      os.Getenv,
		warn:        os.Stderr,
	}
}

// WithLookup replaces os.Getenv, mainly for tests.
func (l *Loader) WithLookup(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load loads configuration using a hierarchy of sources.
// The loading order (from lowest to highest priority):
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g., production.yaml)
//  4. Local overrides file (local.yaml, development only)
//  5. GRAPHSYNC_* environment variables
func (l *Loader) Load() (*Config, error) {
	l.sources = nil
	cfg := Defaults(l.environment)
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(l.warn, "Warning: failed to load local config: %v\n", err)
		}
	}

	if err := l.loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	l.sources = append(l.sources, "environment")

	// Files cannot move a config into another environment.
	cfg.Environment = l.environment
	cfg.LoadedFrom = l.sources

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile loads name.yaml or name.json, whichever exists first.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for _, loader := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+loader.Extension())

		file, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		err = loader.Load(file, cfg)
		file.Close()
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		l.sources = append(l.sources, path)
		return nil
	}
	return os.ErrNotExist
}

type envBinding struct {
	name  string
	apply func(string) error
}

// loadEnvironmentVariables overlays GRAPHSYNC_* variables on cfg.
func (l *Loader) loadEnvironmentVariables(cfg *Config) error {
	bindings := []envBinding{
		{"BACKEND", setString(&cfg.Backend.Type)},
		{"SQLITE_PATH", setString(&cfg.Backend.SQLite.Path)},
		{"SQLITE_BUSY_TIMEOUT", setDuration(&cfg.Backend.SQLite.BusyTimeout)},
		{"NEO4J_URI", setString(&cfg.Backend.Neo4j.URI)},
		{"NEO4J_DATABASE", setString(&cfg.Backend.Neo4j.Database)},
		{"NEO4J_USERNAME", setString(&cfg.Backend.Neo4j.Username)},
		{"NEO4J_PASSWORD", setString(&cfg.Backend.Neo4j.Password)},
		{"DYNAMODB_TABLE", setString(&cfg.Backend.DynamoDB.TableName)},
		{"DYNAMODB_REGION", setString(&cfg.Backend.DynamoDB.Region)},
		{"DYNAMODB_ENDPOINT", setString(&cfg.Backend.DynamoDB.Endpoint)},
		{"MAPPING_MAX_ERRORS", setInt(&cfg.Mapping.MaxErrors)},
		{"GATEWAY_TIMEOUT", setDuration(&cfg.Gateway.Timeout)},
		{"RETRY_MAX_RETRIES", setInt(&cfg.Gateway.Retry.MaxRetries)},
		{"LOG_LEVEL", setString(&cfg.Logging.Level)},
		{"LOG_FORMAT", setString(&cfg.Logging.Format)},
		{"METRICS_ENABLED", setBool(&cfg.Metrics.Enabled)},
		{"TRACING_ENABLED", setBool(&cfg.Tracing.Enabled)},
		{"TRACING_ENDPOINT", setString(&cfg.Tracing.Endpoint)},
		{"TRACING_SAMPLE_RATE", setFloat(&cfg.Tracing.SampleRate)},
		{"EVENTS_PROVIDER", setString(&cfg.Events.Provider)},
		{"EVENT_BUS_NAME", setString(&cfg.Events.EventBusName)},
	}

	for _, b := range bindings {
		val := l.getenv(EnvPrefix + b.name)
		if val == "" {
			continue
		}
		if err := b.apply(val); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// Defaults returns a configuration that runs without any files.
func Defaults(env Environment) *Config {
	return &Config{
		Environment: env,
		Backend: Backend{
			Type: BackendMemory,
			SQLite: SQLite{
				Path:        "graphsync.db",
				BusyTimeout: 5 * time.Second,
			},
			Neo4j: Neo4j{
				Database:       "neo4j",
				MaxConnections: 50,
			},
			DynamoDB: DynamoDB{
				TableName: "graphsync-" + strings.ToLower(string(env)),
				Region:    "us-east-1",
			},
		},
		Gateway: Gateway{
			Timeout: 30 * time.Second,
			Retry: Retry{
				MaxRetries:    3,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				BackoffFactor: 2.0,
				JitterFactor:  0.1,
			},
			Breaker: Breaker{
				MaxRequests:      1,
				Interval:         30 * time.Second,
				Timeout:          15 * time.Second,
				FailureThreshold: 0.6,
				MinRequests:      5,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "graphsync",
		},
		Tracing: Tracing{
			ServiceName: "graphsync",
			Endpoint:    "localhost:4317",
			SampleRate:  0.1,
		},
		Events: Events{
			Provider: EventsNone,
			Source:   "graphsync",
		},
	}
}

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

// ParseEnvironment maps a name to an Environment, defaulting to Development.
func ParseEnvironment(name string) Environment {
	switch Environment(strings.ToLower(name)) {
	case Production:
		return Production
	case Staging:
		return Staging
	default:
		return Development
	}
}

// Load reads GRAPHSYNC_ENV and loads from dir.
func Load(dir string) (*Config, error) {
	return NewLoader(dir, ParseEnvironment(os.Getenv(EnvPrefix+"ENV"))).Load()
}
