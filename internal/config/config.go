// Package config holds the typed configuration of graphsync and the layered
// loader that fills it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendNeo4j    = "neo4j"
	BackendDynamoDB = "dynamodb"
)

// Event providers.
const (
	EventsNone        = "none"
	EventsEventBridge = "eventbridge"
)

// Config is the complete application configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`
	Backend     Backend     `yaml:"backend" json:"backend"`
	Mapping     Mapping     `yaml:"mapping" json:"mapping"`
	Gateway     Gateway     `yaml:"gateway" json:"gateway"`
	Logging     Logging     `yaml:"logging" json:"logging"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Tracing     Tracing     `yaml:"tracing" json:"tracing"`
	Events      Events      `yaml:"events" json:"events"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Backend selects and configures the graph store.
type Backend struct {
	Type     string   `yaml:"type" json:"type" validate:"required,oneof=memory sqlite neo4j dynamodb"`
	SQLite   SQLite   `yaml:"sqlite" json:"sqlite"`
	Neo4j    Neo4j    `yaml:"neo4j" json:"neo4j"`
	DynamoDB DynamoDB `yaml:"dynamodb" json:"dynamodb"`
}

type SQLite struct {
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout" json:"busyTimeout" validate:"min=0"`
}

type Neo4j struct {
	URI            string `yaml:"uri" json:"uri"`
	Database       string `yaml:"database" json:"database"`
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password" json:"-"`
	MaxConnections int    `yaml:"maxConnections" json:"maxConnections" validate:"min=0"`
}

type DynamoDB struct {
	TableName string `yaml:"tableName" json:"tableName"`
	Region    string `yaml:"region" json:"region"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
}

// Mapping tunes the object graph walker.
type Mapping struct {
	// MaxErrors caps the errors one store call reports; zero reports all.
	MaxErrors int `yaml:"maxErrors" json:"maxErrors" validate:"min=0"`
}

// Gateway bounds and hardens backend access.
type Gateway struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	Retry   Retry         `yaml:"retry" json:"retry"`
	Breaker Breaker       `yaml:"breaker" json:"breaker"`
}

type Retry struct {
	MaxRetries    int           `yaml:"maxRetries" json:"maxRetries" validate:"min=0,max=10"`
	InitialDelay  time.Duration `yaml:"initialDelay" json:"initialDelay" validate:"min=0"`
	MaxDelay      time.Duration `yaml:"maxDelay" json:"maxDelay" validate:"min=0"`
	BackoffFactor float64       `yaml:"backoffFactor" json:"backoffFactor" validate:"gte=1"`
	JitterFactor  float64       `yaml:"jitterFactor" json:"jitterFactor" validate:"gte=0,lte=1"`
}

type Breaker struct {
	MaxRequests      uint32        `yaml:"maxRequests" json:"maxRequests" validate:"min=1"`
	Interval         time.Duration `yaml:"interval" json:"interval" validate:"min=0"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	FailureThreshold float64       `yaml:"failureThreshold" json:"failureThreshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"minRequests" json:"minRequests"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required_if=Enabled true"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
}

type Events struct {
	Provider     string `yaml:"provider" json:"provider" validate:"oneof=none eventbridge"`
	EventBusName string `yaml:"eventBusName" json:"eventBusName"`
	Source       string `yaml:"source" json:"source"`
	Region       string `yaml:"region" json:"region"`
}

var validate = validator.New()

// Validate checks struct tags, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	var problems []string
	switch c.Backend.Type {
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			problems = append(problems, "backend.sqlite.path is required for the sqlite backend")
		}
	case BackendNeo4j:
		if c.Backend.Neo4j.URI == "" {
			problems = append(problems, "backend.neo4j.uri is required for the neo4j backend")
		}
	case BackendDynamoDB:
		if c.Backend.DynamoDB.TableName == "" {
			problems = append(problems, "backend.dynamodb.tableName is required for the dynamodb backend")
		}
	}
	if c.Events.Provider == EventsEventBridge && c.Events.EventBusName == "" {
		problems = append(problems, "events.eventBusName is required for the eventbridge provider")
	}
	if c.Gateway.Retry.MaxDelay < c.Gateway.Retry.InitialDelay {
		problems = append(problems, "gateway.retry.maxDelay must not be below initialDelay")
	}
	if c.IsProduction() && c.Backend.Type == BackendMemory {
		problems = append(problems, "the memory backend is not allowed in production")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}
