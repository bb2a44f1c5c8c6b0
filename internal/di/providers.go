package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/config"
	"github.com/2lar/graphsync/internal/gateway"
	"github.com/2lar/graphsync/internal/infrastructure/messaging"
	"github.com/2lar/graphsync/internal/infrastructure/messaging/eventbridge"
	"github.com/2lar/graphsync/internal/infrastructure/observability"
	dynamostore "github.com/2lar/graphsync/internal/infrastructure/persistence/dynamodb"
	"github.com/2lar/graphsync/internal/infrastructure/persistence/memory"
	neo4jstore "github.com/2lar/graphsync/internal/infrastructure/persistence/neo4j"
	sqlitestore "github.com/2lar/graphsync/internal/infrastructure/persistence/sqlite"
	"github.com/2lar/graphsync/internal/mapping"
	"github.com/2lar/graphsync/internal/service/graphsync"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Collector
	Tracer   *observability.TracerProvider
	Gateway  *gateway.Gateway
	Service  *graphsync.Service
}

// ProvideLogger builds the process logger from the logging section.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(observability.LoggerConfig{
		Development: cfg.IsDevelopment(),
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	})
}

// ProvideRegistry creates the Prometheus registry metrics are registered on.
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics returns nil when metrics are disabled; the collector's
// methods accept a nil receiver.
func ProvideMetrics(cfg *config.Config, registry *prometheus.Registry) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace, registry)
}

// ProvideTracerProvider installs the OTLP exporter when tracing is enabled.
func ProvideTracerProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.Tracing.Enabled {
		return nil, func() {}, nil
	}
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideBackend opens the configured graph store.
func ProvideBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gateway.Backend, func(), error) {
	var (
		backend gateway.Backend
		err     error
	)
	switch cfg.Backend.Type {
	case config.BackendMemory:
		backend = memory.NewStore()
	case config.BackendSQLite:
		backend, err = sqlitestore.Open(ctx, sqlitestore.Config{
			Path:        cfg.Backend.SQLite.Path,
			BusyTimeout: cfg.Backend.SQLite.BusyTimeout,
		}, logger)
	case config.BackendNeo4j:
		var client neo4jstore.Client
		client, err = neo4jstore.NewClient(ctx, neo4jstore.Options{
			URI:            cfg.Backend.Neo4j.URI,
			Database:       cfg.Backend.Neo4j.Database,
			Username:       cfg.Backend.Neo4j.Username,
			Password:       cfg.Backend.Neo4j.Password,
			MaxConnections: cfg.Backend.Neo4j.MaxConnections,
		})
		if err == nil {
			backend = neo4jstore.NewStore(client, logger)
		}
	case config.BackendDynamoDB:
		var awsCfg aws.Config
		awsCfg, err = loadAWSConfig(ctx, cfg.Backend.DynamoDB.Region)
		if err == nil {
			client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
				if cfg.Backend.DynamoDB.Endpoint != "" {
					o.BaseEndpoint = aws.String(cfg.Backend.DynamoDB.Endpoint)
				}
			})
			backend = dynamostore.NewStore(client, cfg.Backend.DynamoDB.TableName, logger)
		}
	default:
		err = fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
	if err != nil {
		return nil, nil, appErrors.Wrapf(err, "open %s backend", cfg.Backend.Type)
	}

	cleanup := func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Warn("backend close failed", zap.String("backend", backend.Name()), zap.Error(err))
		}
	}
	return backend, cleanup, nil
}

// ProvideGatewayConfig maps the gateway section onto gateway.Config.
func ProvideGatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Timeout: cfg.Gateway.Timeout,
		Retry: gateway.RetryConfig{
			MaxRetries:    cfg.Gateway.Retry.MaxRetries,
			InitialDelay:  cfg.Gateway.Retry.InitialDelay,
			MaxDelay:      cfg.Gateway.Retry.MaxDelay,
			BackoffFactor: cfg.Gateway.Retry.BackoffFactor,
			JitterFactor:  cfg.Gateway.Retry.JitterFactor,
		},
		Breaker: gateway.BreakerConfig{
			MaxRequests:      cfg.Gateway.Breaker.MaxRequests,
			Interval:         cfg.Gateway.Breaker.Interval,
			Timeout:          cfg.Gateway.Breaker.Timeout,
			FailureThreshold: cfg.Gateway.Breaker.FailureThreshold,
			MinRequests:      cfg.Gateway.Breaker.MinRequests,
		},
	}
}

// ProvideGateway creates the store gateway.
func ProvideGateway(backend gateway.Backend, gwCfg gateway.Config, logger *zap.Logger, metrics *observability.Collector) *gateway.Gateway {
	return gateway.New(backend, gwCfg, logger, metrics)
}

// ProvideWalker creates the object graph walker.
func ProvideWalker(cfg *config.Config, logger *zap.Logger) *mapping.Walker {
	return mapping.NewWalker(logger, mapping.WithMaxErrors(cfg.Mapping.MaxErrors))
}

// ProvidePublisher returns the EventBridge publisher, or a no-op publisher
// when events are disabled.
func ProvidePublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (messaging.Publisher, error) {
	if cfg.Events.Provider != config.EventsEventBridge {
		return messaging.NoopPublisher{}, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.Events.Region)
	if err != nil {
		return nil, fmt.Errorf("load aws config for events: %w", err)
	}
	client := awseventbridge.NewFromConfig(awsCfg)
	return eventbridge.NewPublisher(client, cfg.Events.EventBusName, cfg.Events.Source, logger), nil
}

// ProvideService creates the graphsync service.
func ProvideService(
	walker *mapping.Walker,
	gw *gateway.Gateway,
	publisher messaging.Publisher,
	logger *zap.Logger,
	metrics *observability.Collector,
) *graphsync.Service {
	return graphsync.NewService(walker, gw, publisher, logger, metrics)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
