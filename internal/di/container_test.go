package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/config"
	"github.com/2lar/graphsync/internal/fixtures/people"
	"github.com/2lar/graphsync/internal/infrastructure/messaging"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

func TestInitializeContainer_Memory(t *testing.T) {
	cfg := config.Defaults(config.Development)

	c, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, cfg, c.Config)
	assert.NotNil(t, c.Metrics)
	assert.Nil(t, c.Tracer)
	assert.Equal(t, config.BackendMemory, c.Gateway.BackendName())

	pop := people.NewPopulation()
	h, err := c.Service.Store(context.Background(), pop.Roots()...)
	require.NoError(t, err)
	assert.Equal(t, people.NodeCount, h.NodeCount())

	families, err := c.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestInitializeContainer_SQLite(t *testing.T) {
	cfg := config.Defaults(config.Development)
	cfg.Backend.Type = config.BackendSQLite
	cfg.Backend.SQLite.Path = filepath.Join(t.TempDir(), "graph.db")
	cfg.Metrics.Enabled = false

	c, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, c.Metrics)
	assert.Equal(t, config.BackendSQLite, c.Gateway.BackendName())
	require.NoError(t, c.Gateway.Ping(context.Background()))

	germany := &people.Area{Name: "Germany", AreaType: people.Country}
	_, err = c.Service.Store(context.Background(), germany)
	require.NoError(t, err)

	_, found, err := c.Service.FindByKey(context.Background(), "Area", "GERMANY")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProvideBackend_Unknown(t *testing.T) {
	cfg := config.Defaults(config.Development)
	cfg.Backend.Type = "redis"

	_, _, err := ProvideBackend(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown backend")
}

func TestProvidePublisher_DisabledIsNoop(t *testing.T) {
	p, err := ProvidePublisher(context.Background(), config.Defaults(config.Development), nil)
	require.NoError(t, err)
	assert.IsType(t, messaging.NoopPublisher{}, p)
}

func TestProvideGatewayConfig(t *testing.T) {
	cfg := config.Defaults(config.Development)
	gw := ProvideGatewayConfig(cfg)

	assert.Equal(t, cfg.Gateway.Timeout, gw.Timeout)
	assert.Equal(t, cfg.Gateway.Retry.MaxRetries, gw.Retry.MaxRetries)
	assert.Equal(t, cfg.Gateway.Breaker.FailureThreshold, gw.Breaker.FailureThreshold)
}

func TestProvideWalker_MaxErrors(t *testing.T) {
	type tagged struct {
		Tags map[string]string
	}
	roots := []any{&tagged{Tags: map[string]string{"a": "b"}}, &tagged{Tags: map[string]string{"c": "d"}}}

	cfg := config.Defaults(config.Development)
	_, err := ProvideWalker(cfg, zap.NewNop()).Walk(context.Background(), roots)
	require.Error(t, err)
	assert.Len(t, appErrors.Flatten(err), 2)

	cfg.Mapping.MaxErrors = 1
	_, err = ProvideWalker(cfg, zap.NewNop()).Walk(context.Background(), roots)
	var multi *appErrors.MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 1)
	assert.Equal(t, 1, multi.Dropped)
}

func TestProvideBackend_KeepsErrorType(t *testing.T) {
	cfg := config.Defaults(config.Development)
	cfg.Backend.Type = config.BackendSQLite
	cfg.Backend.SQLite.Path = ""

	_, _, err := ProvideBackend(context.Background(), cfg, zap.NewNop())

	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
	assert.ErrorContains(t, err, "open sqlite backend")
}
