package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/config"
	"github.com/cuongbtq/visual-diff/internal/orchestrator"
)

func singleNode(t *testing.T) *config.Config {
	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "jobs.db")},
		Artifacts: config.ArtifactsConfig{Driver: config.ArtifactsMemory},
		Logging:   config.LoggingConfig{Level: "error", Format: "json", Output: "stderr"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestOpen_SingleNode(t *testing.T) {
	cfg := singleNode(t)
	require.NoError(t, cfg.ValidateAPIConfig())

	appLogger, err := InitLogger(&cfg.Logging, cfg.App.Name)
	require.NoError(t, err)

	rt, err := Open(context.Background(), cfg, appLogger, true)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Orchestrator)
	assert.NotNil(t, rt.dbClient)
	assert.Nil(t, rt.rabbitClient)

	report := rt.Orchestrator.Health(context.Background())
	assert.Equal(t, orchestrator.HealthHealthy, report.Status)
	assert.Equal(t, "ok", report.Components["store"])
	assert.Equal(t, "in-process", report.Components["queue"])
}

func TestOpen_SubmitOnlyHasNoModels(t *testing.T) {
	cfg := singleNode(t)
	cfg.Database = config.DatabaseConfig{Driver: config.StoreMemory}

	appLogger, err := InitLogger(&cfg.Logging, cfg.App.Name)
	require.NoError(t, err)

	rt, err := Open(context.Background(), cfg, appLogger, false)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.models)
	assert.Nil(t, rt.dbClient)
}

func TestOpen_BadArtifactRoot(t *testing.T) {
	cfg := singleNode(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Artifacts = config.ArtifactsConfig{Driver: config.ArtifactsFilesystem, Root: filepath.Join(blocker, "artifacts")}

	appLogger, err := InitLogger(&cfg.Logging, cfg.App.Name)
	require.NoError(t, err)

	_, err = Open(context.Background(), cfg, appLogger, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact store")
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:               "mq",
		Port:               5672,
		User:               "vdiff",
		Password:           "secret",
		VHost:              "/",
		Exchange:           config.ExchangeConfig{Name: "vdiff_exchange", Type: "direct", Durable: true},
		Queue:              config.RabbitQueue{Name: "vdiff_jobs", Durable: true},
		RoutingKey:         "vdiff.job",
		DeadLetterExchange: "vdiff_dead",
		Publish:            config.PublishConfig{RetryAttempts: 3, RetryInterval: 100 * time.Millisecond, BackoffMultiplier: 2},
	}

	got := RabbitMQConfig(cfg)
	assert.Equal(t, "vdiff_exchange", got.ExchangeName)
	assert.Equal(t, "vdiff_jobs", got.QueueName)
	assert.Equal(t, "vdiff_dead", got.DeadLetterExchange)
	assert.Equal(t, "vdiff_jobs.dead", got.DeadLetterQueue())
	assert.Equal(t, 3, got.PublishRetries)
	assert.Equal(t, "amqp://vdiff:secret@mq:5672/", got.URL())
}

func TestDatabaseConfig(t *testing.T) {
	got := DatabaseConfig(&config.DatabaseConfig{Driver: config.StoreSQLite, Path: "data/jobs.db", MaxOpenConns: 1})
	dsn, err := got.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "data/jobs.db?")
	assert.Equal(t, 1, got.MaxOpenConns)
}
