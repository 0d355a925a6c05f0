// Package bootstrap turns a loaded configuration into the running pieces
// both services share.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/config"
	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/notify"
	"github.com/cuongbtq/visual-diff/internal/orchestrator"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/storage"
	"github.com/cuongbtq/visual-diff/internal/pipeline"
	"github.com/cuongbtq/visual-diff/shared/database"
	"github.com/cuongbtq/visual-diff/shared/logger"
	"github.com/cuongbtq/visual-diff/shared/rabbitmq"
)

// Runtime holds everything opened for one process. Close releases it in
// reverse order of opening.
type Runtime struct {
	Logger       *logger.Logger
	Orchestrator *orchestrator.Orchestrator

	dbClient     *database.Client
	rabbitClient *rabbitmq.Client
	models       *inference.Models
}

// InitLogger initializes and configures the application logger. Every record
// carries the service name.
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// Open wires stores, models, the queue and the orchestrator. processJobs
// decides whether this process runs the worker pool.
func Open(ctx context.Context, cfg *config.Config, appLogger *logger.Logger, processJobs bool) (*Runtime, error) {
	rt := &Runtime{Logger: appLogger}
	log := appLogger.Logger

	store, err := rt.openStore(ctx, &cfg.Database, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	artifacts, err := OpenArtifacts(&cfg.Artifacts, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	if processJobs {
		rt.models = inference.Open(cfg.InferenceSettings(), log)
	}

	if cfg.Distributed() {
		rt.rabbitClient, err = rabbitmq.NewClient(RabbitMQConfig(&cfg.RabbitMQ), log)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		log.Info("RabbitMQ connection established")
	}

	var notifier orchestrator.Notifier
	if processJobs && cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, log)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize telegram notifier: %w", err)
		}
		notifier = tg
	}

	rt.Orchestrator, err = orchestrator.New(&orchestrator.Config{
		Logger:             log,
		Store:              store,
		Artifacts:          artifacts,
		Models:             rt.models,
		Pipeline:           pipeline.New(cfg.PipelineSettings(), log),
		Notifier:           notifier,
		RabbitClient:       rt.rabbitClient,
		PrefetchCount:      cfg.RabbitMQ.Consumer.PrefetchCount,
		ProcessJobs:        processJobs,
		WorkerID:           cfg.Worker.ID,
		Concurrency:        cfg.Worker.Concurrency,
		QueueSize:          cfg.Queue.Size,
		JobTimeout:         cfg.Worker.JobTimeout,
		CancelPollInterval: cfg.Worker.CancelPollInterval,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (storage.Store, error) {
	if cfg.Driver == config.StoreMemory {
		log.Warn("Using in-memory job store; jobs are lost on restart")
		return storage.NewMemoryStore(log), nil
	}

	client, err := database.NewClient(DatabaseConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	rt.dbClient = client

	store := storage.NewSQLStore(client.GetDB(), log)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	log.Info("Database connection established", slog.String("driver", cfg.Driver))
	return store, nil
}

// OpenArtifacts builds the configured artifact store.
func OpenArtifacts(cfg *config.ArtifactsConfig, log *slog.Logger) (artifact.Store, error) {
	if cfg.Driver == config.ArtifactsMemory {
		return artifact.NewMemoryStore(), nil
	}
	store, err := artifact.NewFSStore(cfg.Root, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// DatabaseConfig maps the database section onto the client configuration.
func DatabaseConfig(cfg *config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RabbitMQConfig maps the rabbitmq section onto the client configuration.
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// Close stops the orchestrator and releases every connection.
func (rt *Runtime) Close() {
	if rt.Orchestrator != nil {
		rt.Orchestrator.Stop()
	}
	if rt.models != nil {
		if err := rt.models.Release(); err != nil {
			rt.Logger.Warn("Failed to release inference models", slog.Any("error", err))
		}
	}
	if rt.rabbitClient != nil {
		rt.rabbitClient.Close()
	}
	if rt.dbClient != nil {
		rt.dbClient.Close()
	}
}
