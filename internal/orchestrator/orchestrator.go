// Package orchestrator runs comparison jobs. Submissions are queued either on
// an in-process channel or on RabbitMQ; a bounded pool of workers claims each
// job from the store and walks it through the pipeline stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/storage"
	"github.com/cuongbtq/visual-diff/internal/pipeline"
	"github.com/cuongbtq/visual-diff/shared/rabbitmq"
	"github.com/google/uuid"
)

// Notifier is told about every completed job. Failures are logged only.
type Notifier interface {
	NotifyCompleted(ctx context.Context, job *domain.Job, annotated []byte) error
}

// Config holds orchestrator configuration
type Config struct {
	Logger    *slog.Logger
	Store     storage.Store
	Artifacts artifact.Store
	Models    *inference.Models
	Pipeline  *pipeline.Pipeline
	Notifier  Notifier

	// RabbitClient switches the queue to RabbitMQ; nil keeps it in-process.
	RabbitClient  *rabbitmq.Client
	PrefetchCount int

	// ProcessJobs starts the worker pool. An API node in distributed mode
	// only submits.
	ProcessJobs bool

	WorkerID           string
	Concurrency        int
	QueueSize          int
	JobTimeout         time.Duration
	CancelPollInterval time.Duration
}

// Orchestrator owns the job lifecycle.
type Orchestrator struct {
	logger       *slog.Logger
	store        storage.Store
	artifacts    artifact.Store
	models       *inference.Models
	pipeline     *pipeline.Pipeline
	notifier     Notifier
	rabbitClient *rabbitmq.Client

	workerID      string
	concurrency   int
	prefetchCount int
	processJobs   bool
	jobTimeout    time.Duration
	cancelPoll    time.Duration

	jobsChan chan *domain.JobMessage
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a new orchestrator instance
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Artifacts == nil || cfg.Pipeline == nil {
		return nil, errors.New("orchestrator: store, artifacts and pipeline are required")
	}
	if cfg.ProcessJobs && cfg.Models == nil {
		return nil, errors.New("orchestrator: models are required to process jobs")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	concurrency := max(cfg.Concurrency, 1)
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	cancelPoll := cfg.CancelPollInterval
	if cancelPoll <= 0 {
		cancelPoll = time.Second
	}

	return &Orchestrator{
		logger:        logger,
		store:         cfg.Store,
		artifacts:     cfg.Artifacts,
		models:        cfg.Models,
		pipeline:      cfg.Pipeline,
		notifier:      cfg.Notifier,
		rabbitClient:  cfg.RabbitClient,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		processJobs:   cfg.ProcessJobs,
		jobTimeout:    jobTimeout,
		cancelPoll:    cancelPoll,
		jobsChan:      make(chan *domain.JobMessage, queueSize),
		stopChan:      make(chan struct{}),
		now:           time.Now,
	}, nil
}

// Start begins processing jobs. It returns once the pool and, in RabbitMQ
// mode, the consumer are running.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.processJobs {
		o.logger.Info("Orchestrator started in submit-only mode")
		return nil
	}

	o.logger.Info("Starting orchestrator",
		slog.String("worker_id", o.workerID),
		slog.Int("concurrency", o.concurrency),
		slog.Duration("job_timeout", o.jobTimeout),
		slog.Bool("rabbitmq", o.rabbitClient != nil),
	)

	if o.rabbitClient != nil {
		deliveries, err := o.setupConsumer()
		if err != nil {
			return fmt.Errorf("failed to setup consumer: %w", err)
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.startMessageDispatcher(ctx, deliveries)
		}()
	}

	return o.spawnWorkerPool(ctx)
}

// Stop gracefully stops the pool and waits for in-flight jobs.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.logger.Info("Stopping orchestrator...")
		close(o.stopChan)
		o.wg.Wait()
		o.logger.Info("Orchestrator stopped")
	})
}

// WorkerID identifies this node in job records and consumer tags.
func (o *Orchestrator) WorkerID() string { return o.workerID }
