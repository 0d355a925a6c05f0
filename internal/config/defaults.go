package config

import (
	"time"

	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/normalizer"
	"github.com/cuongbtq/visual-diff/internal/pipeline"
	"github.com/cuongbtq/visual-diff/internal/registrar"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	setInt(&c.Server.Port, 8080)
	setDuration(&c.Server.ReadTimeout, 30*time.Second)
	setDuration(&c.Server.WriteTimeout, 60*time.Second)
	setDuration(&c.Server.IdleTimeout, 120*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 64 << 20
	}
	setDuration(&c.Server.EventPollInterval, 500*time.Millisecond)

	setString(&c.Queue.Driver, QueueMemory)
	setInt(&c.Queue.Size, 64)

	setString(&c.Database.Driver, StoreMemory)
	switch c.Database.Driver {
	case StorePostgres:
		setInt(&c.Database.Port, 5432)
		setString(&c.Database.SSLMode, "disable")
		setInt(&c.Database.MaxOpenConns, 25)
		setInt(&c.Database.MaxIdleConns, 5)
	case StoreSQLite:
		setInt(&c.Database.MaxOpenConns, 1)
		setInt(&c.Database.MaxIdleConns, 1)
	}
	setDuration(&c.Database.ConnMaxLifetime, 5*time.Minute)
	setDuration(&c.Database.ConnMaxIdleTime, time.Minute)

	setInt(&c.RabbitMQ.Port, 5672)
	setString(&c.RabbitMQ.VHost, "/")
	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDuration(&c.RabbitMQ.Connection.ConnectionTimeout, 30*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	if c.RabbitMQ.Publish.BackoffMultiplier == 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2
	}

	setString(&c.Artifacts.Driver, ArtifactsFilesystem)
	if c.Artifacts.Driver == ArtifactsFilesystem {
		setString(&c.Artifacts.Root, "data/artifacts")
	}

	setString(&c.Inference.Device, "cpu")
	setDuration(&c.Inference.Timeout, 60*time.Second)
	setInt(&c.Inference.MaxAttempts, 3)
	setInt(&c.Inference.BreakerThreshold, 5)
	setDuration(&c.Inference.BreakerReset, 30*time.Second)

	p := &c.Pipeline
	if p.EnableChangeDetection == nil {
		enabled := true
		p.EnableChangeDetection = &enabled
	}
	reg := registrar.DefaultConfig()
	setFloat(&p.ReprojThreshold, reg.ReprojThreshold)
	setInt(&p.MaxIterations, reg.MaxIterations)
	setFloat(&p.MinInlierRatio, reg.MinInlierRatio)
	norm := normalizer.DefaultConfig()
	setFloat(&p.ClaheClipLimit, norm.ClipLimit)
	setInt(&p.ClaheTileGrid, norm.TileGrid)
	chg := changes.DefaultConfig()
	setFloat(&p.ChangeConfidenceThreshold, chg.ConfidenceThreshold)
	setFloat(&p.AreaThreshold, chg.AreaThreshold)
	setFloat(&p.BoxNMSThresh, chg.NMSThreshold)
	setFloat(&p.MatchIoU, chg.MatchIoU)
	setFloat(&p.NoiseFloor, chg.NoiseFloor)
	setFloat(&p.MergeDistance, chg.MergeDistance)
	setFloat(&p.NoiseFloor, chg.NoiseFloor)
	setFloat(&p.MergeDistance, chg.MergeDistance)
	setInt(&p.PointsPerSide, chg.Segmentation.PointsPerSide)
	setFloat(&p.PredIoUThresh, chg.Segmentation.PredIoUThresh)
	setFloat(&p.StabilityScoreThresh, chg.Segmentation.StabilityScoreThresh)
	setFloat(&p.MinRegionArea, chg.Segmentation.MinRegionArea)
	cls := classifier.DefaultConfig()
	setInt(&p.TopK, cls.TopK)
	setFloat(&p.ClassificationPadding, cls.Padding)
	setInt(&p.ClassificationConcurrency, cls.Concurrency)
	if len(p.Vocabulary) == 0 {
		p.Vocabulary = append([]string(nil), cls.Vocabulary...)
	}

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setString(&c.App.Environment, "development")

	setInt(&c.Worker.Concurrency, 4)
	setDuration(&c.Worker.JobTimeout, 10*time.Minute)
	setDuration(&c.Worker.CancelPollInterval, time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}
}

// PipelineSettings converts the pipeline section into stage configuration.
func (c *Config) PipelineSettings() pipeline.Config {
	p := c.Pipeline
	reg := registrar.DefaultConfig()
	reg.ReprojThreshold = p.ReprojThreshold
	reg.MaxIterations = p.MaxIterations
	reg.MinInlierRatio = p.MinInlierRatio

	chg := changes.DefaultConfig()
	chg.ConfidenceThreshold = p.ChangeConfidenceThreshold
	chg.AreaThreshold = p.AreaThreshold
	chg.NMSThreshold = p.BoxNMSThresh
	chg.MatchIoU = p.MatchIoU
	chg.NoiseFloor = p.NoiseFloor
	chg.MergeDistance = p.MergeDistance
	chg.NoiseFloor = p.NoiseFloor
	chg.MergeDistance = p.MergeDistance
	chg.Segmentation = segment.Options{
		PointsPerSide:        p.PointsPerSide,
		PredIoUThresh:        p.PredIoUThresh,
		StabilityScoreThresh: p.StabilityScoreThresh,
		MinRegionArea:        p.MinRegionArea,
	}

	return pipeline.Config{
		MaxPixels: p.MaxPixels,
		Registrar: reg,
		Normalizer: normalizer.Config{
			ClipLimit:                p.ClaheClipLimit,
			TileGrid:                 p.ClaheTileGrid,
			DisableHistogramMatching: p.DisableHistogramMatching,
		},
		Changes: chg,
		Classifier: classifier.Config{
			TopK:        p.TopK,
			Padding:     p.ClassificationPadding,
			Concurrency: p.ClassificationConcurrency,
			Vocabulary:  p.Vocabulary,
		},
		EnableChangeDetection: p.ChangeDetection(),
		PersistNormalized:     c.Artifacts.PersistNormalized,
	}
}

// InferenceSettings converts the inference section.
func (c *Config) InferenceSettings() inference.Config {
	i := c.Inference
	return inference.Config{
		Device:           i.Device,
		MatcherURL:       i.MatcherURL,
		SegmenterURL:     i.SegmenterURL,
		LabelerURL:       i.LabelerURL,
		Timeout:          i.Timeout,
		RateLimit:        i.RateLimit,
		Burst:            i.Burst,
		MaxAttempts:      i.MaxAttempts,
		BreakerThreshold: i.BreakerThreshold,
		BreakerReset:     i.BreakerReset,
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
