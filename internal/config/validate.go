package config

import (
	"errors"
	"fmt"
)

// ValidateAPIConfig checks the configuration of the API service. With the
// memory queue the API also runs the worker pool.
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server max_upload_bytes must be greater than 0")
	}
	if c.Server.EventPollInterval <= 0 {
		return errors.New("server event_poll_interval must be greater than 0")
	}

	switch c.Queue.Driver {
	case QueueMemory:
		if c.Queue.Size <= 0 {
			return errors.New("queue size must be greater than 0")
		}
		if err := c.validateWorkerPool(); err != nil {
			return err
		}
	case QueueRabbitMQ:
	default:
		return fmt.Errorf("unknown queue driver: %q", c.Queue.Driver)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration of the worker service, which
// only runs in distributed mode.
func (c *Config) ValidateWorkerConfig() error {
	if c.Queue.Driver != QueueRabbitMQ {
		return fmt.Errorf("worker service requires queue driver %q, got %q", QueueRabbitMQ, c.Queue.Driver)
	}
	if err := c.validateWorkerPool(); err != nil {
		return err
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}
	return c.validateShared()
}

func (c *Config) validateWorkerPool() error {
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		return errors.New("worker job_timeout must be greater than 0")
	}
	if c.Worker.CancelPollInterval <= 0 {
		return errors.New("worker cancel_poll_interval must be greater than 0")
	}
	return nil
}

func (c *Config) validateShared() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if c.Distributed() {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.Token == "" {
			return errors.New("telegram token is required when the notifier is enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return errors.New("telegram chat_id is required when the notifier is enabled")
		}
	}
	return c.Pipeline.validate()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case StoreMemory:
		if c.Distributed() {
			return errors.New("distributed mode requires a postgres or sqlite job store")
		}
	case StoreSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
		if c.Distributed() && c.Database.Path == ":memory:" {
			return errors.New("distributed mode cannot share an in-memory sqlite database")
		}
	case StorePostgres:
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if err := validatePort("database", c.Database.Port); err != nil {
			return err
		}
		if c.Database.Database == "" {
			return errors.New("database name is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	switch c.Artifacts.Driver {
	case ArtifactsFilesystem:
		if c.Artifacts.Root == "" {
			return errors.New("artifacts root is required for the filesystem driver")
		}
	case ArtifactsMemory:
		if c.Distributed() {
			return errors.New("distributed mode requires filesystem artifacts")
		}
	default:
		return fmt.Errorf("unknown artifacts driver: %q", c.Artifacts.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return errors.New("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return errors.New("rabbitmq queue name is required")
	}
	return nil
}

func (p PipelineConfig) validate() error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"change_confidence_threshold", p.ChangeConfidenceThreshold, 0, 180},
		{"area_threshold", p.AreaThreshold, 0, 1},
		{"box_nms_thresh", p.BoxNMSThresh, 0, 1},
		{"match_iou", p.MatchIoU, 0, 1},
		{"noise_floor", p.NoiseFloor, 0, 100},
		{"noise_floor", p.NoiseFloor, 0, 100},
		{"pred_iou_thresh", p.PredIoUThresh, 0, 1},
		{"stability_score_thresh", p.StabilityScoreThresh, 0, 1},
		{"min_region_area", p.MinRegionArea, 0, 1},
		{"min_inlier_ratio", p.MinInlierRatio, 0, 1},
		{"classification_padding", p.ClassificationPadding, 0, 1},
	}
	for _, ch := range checks {
		if ch.value < ch.min || ch.value > ch.max {
			return fmt.Errorf("pipeline %s must be within [%g, %g], got %g", ch.name, ch.min, ch.max, ch.value)
		}
	}

	if p.PointsPerSide <= 0 {
		return errors.New("pipeline points_per_side must be greater than 0")
	}
	if p.ClaheTileGrid <= 0 {
		return errors.New("pipeline clahe_tile_grid must be greater than 0")
	}
	if p.TopK <= 0 {
		return errors.New("pipeline top_k must be greater than 0")
	}
	if p.ReprojThreshold <= 0 {
		return errors.New("pipeline ransac_reproj_threshold must be greater than 0")
	}
	if p.MaxIterations <= 0 {
		return errors.New("pipeline ransac_max_iterations must be greater than 0")
	}
	if p.MaxPixels < 0 {
		return errors.New("pipeline max_pixels must not be negative")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}
