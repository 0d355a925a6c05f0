package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue drivers
const (
	QueueMemory   = "memory"
	QueueRabbitMQ = "rabbitmq"
)

// Job store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Artifact store drivers
const (
	ArtifactsFilesystem = "filesystem"
	ArtifactsMemory     = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Queue     QueueConfig     `yaml:"queue"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Inference InferenceConfig `yaml:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxUploadBytes bounds one multipart submission
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// EventPollInterval paces the job event stream
	EventPollInterval time.Duration `yaml:"event_poll_interval"`
}

// DatabaseConfig holds the job store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string         `yaml:"host"`
	Port       int            `yaml:"port"`
	User       string         `yaml:"user"`
	Password   string         `yaml:"password"`
	VHost      string         `yaml:"vhost"`
	Exchange   ExchangeConfig `yaml:"exchange"`
	Queue      RabbitQueue    `yaml:"queue"`
	RoutingKey string         `yaml:"routing_key"`
	// DeadLetterExchange receives jobs that fail permanently
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueue holds RabbitMQ queue configuration
type RabbitQueue struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// QueueConfig selects how submissions reach the workers.
type QueueConfig struct {
	// Driver is memory (single node) or rabbitmq (distributed)
	Driver string `yaml:"driver"`
	// Size bounds the in-process queue and worker hand-off channel
	Size int `yaml:"size"`
}

// ArtifactsConfig selects where job images and metadata are kept.
type ArtifactsConfig struct {
	Driver            string `yaml:"driver"`
	Root              string `yaml:"root"`
	PersistNormalized bool   `yaml:"persist_normalized"`
}

// InferenceConfig points at the remote model servers. An empty URL selects
// the local fallback for that capability.
type InferenceConfig struct {
	Device           string        `yaml:"device"`
	MatcherURL       string        `yaml:"matcher_url"`
	SegmenterURL     string        `yaml:"segmenter_url"`
	LabelerURL       string        `yaml:"labeler_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	Burst            int           `yaml:"burst"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// PipelineConfig carries the algorithm knobs.
type PipelineConfig struct {
	MaxPixels             int   `yaml:"max_pixels"`
	EnableChangeDetection *bool `yaml:"enable_change_detection"`

	// registration
	ReprojThreshold float64 `yaml:"ransac_reproj_threshold"`
	MaxIterations   int     `yaml:"ransac_max_iterations"`
	MinInlierRatio  float64 `yaml:"min_inlier_ratio"`

	// normalization
	ClaheClipLimit           float64 `yaml:"clahe_clip_limit"`
	ClaheTileGrid            int     `yaml:"clahe_tile_grid"`
	DisableHistogramMatching bool    `yaml:"disable_histogram_matching"`

	// change detection
	ChangeConfidenceThreshold float64 `yaml:"change_confidence_threshold"`
	AreaThreshold             float64 `yaml:"area_threshold"`
	BoxNMSThresh              float64 `yaml:"box_nms_thresh"`
	MatchIoU                  float64 `yaml:"match_iou"`
	NoiseFloor                float64 `yaml:"noise_floor"`
	MergeDistance             float64 `yaml:"merge_distance"` // < 0 disables
	PointsPerSide             int     `yaml:"points_per_side"`
	PredIoUThresh             float64 `yaml:"pred_iou_thresh"`
	StabilityScoreThresh      float64 `yaml:"stability_score_thresh"`
	MinRegionArea             float64 `yaml:"min_region_area"`

	// classification
	TopK                      int      `yaml:"top_k"`
	ClassificationPadding     float64  `yaml:"classification_padding"`
	ClassificationConcurrency int      `yaml:"classification_concurrency"`
	Vocabulary                []string `yaml:"vocabulary"`
}

// ChangeDetection reports whether the detect stage runs.
func (p PipelineConfig) ChangeDetection() bool {
	return p.EnableChangeDetection == nil || *p.EnableChangeDetection
}

// NotifyConfig holds completion notifier settings.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	ID                 string        `yaml:"id"`
	Concurrency        int           `yaml:"concurrency"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file, applies VDIFF_ environment
// overrides and fills defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	return &config, nil
}

// Distributed reports whether jobs travel over RabbitMQ.
func (c *Config) Distributed() bool {
	return c.Queue.Driver == QueueRabbitMQ
}
