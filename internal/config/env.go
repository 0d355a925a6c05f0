package config

import (
	"fmt"
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VDIFF_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type override struct {
	name string
	set  func(c *Config, value string) error
}

var overrides = []override{
	{"DEVICE", func(c *Config, v string) error { c.Inference.Device = v; return nil }},
	{"MATCHER_URL", func(c *Config, v string) error { c.Inference.MatcherURL = v; return nil }},
	{"SEGMENTER_URL", func(c *Config, v string) error { c.Inference.SegmenterURL = v; return nil }},
	{"LABELER_URL", func(c *Config, v string) error { c.Inference.LabelerURL = v; return nil }},
	{"CHANGE_CONFIDENCE_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Pipeline.ChangeConfidenceThreshold })},
	{"AREA_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Pipeline.AreaThreshold })},
	{"BOX_NMS_THRESH", floatVar(func(c *Config) *float64 { return &c.Pipeline.BoxNMSThresh })},
	{"POINTS_PER_SIDE", intVar(func(c *Config) *int { return &c.Pipeline.PointsPerSide })},
	{"PRED_IOU_THRESH", floatVar(func(c *Config) *float64 { return &c.Pipeline.PredIoUThresh })},
	{"STABILITY_SCORE_THRESH", floatVar(func(c *Config) *float64 { return &c.Pipeline.StabilityScoreThresh })},
	{"ENABLE_CHANGE_DETECTION", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Pipeline.EnableChangeDetection = &b
		return nil
	}},
	{"WORKER_CONCURRENCY", intVar(func(c *Config) *int { return &c.Worker.Concurrency })},
	{"DATABASE_PASSWORD", func(c *Config, v string) error { c.Database.Password = v; return nil }},
	{"RABBITMQ_PASSWORD", func(c *Config, v string) error { c.RabbitMQ.Password = v; return nil }},
	{"TELEGRAM_TOKEN", func(c *Config, v string) error { c.Notify.Telegram.Token = v; return nil }},
}

// ApplyEnv overrides configuration values from VDIFF_ variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, o := range overrides {
		value, ok := lookup(EnvPrefix + o.name)
		if !ok || value == "" {
			continue
		}
		if err := o.set(c, value); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}
