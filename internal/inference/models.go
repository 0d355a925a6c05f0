package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/registrar"
	"github.com/cuongbtq/visual-diff/internal/resilience"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// ErrReleased is returned by Acquire once the last reference was released.
var ErrReleased = errors.New("inference models released")

// Config selects the backend of every capability. An empty URL selects the
// local fallback: no matching (alignment degrades), the region grower for
// segmentation and no labeling (regions stay unknown).
type Config struct {
	Device       string
	MatcherURL   string
	SegmenterURL string
	LabelerURL   string
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
	MaxAttempts  int
	// BreakerThreshold consecutive transient failures open a backend's circuit
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Models is the shared, reference-counted handle on the inference
// capabilities. It is created once per process; each worker Acquires it and
// Releases it when done, and the backends are closed with the last reference.
type Models struct {
	Matcher   registrar.Matcher
	Segmenter segment.Segmenter
	Labeler   classifier.Labeler

	mu      sync.Mutex
	refs    int
	closers []io.Closer
	checks  map[string]func(context.Context) error
	logger  *slog.Logger
}

// Open builds the capabilities. The returned handle holds one reference.
func Open(cfg Config, logger *slog.Logger) *Models {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Models{refs: 1, checks: map[string]func(context.Context) error{}, logger: logger}

	client := func(name, url string) *Client {
		retry := resilience.DefaultRetryConfig()
		if cfg.MaxAttempts > 0 {
			retry.MaxAttempts = cfg.MaxAttempts
		}
		c := NewClient(name, ClientConfig{
			BaseURL:   url,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			Retry:     retry,
			Breaker:   resilience.BreakerConfig{FailureThreshold: cfg.BreakerThreshold, ResetTimeout: cfg.BreakerReset},
			Device:    cfg.Device,
		}, logger)
		m.closers = append(m.closers, c)
		m.checks[name] = c.Health
		return c
	}

	if cfg.MatcherURL != "" {
		m.Matcher = NewHTTPMatcher(client("matcher", cfg.MatcherURL))
	} else {
		m.Matcher = NopMatcher{}
	}
	if cfg.SegmenterURL != "" {
		m.Segmenter = NewHTTPSegmenter(client("segmenter", cfg.SegmenterURL))
	} else {
		m.Segmenter = segment.NewRegionGrower()
	}
	if cfg.LabelerURL != "" {
		m.Labeler = NewHTTPLabeler(client("labeler", cfg.LabelerURL))
	} else {
		m.Labeler = DisabledLabeler{}
	}

	logger.Info("Inference models ready",
		slog.String("device", cfg.Device),
		slog.Bool("remote_matcher", cfg.MatcherURL != ""),
		slog.Bool("remote_segmenter", cfg.SegmenterURL != ""),
		slog.Bool("remote_labeler", cfg.LabelerURL != ""),
	)
	return m
}

// NewModels wraps already constructed capabilities, mainly for tests and
// embedding. The handle holds one reference.
func NewModels(matcher registrar.Matcher, segmenter segment.Segmenter, labeler classifier.Labeler) *Models {
	return &Models{
		Matcher:   matcher,
		Segmenter: segmenter,
		Labeler:   labeler,
		refs:      1,
		checks:    map[string]func(context.Context) error{},
		logger:    slog.Default(),
	}
}

// Acquire takes an additional reference.
func (m *Models) Acquire() (*Models, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 {
		return nil, ErrReleased
	}
	m.refs++
	return m, nil
}

// Release drops a reference and closes the backends with the last one.
func (m *Models) Release() error {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return ErrReleased
	}
	m.refs--
	last := m.refs == 0
	m.mu.Unlock()

	if !last {
		return nil
	}

	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("Inference models released")
	return errors.Join(errs...)
}

// Refs returns the current reference count.
func (m *Models) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Health probes every remote backend. Local capabilities are always healthy.
func (m *Models) Health(ctx context.Context) map[string]error {
	out := make(map[string]error, len(m.checks))
	for name, check := range m.checks {
		out[name] = check(ctx)
	}
	return out
}
