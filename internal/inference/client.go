// Package inference adapts the external model servers (feature matching,
// segmentation, zero-shot labeling) to the pipeline's capability interfaces.
// Every adapter speaks multipart HTTP and goes through a rate limiter, retries
// and a circuit breaker.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/visual-diff/internal/resilience"
)

// ClientConfig configures one backend connection.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is the sustained request rate per second; 0 disables limiting
	RateLimit float64
	Burst     int
	Retry     resilience.RetryConfig
	Breaker   resilience.BreakerConfig
	// Device is forwarded to the backend ("cpu", "cuda", ...)
	Device string
}

// Client is a small multipart/JSON HTTP client for a model server.
type Client struct {
	name    string
	baseURL string
	device  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// filePart is one uploaded file of a multipart request.
type filePart struct {
	field    string
	filename string
	data     []byte
}

func NewClient(name string, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries(logger, name)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.ShouldTrip == nil {
		breakerCfg.ShouldTrip = resilience.IsTransient
	}
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(from, to resilience.State) {
			logger.Warn("Inference circuit breaker state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		device:  cfg.Device,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retry:   retry,
		breaker: resilience.NewBreaker(breakerCfg),
		logger:  logger,
	}
}

// postMultipart uploads files and fields to path and decodes the JSON answer into out.
func (c *Client) postMultipart(ctx context.Context, path string, files []filePart, fields map[string]string, out any) error {
	_, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return resilience.Execute(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.doPost(ctx, path, files, fields, out)
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path string, files []filePart, fields map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(f.data); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
	}
	if c.device != "" {
		if err := writer.WriteField("device", c.device); err != nil {
			return fmt.Errorf("write field: %w", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("write field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("Inference call done",
		slog.String("service", c.name),
		slog.String("path", path),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Health checks GET /health on the backend.
func (c *Client) Health(ctx context.Context) error {
	if st := c.breaker.State(); st == resilience.StateOpen {
		return fmt.Errorf("%s: %w", c.name, resilience.ErrCircuitOpen)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s unhealthy: status %d", c.name, resp.StatusCode)
	}
	return nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
