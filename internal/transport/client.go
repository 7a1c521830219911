// Package transport fetches manifest documents and media segments over HTTP
// with bounded retries, exponential backoff, and transparent decompression
// (gzip, deflate, brotli).
package transport

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/recarr/internal/downloader"
)

// Common errors returned by the client.
var (
	ErrMaxRetries  = errors.New("max retries exceeded")
	ErrBadStatus   = errors.New("unexpected response status")
	ErrEmptyResult = errors.New("empty response body")
)

// Default configuration values.
const (
	DefaultTimeout              = 60 * time.Second
	DefaultRetryAttempts        = 2
	DefaultRetryDelay           = 500 * time.Millisecond
	DefaultRetryMaxDelay        = 5 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "recarr/1.0"
)

// Config holds the configuration for the fetch client.
type Config struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the maximum delay between retries.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Logger is the structured logger for request logging.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client. If nil, a default client
	// is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		UserAgent:         DefaultUserAgentHeader,
		Logger:            slog.Default(),
	}
}

// Client fetches manifests and segments over HTTP.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a fetch client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgentHeader
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{config: cfg, client: baseClient, logger: cfg.Logger}
}

// FetchManifest retrieves a manifest document as text.
func (c *Client) FetchManifest(ctx context.Context, url string) (string, error) {
	data, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetching manifest: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("fetching manifest: %w", ErrEmptyResult)
	}
	return string(data), nil
}

// Fetch retrieves one segment. Failures are reported as *downloader.FetchError
// so the sequencer can apply its own retry policy.
func (c *Client) Fetch(ctx context.Context, req downloader.Request) ([]byte, error) {
	data, err := c.get(ctx, req.URL)
	if err != nil {
		return nil, &downloader.FetchError{Reason: err}
	}
	return data, nil
}

// get performs one GET with bounded retries and decompression.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", url))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		data, err := c.doOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, ErrBadStatus) && !retryableStatusError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Encoding", DefaultAcceptEncodingHeader)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	body := decompress(resp)
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	c.logger.Debug("request completed",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// statusError wraps a non-2xx response status. It matches ErrBadStatus.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response status: %d", e.code)
}

func (e *statusError) Is(target error) bool {
	return target == ErrBadStatus
}

// retryableStatusError reports whether a status failure is worth another
// attempt: request timeout, rate limiting, and server-side errors are;
// client errors such as 404 are not.
func retryableStatusError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	switch {
	case se.code == http.StatusRequestTimeout, se.code == http.StatusTooManyRequests:
		return true
	case se.code >= 500:
		return true
	default:
		return false
	}
}

// decompress returns a reader over the decoded response body based on its
// Content-Encoding header. An unknown encoding falls back to the raw body.
func decompress(resp *http.Response) io.Reader {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body
		}
		return reader
	case "deflate":
		return flate.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body)
	default:
		return resp.Body
	}
}

// Ensure Client satisfies the sequencer's transport contract.
var _ downloader.Transport = (*Client)(nil)
