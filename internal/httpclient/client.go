// Package httpclient opens long-lived HTTP media streams with retries on
// connect, transparent decompression and credential-safe logging.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/vidgate/internal/version"
)

// ErrMaxRetries is returned when every connect attempt failed.
var ErrMaxRetries = errors.New("max retries exceeded")

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultHeaderTimeout  = 15 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
)

// Config holds the configuration for the HTTP client. There is no overall
// request timeout: a media stream body is read for as long as it lasts.
type Config struct {
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
	Logger         *slog.Logger

	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		HeaderTimeout:  DefaultHeaderTimeout,
		RetryAttempts:  DefaultRetryAttempts,
		RetryDelay:     DefaultRetryDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
		UserAgent:      version.UserAgent(),
		Logger:         slog.Default(),
	}
}

// Client opens HTTP streams.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			ResponseHeaderTimeout: cfg.HeaderTimeout,
			// Content-Encoding is handled by Open so brotli works too.
			DisableCompression: true,
		}
	}
	return &Client{
		config: cfg,
		client: &http.Client{Transport: transport},
		logger: cfg.Logger,
	}
}

// Open issues a GET and returns the decompressed response body. Transport
// failures and 429/502/503/504 responses are retried with exponential
// backoff; other non-2xx responses fail immediately.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	safeURL := ObfuscateURL(req.URL)

	var lastErr error
	delay := c.config.RetryDelay
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying stream request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", safeURL))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("stream request failed",
				slog.String("url", safeURL),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		switch {
		case isRetryableStatus(resp.StatusCode):
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", safeURL),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt))
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: unexpected status %s", safeURL, resp.Status)
		}

		c.logger.Debug("stream opened",
			slog.String("url", safeURL),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("content_type", resp.Header.Get("Content-Type")))
		return c.decompress(resp), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

func (c *Client) decompress(resp *http.Response) io.ReadCloser {
	switch enc := strings.ToLower(resp.Header.Get("Content-Encoding")); enc {
	case "":
		return resp.Body
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("invalid gzip body, reading raw", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: r, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		c.logger.Debug("unknown content encoding, reading raw", slog.String("encoding", enc))
		return resp.Body
	}
}

type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) { return d.reader.Read(p) }

func (d *decompressReader) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		c.Close()
	}
	return d.closer.Close()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// ObfuscateURL masks user info and credential-like query parameters.
func ObfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}
	query := sanitized.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
