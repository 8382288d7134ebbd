// Package remote implements the RemoteStore capability against a WebDAV
// server. The engine only ever sees the abstract operations; everything
// HTTP-shaped (verbs, auth, retries) stays here.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncerrors "github.com/marksync/marksync/internal/errors"
)

const (
	// defaultTimeout is the per-request timeout when the caller does not
	// provide one.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads so a misbehaving server
	// cannot consume unbounded memory. Collection payloads are JSON
	// documents, not media.
	maxResponseBytes = 32 * 1024 * 1024

	// retryAttempts is the number of tries for a retryable failure before
	// it surfaces to the engine as a terminal network error.
	retryAttempts = 3

	// retryBaseDelay is the backoff base: delay = base * 2^attempt plus
	// jitter in [0, delay/2).
	retryBaseDelay = 500 * time.Millisecond
)

// Config holds the connection parameters for a WebDAV remote.
type Config struct {
	// URL is the server root, e.g. https://dav.example.com/remote.php/dav/files/user.
	URL string

	// BasePath is the directory under URL holding the sync resources.
	BasePath string

	Username string
	Password string

	// Timeout bounds each HTTP request. Zero means defaultTimeout.
	Timeout time.Duration
}

// Client is a WebDAV-speaking RemoteStore. All operations are bounded by
// the configured per-request timeout and retried with backoff when the
// failure looks transient.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	baseURL  string
	basePath string
	username string
	password string
}

// NewClient creates a WebDAV client. If httpClient is nil, one with the
// configured timeout is created.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid WebDAV URL %q", cfg.URL)
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}

		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(base.String(), "/"),
		basePath:   strings.Trim(cfg.BasePath, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
	}, nil
}

// Exists reports whether the named resource exists on the server.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.resourceURL(name), nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, c.statusError("HEAD", name, resp.StatusCode)
	}
}

// LastModified returns the resource's last modification time in Unix
// milliseconds. ok is false when the resource does not exist. A server
// that omits the Last-Modified header yields (0, true, nil); the engine
// treats an unknown remote time as "must upload".
func (c *Client) LastModified(ctx context.Context, name string) (int64, bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.resourceURL(name), nil)
	if err != nil {
		return 0, false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		return 0, false, c.statusError("HEAD", name, resp.StatusCode)
	}

	header := resp.Header.Get("Last-Modified")
	if header == "" {
		return 0, true, nil
	}

	t, err := http.ParseTime(header)
	if err != nil {
		c.logger.Warn("unparseable Last-Modified header",
			slog.String("resource", name),
			slog.String("value", header),
		)

		return 0, true, nil
	}

	return t.UnixMilli(), true, nil
}

// ReadFile downloads the named resource. A missing resource returns
// ErrNotFound so callers can distinguish absence from transport failure.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.resourceURL(name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", syncerrors.ErrNotFound, name)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		return nil, c.statusError("GET", name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", syncerrors.ErrNetwork, name, err)
	}

	return data, nil
}

// WriteFile uploads data to the named resource, creating or replacing it.
func (c *Client) WriteFile(ctx context.Context, name string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, c.resourceURL(name), data)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError("PUT", name, resp.StatusCode)
	}

	return nil
}

// EnsureDirectory creates the base path on the server, one segment at a
// time. Existing directories are fine: servers answer MKCOL on an
// existing collection with 405.
func (c *Client) EnsureDirectory(ctx context.Context) error {
	if c.basePath == "" {
		return nil
	}

	segments := strings.Split(c.basePath, "/")

	current := c.baseURL
	for _, seg := range segments {
		current = current + "/" + url.PathEscape(seg)

		resp, err := c.do(ctx, "MKCOL", current, nil)
		if err != nil {
			return err
		}

		drain(resp)

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusNoContent:
		case http.StatusMethodNotAllowed, http.StatusMovedPermanently:
			// Collection already exists.
		default:
			return c.statusError("MKCOL", seg, resp.StatusCode)
		}
	}

	return nil
}

// do sends one request with auth, retrying transient failures with
// exponential backoff and jitter. Terminal classification (auth, not
// found) is left to the per-status handling in the callers; only
// transport-level failures and 5xx/429 responses are retried here.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int64N(int64(delay) / 2)) //nolint:gosec // jitter needs no crypto randomness

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("creating %s request: %w", method, err)
		}

		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = fmt.Errorf("%w: %s %s: %v", syncerrors.ErrNetwork, method, rawURL, err)
			c.logger.Debug("request failed, will retry",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			drain(resp)

			lastErr = fmt.Errorf("%w: %s %s returned %d", syncerrors.ErrNetwork, method, rawURL, resp.StatusCode)

			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// statusError maps a non-success status to the engine's error taxonomy.
func (c *Client) statusError(method, name string, code int) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: %s %s returned %d", syncerrors.ErrAuth, method, name, code)
	}

	return fmt.Errorf("%w: %s %s returned %d", syncerrors.ErrNetwork, method, name, code)
}

func (c *Client) resourceURL(name string) string {
	parts := []string{c.baseURL}
	if c.basePath != "" {
		for _, seg := range strings.Split(c.basePath, "/") {
			parts = append(parts, url.PathEscape(seg))
		}
	}

	parts = append(parts, url.PathEscape(name))

	return strings.Join(parts, "/")
}

// isRetryableStatus returns true for status codes that indicate a
// temporary server-side problem worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// drain discards and closes a response body so the connection can be
// reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// ErrNotFound is re-exported for callers that only import this package.
var ErrNotFound = syncerrors.ErrNotFound
