package networking

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"testlib-ws/internal/backoff"
	"testlib-ws/internal/logging"
	"testlib-ws/internal/metrics"
)

const (
	HeaderClientSDK     = "Client-SDK"
	HeaderTestNames     = "Test-Names"
	HeaderTestSessionID = "Test-Session-Id"

	PathInitSession     = "/init_session"
	PathEndTestReadNext = "/end_test_read_next"
	PathTestServer      = "/test_server"
)

var ErrStatus = errors.New("networking: unexpected status")

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Options struct {
	Timeout            time.Duration
	Retries            int
	Backoff            backoff.Policy
	InsecureSkipVerify bool
	HTTPClient         *http.Client // overrides Timeout/InsecureSkipVerify when set
}

// Client posts to the command channel of the orchestration server.
type Client struct {
	baseURL string
	hc      *http.Client
	retries int
	policy  backoff.Policy
	logger  logging.Logger
}

func NewClient(baseURL string, opts Options, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS12,
					InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // local test servers use self-signed certs
				},
			},
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		retries: opts.Retries,
		policy:  opts.Backoff.WithDefaults(),
		logger:  logger.With("component", "networking"),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Post sends a form-encoded POST to baseURL+path. Dial errors and 5xx
// responses are retried; any other non-2xx status returns ErrStatus.
func (c *Client) Post(ctx context.Context, path string, header http.Header, form url.Values) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		resp, err := c.postOnce(ctx, path, header, form)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil || attempt > c.retries {
			break
		}
		delay := c.policy.Delay(attempt)
		c.logger.Warnf("POST %s attempt %d/%d failed: %v, retrying in %v", path, attempt, c.retries+1, err, delay)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v %d: %s", ErrStatus, e.code, e.body)
}

func (e *statusError) Unwrap() error { return ErrStatus }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) postOnce(ctx context.Context, path string, header http.Header, form url.Values) (*Response, error) {
	var body io.Reader
	if len(form) > 0 {
		body = bytes.NewBufferString(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.ObserveHTTP(endpoint(path), 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	metrics.ObserveHTTP(endpoint(path), resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(data), 200)}
	}
	c.logger.Debug("POST done", "path", path, "status", resp.StatusCode, "bytes", len(data))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// endpoint strips the per-test base path so metric labels stay bounded.
func endpoint(path string) string {
	if strings.HasSuffix(path, PathTestServer) {
		return PathTestServer
	}
	return path
}

// AppendBasePath joins a per-test base path and an endpoint path with exactly one slash.
func AppendBasePath(basePath, path string) string {
	if basePath == "" {
		return path
	}
	return strings.TrimRight(basePath, "/") + "/" + strings.TrimLeft(path, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
