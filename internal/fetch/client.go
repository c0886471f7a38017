package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/nao1215/refgrab/internal/config"
)

// Response is the result of a page fetch with the body fully read.
// Artifact downloads stream instead; see Client.Stream.
type Response struct {
	// URL is the final URL after any redirects the transport followed.
	URL string

	// StatusCode is the HTTP response status code.
	StatusCode int

	// Header contains the response headers.
	Header http.Header

	// Body is the decoded response body, bounded by the client's
	// max body size.
	Body []byte
}

// ContentType returns the declared Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// IsHTML reports whether the response declares an HTML content type.
func (r *Response) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType()), "text/html")
}

// Client wraps an HTTP client with a fixed identity header, per-request
// timeouts, and a bounded retry loop.
//
// Design decision: Retries back off linearly (step, 2*step) rather than
// exponentially because two quick retries recover the transient failures
// these properties actually exhibit; a request that fails three times in
// a row is not coming back within any reasonable exponential window.
type Client struct {
	// hc is the underlying HTTP client. A Session supplies one carrying
	// its cookie jar.
	hc *http.Client

	// userAgent is the identity header presented to the remote server.
	userAgent string

	// pageTimeout bounds page fetches; fileTimeout bounds streamed downloads.
	pageTimeout time.Duration
	fileTimeout time.Duration

	// attempts is the total number of tries per GET request.
	attempts int

	// retryStep is the extra delay added per retry attempt.
	retryStep time.Duration

	// maxBodySize bounds how many bytes of a page body are read.
	maxBodySize int64

	// extraHeaders are site-specific headers sent with every request.
	extraHeaders map[string]string

	// logger for structured logging.
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithUserAgent sets a custom identity header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTimeouts sets the page and file request timeouts.
func WithTimeouts(page, file time.Duration) ClientOption {
	return func(c *Client) {
		c.pageTimeout = page
		c.fileTimeout = file
	}
}

// WithRetry sets the attempt budget and the linear backoff step.
func WithRetry(attempts int, step time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryStep = step
	}
}

// WithMaxBodySize bounds page body reads.
func WithMaxBodySize(size int64) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// WithExtraHeaders sets site-specific headers added to every request.
func WithExtraHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.extraHeaders = headers
	}
}

// WithClientLogger sets a custom logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client on top of the given http.Client.
//
// Design decision: We require an external http.Client because the cookie
// jar belongs to the Session; the Client only adds identity, timeout, and
// retry concerns on top of whatever transport it is handed. This also
// allows tests to supply httptest-backed clients directly.
func NewClient(hc *http.Client, opts ...ClientOption) *Client {
	c := &Client{
		hc:          hc,
		userAgent:   config.DefaultUserAgent,
		pageTimeout: config.DefaultPageTimeout,
		fileTimeout: config.DefaultFileTimeout,
		attempts:    config.DefaultRetryAttempts,
		retryStep:   config.DefaultRetryStep,
		maxBodySize: config.DefaultMaxBodySize,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetPage fetches a URL expected to serve HTML, retrying transient
// failures, and returns the fully read, decoded body.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.getOnce(ctx, pageURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < c.attempts {
			c.logger.Debug("retrying fetch",
				"url", pageURL,
				"attempt", attempt,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryStep):
			}
		}
	}

	return nil, fmt.Errorf("%w: GET %s after %d attempts: %v", ErrNetwork, pageURL, c.attempts, lastErr)
}

// getOnce performs a single page GET.
func (c *Client) getOnce(ctx context.Context, pageURL string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	// Announcing br disables the transport's automatic gzip handling,
	// so readBody decodes all three encodings itself.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// PostForm submits a form-encoded POST and returns the fully read response.
// Form submissions are not retried: a login or terms POST that partially
// succeeded must not be replayed blindly.
func (c *Client) PostForm(ctx context.Context, action string, form url.Values, referer string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
		if u, err := url.Parse(referer); err == nil {
			req.Header.Set("Origin", u.Scheme+"://"+u.Host)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %v", ErrNetwork, action, err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %v", ErrNetwork, action, err)
	}

	finalURL := action
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Stream opens a GET whose body the caller consumes incrementally, with
// the long file timeout applied. The caller owns resp.Body and must close
// it. Used by the downloader for large artifacts that must not be
// buffered in memory.
//
// The returned cancel function releases the request's timeout context and
// must be called after the body is consumed.
func (c *Client) Stream(ctx context.Context, fileURL, referer string) (*http.Response, context.CancelFunc, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		ctxTimeout, cancel := context.WithTimeout(ctx, c.fileTimeout)

		req, err := http.NewRequestWithContext(ctxTimeout, http.MethodGet, fileURL, nil)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		c.setHeaders(req)
		if referer != "" {
			req.Header.Set("Referer", referer)
		}

		resp, err := c.hc.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, cancel, nil
		}

		if err == nil {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		cancel()

		if attempt < c.attempts {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryStep):
			}
		}
	}

	return nil, nil, fmt.Errorf("%w: GET %s after %d attempts: %v", ErrNetwork, fileURL, c.attempts, lastErr)
}

// setHeaders applies the identity and site-specific headers to a request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}

// readBody reads a response body up to maxBodySize, decoding the declared
// content encoding. Brotli support matters because several dataset
// properties serve br-encoded pages to browser User-Agents.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
