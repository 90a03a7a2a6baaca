package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"moviequiz/pkg/cache"
	"moviequiz/pkg/config"
	"moviequiz/pkg/logging"
	"moviequiz/pkg/tracker"
	"moviequiz/pkg/version"
)

// ErrTransient marks a request that kept failing with connection errors, 429 or 5xx
// until all attempts were used up.
var ErrTransient = errors.New("transient failure")

// StatusError is returned for non-retryable HTTP statuses (4xx other than 429).
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.Code)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client handles HTTP requests with per-provider queuing, caching, retries and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	logger     *slog.Logger
	userAgent  string
	attempts   int
	rateGap    time.Duration

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	body     []byte
	headers  map[string]string
	cacheKey string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. c may be nil when no response is ever cached.
func New(c cache.Cacher, t *tracker.Tracker, cfg config.RequestConfig) *Client {
	if t == nil {
		t = tracker.New()
	}
	attempts := cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	ua := fmt.Sprintf("MovieQuiz/%s", version.Version)
	if cfg.Contact != "" {
		ua += fmt.Sprintf(" (%s)", cfg.Contact)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout.Std()},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.Backoff.BaseDelay.Std(), cfg.Backoff.MaxDelay.Std()),
		logger:     logging.RequestLogger,
		userAgent:  ua,
		attempts:   attempts,
		rateGap:    cfg.RateGap.Std(),
		queues:     make(map[string]chan job),
	}
}

// Tracker returns the usage tracker shared by all requests of this client.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, headers, cacheKey)
}

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers and queuing. Responses are never cached.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, "")
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if cacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			logging.Trace(c.logger, "Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, body: body, headers: headers, cacheKey: cacheKey, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	// All wikidata subdomains (www, query) share one queue so the per-host limit holds
	if strings.HasSuffix(host, ".wikidata.org") || host == "wikidata.org" {
		return "wikidata"
	}
	if strings.HasSuffix(host, ".huggingface.co") || host == "huggingface.co" {
		return "huggingface"
	}
	if strings.HasSuffix(host, "googleapis.com") {
		return "gemini"
	}
	if host == "api.openai.com" {
		return "openai"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			c.logger.Warn("Job dropped from queue (context expired)", "provider", provider, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		for k, v := range j.headers {
			j.req.Header.Set(k, v)
		}
		if j.req.Header.Get("User-Agent") == "" {
			j.req.Header.Set("User-Agent", c.userAgent)
		}

		body, err := c.executeWithBackoff(provider, j)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			if j.cacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					c.logger.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.rateGap > 0 {
			time.Sleep(c.rateGap)
		}
	}
}

// executeWithBackoff attempts the request, backing off on connection errors, 429 and 5xx.
// Other 4xx statuses fail immediately with a *StatusError.
func (c *Client) executeWithBackoff(provider string, j job) ([]byte, error) {
	ctx := j.req.Context()
	var lastErr error

	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := c.backoff.Wait(ctx, provider); err != nil {
			return nil, err
		}
		if attempt > 0 {
			c.tracker.TrackAPIRetry(provider)
		}

		req := j.req
		if j.body != nil {
			// Each attempt needs a fresh reader
			req = j.req.Clone(ctx)
			req.Body = io.NopCloser(bytes.NewReader(j.body))
			req.ContentLength = int64(len(j.body))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Request failed", "provider", provider, "url", req.URL.Redacted(), "attempt", attempt+1, "error", err)
			c.backoff.RecordFailure(provider)
			lastErr = err
			continue
		}

		c.logger.Info("Request", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode,
			"attempt", attempt+1, "duration", time.Since(start))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			if retryAfter > 0 {
				c.logger.Warn("Provider throttled", "provider", provider, "status", resp.StatusCode, "retry_after", retryAfter)
			}
			c.backoff.RecordThrottle(provider, retryAfter)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			c.backoff.RecordSuccess(provider)
			return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
		}
		if err != nil {
			c.backoff.RecordFailure(provider)
			lastErr = fmt.Errorf("read error: %w", err)
			continue
		}

		c.backoff.RecordSuccess(provider)
		return data, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrTransient, c.attempts, lastErr)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
