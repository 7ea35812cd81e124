package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
)

const maxResponseBytes = 512 << 20

// ClientConfig tunes the per-provider HTTP client.
type ClientConfig struct {
	Timeout     time.Duration
	RateLimit   float64 // requests per second; 0 disables limiting
	Concurrency int64   // in-flight requests; 0 disables the bound

	// Circuit breaker. Zero values take the defaults below.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 60 * time.Second
)

// Client is an HTTP client for one provider. Every request waits on a token
// bucket and a concurrency semaphore, then runs through a circuit breaker that
// opens after consecutive transport or 5xx failures.
type Client struct {
	source  string
	http    *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker[[]byte]
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a client for source. metrics and logger may be nil.
func NewClient(source string, cfg ClientConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		source:  source,
		http:    &http.Client{Timeout: cfg.Timeout},
		clock:   clock,
		metrics: metrics,
		logger:  logger.With("source", source),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Concurrency > 0 {
		c.sem = semaphore.NewWeighted(cfg.Concurrency)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// EnableCookies attaches a cookie jar so session logins persist across requests.
func (c *Client) EnableCookies() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	c.http.Jar = jar
	return nil
}

// Get fetches url and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, header)
}

// Post sends body to url and returns the body of a 2xx response.
func (c *Client) Post(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	return c.do(ctx, http.MethodPost, url, body, header)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.sem != nil {
		defer c.sem.Release(1)
	}

	start := c.clock.Now()
	out, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, url, body, header)
	})
	if c.metrics != nil {
		c.metrics.RetrieveDuration.WithLabelValues(c.source).Observe(c.clock.Since(start).Seconds())
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.RetrievalError{Source: c.source, Kind: domain.RetrievalCircuitOpen, Err: err}
	}
	c.count(err)
	return out, err
}

func (c *Client) wait(ctx context.Context) error {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if c.sem != nil {
				c.sem.Release(1)
			}
			return err
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.RetrievalError{Source: c.source, Kind: domain.RetrievalFailed, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.RetrievalError{Source: c.source, Kind: domain.RetrievalFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retErr := domain.ClassifyStatus(c.source, resp.StatusCode, string(data))
		if retErr.Kind == domain.RetrievalRateLimited {
			retErr.RetryAfter = c.retryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, retErr
	}
	return data, nil
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func (c *Client) retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.clock.Now()); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) count(err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = domain.RetrievalFailed.String()
		var retErr *domain.RetrievalError
		if errors.As(err, &retErr) {
			outcome = retErr.Kind.String()
		}
	}
	c.metrics.RetrieveRequests.WithLabelValues(c.source, outcome).Inc()
}

// breakerSuccess keeps client-side rejections (4xx) from tripping the breaker;
// only transport errors and 5xx count as provider failures.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var retErr *domain.RetrievalError
	if errors.As(err, &retErr) {
		return retErr.StatusCode >= 400 && retErr.StatusCode < 500
	}
	return false
}
