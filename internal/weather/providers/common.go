package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/valyala/bytebufferpool"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// OverflowPolicy decides what happens when a body exceeds the response buffer.
type OverflowPolicy string

const (
	OverflowError    OverflowPolicy = "error"
	OverflowTruncate OverflowPolicy = "truncate"
)

var (
	ErrTransport        = errors.New("transport failure")
	ErrResponseTooLarge = errors.New("response exceeds buffer capacity")
	ErrChunkedResponse  = errors.New("chunked response not accumulated")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	errRateLimited      = errors.New("rate limited")
	errServerError      = errors.New("server error")
	errCircuitOpen      = errors.New("circuit breaker open")
	errNoHTTPClient     = errors.New("http client not configured")
	errInvalidConfig    = errors.New("invalid backoff configuration")
	errRedirectNoTarget = errors.New("redirect without location")
)

// BufferPool hands out response buffers. bytebufferpool.Pool satisfies it.
type BufferPool interface {
	Get() *bytebufferpool.ByteBuffer
	Put(b *bytebufferpool.ByteBuffer)
}

// Observer receives the outcome of every fetch.
type Observer interface {
	ObserveFetch(state FetchState, bytes int, elapsed time.Duration)
}

// FetcherConfig bundles the HTTP client, buffer and resilience settings.
type FetcherConfig struct {
	Client           *http.Client
	MaxResponseBytes int
	Overflow         OverflowPolicy
	AcceptChunked    bool
	MaxRedirects     int
	// RedirectHeaders are added to the request re-issued after a redirect.
	RedirectHeaders http.Header
	Backoff         BackoffConfig
	Pool            BufferPool
	Observer        Observer
	Logger          *slog.Logger
}

// Fetcher performs bounded GET requests. Redirects are not followed by the
// client; the fetcher re-issues them itself.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. A nil Pool uses a private bytebufferpool.Pool.
func NewFetcher(name string, cfg FetcherConfig) *Fetcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	if cfg.Pool == nil {
		cfg.Pool = &bytebufferpool.Pool{}
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowError
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff.InitialInterval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var client *http.Client
	if cfg.Client != nil {
		c := *cfg.Client
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &c
	}

	return &Fetcher{
		cfg:     cfg,
		client:  client,
		circuit: cb,
		logger:  logger.With("component", "fetch", "breaker", name),
	}
}

// Get fetches rawURL into a pooled buffer and calls handle with the body. The
// body is only valid during handle. handle is never called when the transport fails.
func (f *Fetcher) Get(ctx context.Context, rawURL string, handle func(body []byte) error) error {
	if f.client == nil {
		return errNoHTTPClient
	}
	if f.cfg.Backoff.MaxRetries < 0 {
		return errInvalidConfig
	}

	buf := f.cfg.Pool.Get()
	defer f.cfg.Pool.Put(buf)

	fc := &fetchContext{
		buf:           buf,
		limit:         f.cfg.MaxResponseBytes,
		overflow:      f.cfg.Overflow,
		acceptChunked: f.cfg.AcceptChunked,
		started:       time.Now(),
		logger:        f.logger.With("url", redact(rawURL)),
	}

	err := f.doRequestWithResilience(ctx, fc, rawURL)
	if err != nil {
		fc.fail(err)
		f.observe(fc)
		return err
	}
	fc.transition(StateFinished)
	f.observe(fc)

	return handle(buf.B)
}

func (f *Fetcher) observe(fc *fetchContext) {
	if f.cfg.Observer != nil {
		f.cfg.Observer.ObserveFetch(fc.state, fc.buf.Len(), time.Since(fc.started))
	}
}

// doRequestWithResilience executes the request with retries, exponential backoff,
// and a circuit breaker.
func (f *Fetcher) doRequestWithResilience(ctx context.Context, fc *fetchContext, rawURL string) error {
	var attempt int

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		}

		fc.reset()
		_, err := f.circuit.Execute(func() (interface{}, error) {
			return nil, f.perform(ctx, fc, rawURL)
		})
		if err == nil {
			return nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w: %v", ErrTransport, errCircuitOpen, err)
		}
		if !retryable(err) || attempt >= f.cfg.Backoff.MaxRetries {
			return err
		}

		delay := f.cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > f.cfg.Backoff.MaxInterval && f.cfg.Backoff.MaxInterval > 0 {
			delay = f.cfg.Backoff.MaxInterval
		}
		fc.logger.Warn("fetch attempt failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, errRateLimited) || errors.Is(err, errServerError)
}

// perform runs one attempt, re-issuing redirects up to MaxRedirects.
func (f *Fetcher) perform(ctx context.Context, fc *fetchContext, rawURL string) error {
	target := rawURL
	var extra http.Header

	for hop := 0; ; hop++ {
		fc.transition(StateConnecting)
		req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, fc.trace()), http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		fc.headers(resp)

		if isRedirect(resp.StatusCode) {
			closeBody(resp, fc.logger)
			if hop >= f.cfg.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, hop)
			}
			next, err := resolveLocation(resp)
			if err != nil {
				return err
			}
			fc.logger.Debug("http redirect", "status", resp.StatusCode, "location", redact(next))
			target = next
			extra = f.cfg.RedirectHeaders
			continue
		}

		err = checkStatus(resp.StatusCode)
		if err == nil {
			err = fc.accumulate(resp)
		}
		closeBody(resp, fc.logger)
		if err != nil {
			return err
		}

		fc.logger.Info("http get finished", "status", resp.StatusCode, "content_length", resp.ContentLength, "bytes", fc.buf.Len())
		return nil
	}
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %d", ErrUnexpectedStatus, errRateLimited, code)
	case code >= 500:
		return fmt.Errorf("%w: %w: %d", ErrUnexpectedStatus, errServerError, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
	return nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(resp *http.Response) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("%w: %w", ErrUnexpectedStatus, errRedirectNoTarget)
	}
	u, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: bad location %q: %v", ErrUnexpectedStatus, loc, err)
	}
	return u.String(), nil
}

func closeBody(resp *http.Response, logger *slog.Logger) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if err := resp.Body.Close(); err != nil {
		logger.Debug("closing response body", "error", err)
	}
	logger.Info("http disconnected")
}

// redact drops the query string, which carries the API key.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	return u.String()
}
