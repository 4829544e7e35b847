package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/bytebufferpool"

	"github.com/i474232898/weather-indicator/internal/weather"
)

type countingPool struct {
	bytebufferpool.Pool
	gets, puts atomic.Int32
}

func (p *countingPool) Get() *bytebufferpool.ByteBuffer {
	p.gets.Add(1)
	return p.Pool.Get()
}

func (p *countingPool) Put(b *bytebufferpool.ByteBuffer) {
	p.puts.Add(1)
	p.Pool.Put(b)
}

type fetchRecord struct {
	state FetchState
	bytes int
}

type recordingObserver struct {
	mu      sync.Mutex
	fetches []fetchRecord
}

func (o *recordingObserver) ObserveFetch(state FetchState, bytes int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, fetchRecord{state, bytes})
}

func newTestFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * time.Second}
	}
	if cfg.MaxResponseBytes == 0 {
		cfg.MaxResponseBytes = 2048
	}
	cfg.Backoff.InitialInterval = time.Millisecond
	return NewFetcher("test", cfg)
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":0}`)
	}))
	defer srv.Close()

	pool, obs := &countingPool{}, &recordingObserver{}
	f := newTestFetcher(FetcherConfig{Pool: pool, Observer: obs})

	var got string
	err := f.Get(context.Background(), srv.URL, func(body []byte) error {
		got = string(body)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, `{"status":0}`, got)
	assert.Equal(t, int32(1), pool.gets.Load())
	assert.Equal(t, int32(1), pool.puts.Load())
	assert.Equal(t, []fetchRecord{{StateFinished, 12}}, obs.fetches)
}

func TestGetTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	pool, obs := &countingPool{}, &recordingObserver{}
	f := newTestFetcher(FetcherConfig{Pool: pool, Observer: obs})

	called := false
	err := f.Get(context.Background(), url, func([]byte) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrTransport)
	assert.False(t, called)
	assert.Equal(t, pool.gets.Load(), pool.puts.Load())
	require.Len(t, obs.fetches, 1)
	assert.Equal(t, StateFailed, obs.fetches[0].state)
}

func TestGetOverflow(t *testing.T) {
	body := strings.Repeat("a", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	t.Run("error", func(t *testing.T) {
		f := newTestFetcher(FetcherConfig{MaxResponseBytes: 64, Overflow: OverflowError})
		err := f.Get(context.Background(), srv.URL, func([]byte) error { return nil })
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})

	t.Run("truncate", func(t *testing.T) {
		f := newTestFetcher(FetcherConfig{MaxResponseBytes: 64, Overflow: OverflowTruncate})
		var n int
		err := f.Get(context.Background(), srv.URL, func(b []byte) error {
			n = len(b)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 64, n)
	})
}

func TestGetChunked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":`)
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, `0}`)
	}))
	defer srv.Close()

	f := newTestFetcher(FetcherConfig{AcceptChunked: false})
	err := f.Get(context.Background(), srv.URL, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrChunkedResponse)

	f = newTestFetcher(FetcherConfig{AcceptChunked: true})
	var got string
	require.NoError(t, f.Get(context.Background(), srv.URL, func(b []byte) error {
		got = string(b)
		return nil
	}))
	assert.Equal(t, `{"status":0}`, got)
}

func TestGetUnknownLengthOverHTTP2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":`)
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, `0}`)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 2 * time.Second

	f := newTestFetcher(FetcherConfig{Client: client, AcceptChunked: false})
	err := f.Get(context.Background(), srv.URL, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrChunkedResponse)

	f = newTestFetcher(FetcherConfig{Client: client, AcceptChunked: true})
	var got string
	require.NoError(t, f.Get(context.Background(), srv.URL, func(b []byte) error {
		got = string(b)
		return nil
	}))
	assert.Equal(t, `{"status":0}`, got)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "HTTP/2.0", resp.Proto)
	assert.Empty(t, resp.TransferEncoding)
}

func TestGetRedirectAddsHeaders(t *testing.T) {
	var firstFrom, finalFrom, finalAccept string
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		firstFrom = r.Header.Get("From")
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		finalFrom = r.Header.Get("From")
		finalAccept = r.Header.Get("Accept")
		_, _ = io.WriteString(w, "ok")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(FetcherConfig{
		MaxRedirects: 3,
		RedirectHeaders: http.Header{
			"From":   []string{"user@example.com"},
			"Accept": []string{"text/html"},
		},
	})
	require.NoError(t, f.Get(context.Background(), srv.URL+"/old", func([]byte) error { return nil }))

	assert.Empty(t, firstFrom)
	assert.Equal(t, "user@example.com", finalFrom)
	assert.Equal(t, "text/html", finalAccept)
}

func TestGetTooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	f := newTestFetcher(FetcherConfig{MaxRedirects: 2})
	err := f.Get(context.Background(), srv.URL, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestGetStatusHandling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			hits.Add(1)
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	f := newTestFetcher(FetcherConfig{Backoff: BackoffConfig{MaxRetries: 2}})
	require.NoError(t, f.Get(context.Background(), srv.URL, func([]byte) error { return nil }))
	assert.Equal(t, int32(3), hits.Load())

	hits.Store(0)
	err := f.Get(context.Background(), srv.URL+"/missing", func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), hits.Load(), "client errors are not retried")
}

func TestGetWithoutRetriesFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(FetcherConfig{})
	err := f.Get(context.Background(), srv.URL, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestGetClosesBody(t *testing.T) {
	body := &trackedBody{Reader: strings.NewReader("hello")}
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: body, Header: http.Header{}, Request: r, ContentLength: 5}, nil
	})}

	f := newTestFetcher(FetcherConfig{Client: client})
	require.NoError(t, f.Get(context.Background(), "http://weather.invalid/", func([]byte) error { return nil }))
	assert.True(t, body.closed)
}

func TestBaiduProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":0,"result":{"location":{"name":"南山区"},"now":{"text":"小雨","temp":19,"rh":88,"wind_class":"3级"}}}`)
	}))
	defer srv.Close()

	p := NewBaiduProvider(newTestFetcher(FetcherConfig{}), srv.URL, weather.NewExtractor(weather.PolicyAbort, "", nil))
	pool := weather.NewRecordPool(64)
	rec := pool.Acquire()
	defer pool.Release(rec)

	require.NoError(t, p.Fetch(context.Background(), rec))
	assert.Equal(t, "baidu", p.Name())
	assert.Equal(t, "小雨", rec.ConditionText.String())
	assert.Equal(t, 88, rec.Humidity)

	assert.Error(t, NewBaiduProvider(nil, "", nil).Fetch(context.Background(), rec))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://api.map.baidu.com/weather/v1/", redact("https://api.map.baidu.com/weather/v1/?district_id=1&ak=secret"))
}
