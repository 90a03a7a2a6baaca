package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"moviequiz/pkg/cache"
	"moviequiz/pkg/config"
	"moviequiz/pkg/db"
	"moviequiz/pkg/tracker"
)

func testConfig() config.RequestConfig {
	return config.RequestConfig{
		Retries: 2,
		Timeout: config.Duration(5 * time.Second),
		Contact: "quiz@example.org",
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(time.Millisecond),
			MaxDelay:  config.Duration(5 * time.Millisecond),
		},
	}
}

func newTestClient(t *testing.T) (*Client, *tracker.Tracker) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "client_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	tr := tracker.New()
	return New(cache.NewSQLiteCache(d), tr, testConfig()), tr
}

func TestGet_Sequential(t *testing.T) {
	var conc, peak int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		if current > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, current)
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client, _ := newTestClient(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Get(context.Background(), svr.URL, ""); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 1 {
		t.Errorf("expected sequential requests per provider, saw %d in flight", peak)
	}
}

func TestGet_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	client, tr := newTestClient(t)

	body, err := client.Get(context.Background(), svr.URL, "")
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}
	if string(body) != "success" {
		t.Errorf("Expected 'success', got '%s'", string(body))
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	host := strings.TrimPrefix(svr.URL, "http://")
	if got := tr.Snapshot()[host].APIRetries; got != 2 {
		t.Errorf("expected 2 retries tracked, got %d", got)
	}
}

func TestGet_ServerErrorExhaustsRetries(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer svr.Close()

	client, _ := newTestClient(t)

	_, err := client.Get(context.Background(), svr.URL, "")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("malformed query"))
	}))
	defer svr.Close()

	client, _ := newTestClient(t)

	_, err := client.Get(context.Background(), svr.URL, "")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest || se.Body != "malformed query" {
		t.Errorf("unexpected status error: %+v", se)
	}
	if !IsStatus(err, http.StatusBadRequest) {
		t.Error("IsStatus should match 400")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestGet_Cache(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "MovieQuiz/") || !strings.Contains(ua, "quiz@example.org") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		_, _ = w.Write([]byte(`{"entities":{}}`))
	}))
	defer svr.Close()

	client, tr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		body, err := client.Get(ctx, svr.URL, "labels:test")
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != `{"entities":{}}` {
			t.Errorf("unexpected body %q", body)
		}
	}
	if attempts != 1 {
		t.Errorf("expected second call to be served from cache, got %d requests", attempts)
	}

	host := strings.TrimPrefix(svr.URL, "http://")
	stats := tr.Snapshot()[host]
	if stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("unexpected cache stats %+v", stats)
	}
}

func TestPost_BodyResentOnRetry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"inputs":["Hallo"]}` {
			t.Errorf("attempt %d got body %q", atomic.LoadInt32(&attempts)+1, body)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"translation_text":"Hello"}]`))
	}))
	defer svr.Close()

	client, _ := newTestClient(t)
	body, err := client.PostWithHeaders(context.Background(), svr.URL, []byte(`{"inputs":["Hallo"]}`), map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer secret",
	})
	if err != nil {
		t.Fatalf("PostWithHeaders failed: %v", err)
	}
	if !strings.Contains(string(body), "Hello") {
		t.Errorf("unexpected body %q", body)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer svr.Close()

	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, svr.URL, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNormalizeProvider(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"www.wikidata.org", "wikidata"},
		{"query.wikidata.org", "wikidata"},
		{"huggingface.co", "huggingface"},
		{"api-inference.huggingface.co", "huggingface"},
		{"generativelanguage.googleapis.com", "gemini"},
		{"api.openai.com", "openai"},
		{"localhost:8080", "localhost:8080"},
	}

	for _, tt := range tests {
		if got := normalizeProvider(tt.host); got != tt.expected {
			t.Errorf("normalizeProvider(%q) = %q; want %q", tt.host, got, tt.expected)
		}
	}
}
