package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/httpclient"
)

func TestDoReturnsSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(httpclient.KeyHashHeader) != "abc123" {
			t.Errorf("expected key hash header to be forwarded, got %q", r.Header.Get(httpclient.KeyHashHeader))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := httpclient.New(srv.URL, zerolog.Nop(), httpclient.WithBackoff(time.Millisecond, 1))
	resp, err := c.Do(context.Background(), http.MethodGet, "/api/sync", "abc123", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDoDoesNotRetry409(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"lastModified":5}`))
	}))
	defer srv.Close()

	c := httpclient.New(srv.URL, zerolog.Nop(), httpclient.WithBackoff(time.Millisecond, 2))
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/sync", "keyhash", []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 surfaced to caller, got %d", resp.StatusCode)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected exactly 1 call (no retry on 409), got %d", calls)
	}
}

func TestDoRetries5xxThenSucceeds(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpclient.New(srv.URL, zerolog.Nop(), httpclient.WithBackoff(time.Millisecond, 5))
	resp, err := c.Do(context.Background(), http.MethodGet, "/api/sync", "keyhash", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", resp.StatusCode)
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoExhaustsRetriesOn5xx(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := httpclient.New(srv.URL, zerolog.Nop(), httpclient.WithBackoff(time.Millisecond, 2))
	_, err := c.Do(context.Background(), http.MethodGet, "/api/sync", "keyhash", nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 calls, got %d", calls)
	}
}
