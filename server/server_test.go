package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/server"
	"github.com/tecnocratoshi/askesis/serverstore"
)

type fakeVault struct {
	mu      sync.Mutex
	records map[string]serverstore.Record
	pingErr error
}

func newFakeVault() *fakeVault {
	return &fakeVault{records: make(map[string]serverstore.Record)}
}

func (f *fakeVault) Get(ctx context.Context, keyHash string) (serverstore.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[keyHash]
	return rec, ok, nil
}

func (f *fakeVault) Put(ctx context.Context, keyHash string, rec serverstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[keyHash] = rec
	return nil
}

func (f *fakeVault) Ping(ctx context.Context) error { return f.pingErr }

func newTestRouter(vault *fakeVault) http.Handler {
	cfg := server.DefaultConfig()
	cfg.RateLimitRPM = 1000
	cfg.RateLimitBurst = 1000
	return server.NewRouter(cfg, vault, zerolog.Nop())
}

func TestGetSyncWithoutKeyHashIs401(t *testing.T) {
	r := newTestRouter(newFakeVault())
	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetSyncOnEmptyVaultIs204(t *testing.T) {
	r := newTestRouter(newFakeVault())
	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	req.Header.Set("X-Sync-Key-Hash", "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestPostThenGetSyncRoundTrips(t *testing.T) {
	r := newTestRouter(newFakeVault())

	body, _ := json.Marshal(map[string]any{"lastModified": 10, "state": "ciphertext"})
	postReq := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewReader(body))
	postReq.Header.Set("X-Sync-Key-Hash", "abc123")
	postW := httptest.NewRecorder()
	r.ServeHTTP(postW, postReq)
	if postW.Code != http.StatusOK {
		t.Fatalf("expected 200 on push, got %d: %s", postW.Code, postW.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	getReq.Header.Set("X-Sync-Key-Hash", "abc123")
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200 on pull, got %d", getW.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(getW.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got["state"] != "ciphertext" {
		t.Fatalf("expected pulled state to round-trip, got %+v", got)
	}
}

func TestPostSyncConflictsOnStaleLastModified(t *testing.T) {
	vault := newFakeVault()
	vault.records["abc123"] = serverstore.Record{LastModified: 100, State: "server-state"}
	r := newTestRouter(vault)

	body, _ := json.Marshal(map[string]any{"lastModified": 50, "state": "stale-client-state"})
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewReader(body))
	req.Header.Set("X-Sync-Key-Hash", "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var got map[string]any
	json.Unmarshal(w.Body.Bytes(), &got)
	if got["state"] != "server-state" {
		t.Fatalf("expected conflict body to carry the server's record, got %+v", got)
	}
}

func TestHealthzAndReady(t *testing.T) {
	vault := newFakeVault()
	r := newTestRouter(vault)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected /healthz 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected /ready 200, got %d", w2.Code)
	}
}

func TestReadyReports503WhenVaultUnreachable(t *testing.T) {
	vault := newFakeVault()
	vault.pingErr = context.DeadlineExceeded
	r := newTestRouter(vault)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAnalyzeRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(newFakeVault())
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on malformed analyze body, got %d", w.Code)
	}
}
