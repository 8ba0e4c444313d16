// Package server implements askesis-vault's HTTP API of SPEC_FULL.md
// §4.9: a chi router with a trimmed middleware chain (recoverer →
// request-id → request logger → CORS → rate limit → timeout → key-hash
// auth)
// fronting the Redis blob store. Modeled on the teacher's
// router.NewRouter chain and middleware/ratelimit.go's sliding-window
// limiter.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/serverstore"
)

// Vault is the persistence dependency NewRouter needs — satisfied by
// *serverstore.Store in production and by a fake in tests.
type Vault interface {
	Get(ctx context.Context, keyHash string) (serverstore.Record, bool, error)
	Put(ctx context.Context, keyHash string, rec serverstore.Record) error
	Ping(ctx context.Context) error
}

// Config tunes the vault server's middleware chain.
type Config struct {
	RateLimitRPM   int
	RateLimitBurst int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// DefaultConfig returns production-grade server defaults.
func DefaultConfig() Config {
	return Config{RateLimitRPM: 120, RateLimitBurst: 20, RequestTimeout: 10 * time.Second, AllowedOrigins: []string{"*"}}
}

// NewRouter builds the full askesis-vault handler chain.
func NewRouter(cfg Config, vault Vault, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	limiter := newRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)
	r.Use(limiter.handler)
	r.Use(chimw.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", healthzHandler)
	r.Get("/ready", readyHandler(vault))

	h := &handlers{vault: vault, logger: logger.With().Str("component", "server").Logger()}
	r.Route("/api", func(r chi.Router) {
		r.Use(keyHashAuth)
		r.Get("/sync", h.getSync)
		r.Post("/sync", h.postSync)
	})
	r.Post("/api/analyze", analyzeHandler)

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"askesis-vault"}`))
}

func readyHandler(vault Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := vault.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"askesis-vault"}`))
	}
}

// analyzeHandler is a shape-only passthrough per spec.md's explicit
// exclusion of AI endpoint contents: it validates the request shape
// and returns a stub body, never invoking a model.
func analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt            string `json:"prompt"`
		SystemInstruction string `json:"systemInstruction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

const keyHashHeader = "X-Sync-Key-Hash"

type ctxKey string

const ctxKeyHash ctxKey = "keyHash"

func contextWithKeyHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, ctxKeyHash, hash)
}

func keyHashFromContext(ctx context.Context) string {
	hash, _ := ctx.Value(ctxKeyHash).(string)
	return hash
}

func keyHashAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.Header.Get(keyHashHeader)
		if hash == "" {
			http.Error(w, `{"error":"missing X-Sync-Key-Hash header"}`, http.StatusUnauthorized)
			return
		}
		ctx := contextWithKeyHash(r.Context(), hash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type handlers struct {
	vault  Vault
	logger zerolog.Logger
}

type wirePayload struct {
	LastModified int64  `json:"lastModified"`
	State        string `json:"state"`
}

// getSync implements GET /api/sync (spec §6): 200 with the stored
// record, or 204 if nothing has ever been pushed for this key hash.
func (h *handlers) getSync(w http.ResponseWriter, r *http.Request) {
	keyHash := keyHashFromContext(r.Context())
	rec, found, err := h.vault.Get(r.Context(), keyHash)
	if err != nil {
		h.logger.Error().Err(err).Msg("vault get failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, wirePayload{LastModified: rec.LastModified, State: rec.State})
}

// postSync implements POST /api/sync: overwrites the record unless the
// server already holds a strictly newer one, in which case it responds
// 409 with its own record so the caller can merge and re-push (spec
// §4.5 step 4).
func (h *handlers) postSync(w http.ResponseWriter, r *http.Request) {
	keyHash := keyHashFromContext(r.Context())

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"could not read body"}`, http.StatusBadRequest)
		return
	}
	var incoming wirePayload
	if err := json.Unmarshal(data, &incoming); err != nil {
		http.Error(w, `{"error":"malformed body"}`, http.StatusBadRequest)
		return
	}

	existing, found, err := h.vault.Get(r.Context(), keyHash)
	if err != nil {
		h.logger.Error().Err(err).Msg("vault get failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if found && existing.LastModified > incoming.LastModified {
		writeJSON(w, http.StatusConflict, wirePayload{LastModified: existing.LastModified, State: existing.State})
		return
	}

	rec := serverstore.Record{LastModified: incoming.LastModified, State: incoming.State}
	if err := h.vault.Put(r.Context(), keyHash, rec); err != nil {
		h.logger.Error().Err(err).Msg("vault put failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
