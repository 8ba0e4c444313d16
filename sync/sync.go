// Package sync implements the Sync Orchestrator of SPEC_FULL.md §4.5:
// debounced encrypted push, boot-time pull, 409-triggers-merge-and-
// repush conflict resolution, and a telemetry log of every attempt.
// Encryption/decryption is offloaded to the worker pool (§4.8); HTTP
// transport and retry policy come from the httpclient package.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/codec"
	"github.com/tecnocratoshi/askesis/httpclient"
	"github.com/tecnocratoshi/askesis/merge"
	"github.com/tecnocratoshi/askesis/model"
	"github.com/tecnocratoshi/askesis/persistence"
	"github.com/tecnocratoshi/askesis/telemetry"
	"github.com/tecnocratoshi/askesis/workerpool"
)

// Status mirrors the UI-facing sync state machine of spec §4.5.
type Status string

const (
	StatusInitial Status = "syncInitial"
	StatusSaving  Status = "syncSaving"
	StatusSynced  Status = "syncSynced"
	StatusError   Status = "syncError"
)

// Debounce is the write-path debounce window before a push fires
// (spec §6: "Sync debounce: 2000 ms").
const Debounce = 2 * time.Second

// ApplyMerged is invoked with a server-reconciled state whenever a push
// hits a 409 conflict, so the caller (the State Store) can replace its
// in-memory state and re-render before the orchestrator re-pushes.
type ApplyMerged func(state *model.AppState, log map[string]*big.Int)

// Orchestrator drives push/pull against the vault server.
type Orchestrator struct {
	client *httpclient.Client
	pool   *workerpool.Pool
	ring   *telemetry.Ring
	apply  ApplyMerged
	logger zerolog.Logger

	mu           sync.Mutex
	syncKey      string
	status       Status
	inProgress   bool
	pendingState *model.AppState
	pendingLog   map[string]*big.Int
	timer        *time.Timer
}

// New constructs an Orchestrator. pool must already have TaskEncrypt
// and TaskDecrypt registered (see RegisterWorkerHandlers).
func New(client *httpclient.Client, pool *workerpool.Pool, ring *telemetry.Ring, apply ApplyMerged, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		pool:   pool,
		ring:   ring,
		apply:  apply,
		status: StatusInitial,
		logger: logger.With().Str("component", "sync").Logger(),
	}
}

// RegisterWorkerHandlers installs the Encrypt/Decrypt handlers on pool,
// bound to syncKeyFn so a key rotation is picked up without
// re-registering.
func RegisterWorkerHandlers(pool *workerpool.Pool, syncKeyFn func() string) {
	pool.Register(workerpool.TaskEncrypt, func(ctx context.Context, payload any) (any, error) {
		plaintext := payload.([]byte)
		return codec.Encrypt(syncKeyFn(), plaintext)
	})
	pool.Register(workerpool.TaskDecrypt, func(ctx context.Context, payload any) (any, error) {
		packed := payload.(string)
		return codec.Decrypt(syncKeyFn(), packed)
	})
}

// SetSyncKey installs the device's sync key (a client-generated UUIDv4).
func (o *Orchestrator) SetSyncKey(key string) {
	o.mu.Lock()
	o.syncKey = key
	o.mu.Unlock()
}

// ClearSyncKey drops the key, e.g. on a 401 (spec §7: "Auth: 401 →
// clear local key silently; drop to syncInitial").
func (o *Orchestrator) ClearSyncKey() {
	o.mu.Lock()
	o.syncKey = ""
	o.status = StatusInitial
	o.mu.Unlock()
}

// Status returns the current sync state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// wirePayload is the shape exchanged over /api/sync (spec §6):
// lastModified plus a base64 ciphertext of the exported AppState+log.
type wirePayload struct {
	LastModified int64  `json:"lastModified"`
	State        string `json:"state"`
}

// Push schedules (or, if immediate, fires) a sync of state/log per
// spec §4.5 steps 1-5. No-ops if no sync key is set.
func (o *Orchestrator) Push(ctx context.Context, state *model.AppState, log map[string]*big.Int, immediate bool) {
	o.mu.Lock()
	if o.syncKey == "" {
		o.mu.Unlock()
		return
	}
	o.pendingState = state
	o.pendingLog = log
	o.status = StatusSaving
	if o.timer != nil {
		o.timer.Stop()
	}
	if immediate {
		o.mu.Unlock()
		o.performSync(ctx)
		return
	}
	o.timer = time.AfterFunc(Debounce, func() { o.performSync(context.Background()) })
	o.mu.Unlock()
}

func (o *Orchestrator) performSync(ctx context.Context) {
	o.mu.Lock()
	if o.inProgress {
		o.mu.Unlock()
		return
	}
	state := o.pendingState
	log := o.pendingLog
	o.pendingState = nil
	o.pendingLog = nil
	if state == nil {
		o.mu.Unlock()
		return
	}
	o.inProgress = true
	syncKey := o.syncKey
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inProgress = false
		rerun := o.pendingState != nil
		o.mu.Unlock()
		if rerun {
			o.performSync(ctx)
		}
	}()

	plaintext, err := persistence.Export(state, log)
	if err != nil {
		o.fail(fmt.Sprintf("export before sync failed: %v", err))
		return
	}

	ciphertext, err := o.encrypt(ctx, plaintext)
	if err != nil {
		o.fail(fmt.Sprintf("encrypt before sync failed: %v", err))
		return
	}

	body, err := json.Marshal(wirePayload{LastModified: state.LastModified, State: ciphertext})
	if err != nil {
		o.fail(fmt.Sprintf("marshal sync payload failed: %v", err))
		return
	}

	keyHash := codec.KeyHash(syncKey)
	resp, err := o.client.Do(ctx, http.MethodPost, "/api/sync", keyHash, body)
	if err != nil {
		o.ring.RecordSyncAttempt(false, len(body), "network")
		o.ring.Add(fmt.Sprintf("sync push failed: %v", err), "error", "")
		o.mu.Lock()
		o.status = StatusError
		o.mu.Unlock()
		return
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		o.ring.RecordSyncAttempt(true, len(body), "")
		o.ring.Add("sync complete", "success", "")
		o.mu.Lock()
		o.status = StatusSynced
		o.mu.Unlock()

	case resp.StatusCode == http.StatusConflict:
		o.resolveConflict(ctx, state, log, resp.Body)

	case resp.StatusCode == http.StatusUnauthorized:
		o.ClearSyncKey()
		o.ring.Add("sync key rejected by server", "error", "")

	default:
		o.fail(fmt.Sprintf("sync push rejected with status %d", resp.StatusCode))
	}
}

// resolveConflict implements spec §4.5 step 4's 409 path: fetch the
// server's payload from the response body, decrypt, merge, hand the
// merged state to the ApplyMerged callback to apply and persist, then
// re-push immediately.
func (o *Orchestrator) resolveConflict(ctx context.Context, local *model.AppState, localLog map[string]*big.Int, body []byte) {
	var server wirePayload
	if err := json.Unmarshal(body, &server); err != nil {
		o.fail(fmt.Sprintf("malformed conflict response: %v", err))
		return
	}

	plaintext, err := o.decrypt(ctx, server.State)
	if err != nil {
		o.ring.Add("sync conflict decrypt failed: key invalid or data corrupted", "error", "")
		o.mu.Lock()
		o.status = StatusError
		o.mu.Unlock()
		return
	}

	serverState, serverLog, err := persistence.Import(plaintext)
	if err != nil {
		o.fail(fmt.Sprintf("malformed server state on conflict: %v", err))
		return
	}

	merged, mergedLog := merge.Merge(local, serverState, localLog, serverLog, nowMillis())
	o.ring.Add("sync conflict resolved via merge", "info", "")

	if o.apply != nil {
		o.apply(merged, mergedLog)
	}

	o.Push(ctx, merged, mergedLog, true)
}

// PullResult is the outcome of a boot-time fetch.
type PullResult struct {
	State *model.AppState
	Log   map[string]*big.Int
	Found bool
}

// Pull implements spec §4.5's fetchStateFromCloud: GET /api/sync,
// decrypt, and import. A 401 clears the key; an empty body reports
// Found=false so the bootstrapper can push-local instead.
func (o *Orchestrator) Pull(ctx context.Context) (PullResult, error) {
	o.mu.Lock()
	syncKey := o.syncKey
	o.mu.Unlock()
	if syncKey == "" {
		return PullResult{}, nil
	}

	keyHash := codec.KeyHash(syncKey)
	resp, err := o.client.Do(ctx, http.MethodGet, "/api/sync", keyHash, nil)
	if err != nil {
		return PullResult{}, fmt.Errorf("sync: pull: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		o.ClearSyncKey()
		return PullResult{}, nil
	case http.StatusNoContent:
		return PullResult{}, nil
	case http.StatusOK:
		var payload wirePayload
		if len(resp.Body) == 0 {
			return PullResult{}, nil
		}
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return PullResult{}, fmt.Errorf("sync: malformed pull response: %w", err)
		}
		plaintext, err := o.decrypt(ctx, payload.State)
		if err != nil {
			return PullResult{}, fmt.Errorf("sync: pull decrypt: %s", codec.ErrInvalidData)
		}
		state, log, err := persistence.Import(plaintext)
		if err != nil {
			return PullResult{}, fmt.Errorf("sync: malformed pulled state: %w", err)
		}
		return PullResult{State: state, Log: log, Found: true}, nil
	default:
		return PullResult{}, fmt.Errorf("sync: pull rejected with status %d", resp.StatusCode)
	}
}

func (o *Orchestrator) encrypt(ctx context.Context, plaintext []byte) (string, error) {
	res := <-o.pool.Submit(workerpool.TaskEncrypt, plaintext)
	if res.Err != nil {
		return "", res.Err
	}
	return res.Value.(string), nil
}

func (o *Orchestrator) decrypt(ctx context.Context, packed string) ([]byte, error) {
	res := <-o.pool.Submit(workerpool.TaskDecrypt, packed)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value.([]byte), nil
}

func (o *Orchestrator) fail(msg string) {
	o.logger.Warn().Msg(msg)
	o.ring.Add(msg, "error", "")
	o.mu.Lock()
	o.status = StatusError
	o.mu.Unlock()
}

// nowMillis is overridable in tests; production wires in time.Now.
var nowMillis = func() int64 { return time.Now().UnixMilli() }
