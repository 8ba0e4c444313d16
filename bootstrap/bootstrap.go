// Package bootstrap wires the daemon's subsystems together in the
// sequence SPEC_FULL.md §4.7 describes: load local state first, then
// race an initial sync pull against a boot timeout, then hand a ready
// store to the caller. Modeled on the teacher's main.go wiring order
// (config → logger → redis/registry → router → background pollers →
// graceful shutdown), adapted from an HTTP gateway's boot sequence to a
// local-first client's.
package bootstrap

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/actions"
	"github.com/tecnocratoshi/askesis/config"
	"github.com/tecnocratoshi/askesis/httpclient"
	"github.com/tecnocratoshi/askesis/model"
	"github.com/tecnocratoshi/askesis/persistence"
	"github.com/tecnocratoshi/askesis/store"
	"github.com/tecnocratoshi/askesis/sync"
	"github.com/tecnocratoshi/askesis/telemetry"
	"github.com/tecnocratoshi/askesis/workerpool"
)

// keyFileName is the device's "simple key-value storage" entry for the
// sync key (spec §4.5/§6): a single UUIDv4, read on boot and rewritten
// whenever the user sets or clears it.
const keyFileName = ".sync_key"

// App holds every long-lived subsystem the daemon's entrypoint and its
// eventual front end (CLI/TUI/HTTP-local) need.
type App struct {
	Cfg *config.DaemonConfig

	St      *store.Store
	Disk    *persistence.Store
	Pool    *workerpool.Pool
	Ring    *telemetry.Ring
	Sync    *sync.Orchestrator
	Actions *actions.Controller
	Client  *httpclient.Client
	Logger  zerolog.Logger

	cancelArchival context.CancelFunc
}

// Boot performs the sequence in spec §4.7: local state load always
// happens first (the store must never be empty-blocked on the
// network); an initial sync pull is then raced against
// cfg.SyncBootTimeout so a slow or unreachable vault never blocks the
// UI from becoming usable.
func Boot(ctx context.Context, cfg *config.DaemonConfig, logger zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("bootstrap: create data dir: %w", err)
	}

	ring := telemetry.New(func() int64 { return time.Now().UnixMilli() })

	dbPath := filepath.Join(cfg.DataDir, "askesis.db")
	disk, err := persistence.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open local store: %w", err)
	}

	st := store.New(logger)

	state, log, err := disk.Load()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load local state: %w", err)
	}
	st.State = state
	st.Log.SetEntries(log)
	st.PruneOrphanedDayData()

	pool := workerpool.New(workerpool.DefaultConfig(), logger)
	pool.Start(cfg.WorkerPoolSize)

	var client *httpclient.Client
	if cfg.SyncServerURL != "" {
		client = httpclient.New(cfg.SyncServerURL, logger)
	}

	app := &App{Cfg: cfg, St: st, Disk: disk, Pool: pool, Ring: ring, Client: client, Logger: logger}

	orch := sync.New(client, pool, ring, app.applyMerged, logger)
	key := readStoredSyncKey(cfg.DataDir)
	// The handlers read the stored key on every call, so a key written
	// later by SetSyncKey is the one used for encryption.
	sync.RegisterWorkerHandlers(pool, func() string { return readStoredSyncKey(cfg.DataDir) })
	actions.RegisterWorkerHandlers(pool)
	app.Sync = orch

	persist := func(immediate bool) {
		if err := disk.Save(st.State, st.Log.Entries(), immediate); err != nil {
			logger.Error().Err(err).Msg("bootstrap: local save failed")
		}
	}
	push := func(immediate bool) {
		orch.Push(ctx, st.State, st.Log.Entries(), immediate)
	}
	app.Actions = actions.New(st, pool, persist, push, func() int64 { return time.Now().UnixMilli() }, logger)

	// Step 5 of spec §4.7: if a sync key is present, race the initial
	// fetch against the boot timeout; otherwise flip initialSyncDone
	// immediately.
	if key != "" {
		orch.SetSyncKey(key)
		bootCtx, cancel := context.WithTimeout(ctx, cfg.SyncBootTimeout)
		res, err := orch.Pull(bootCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: initial pull failed, continuing with local state")
		} else if res.Found {
			app.applyMerged(res.State, res.Log)
		} else if len(st.State.Habits) > 0 {
			push(false)
		}
	}

	st.InitialSyncDone = true

	app.scheduleArchivalCheck(ctx)

	return app, nil
}

// applyMerged is the sync.ApplyMerged callback: it replaces the
// store's state and log wholesale, matching spec §4.5 step 5 ("apply
// the merged state to the live store"), and schedules a local save of
// it.
func (a *App) applyMerged(state *model.AppState, log map[string]*big.Int) {
	a.St.Lock()
	defer a.St.Unlock()
	a.St.State = state
	a.St.Log.SetEntries(log)
	a.St.ClearCachesForScheduleChange()
	if err := a.Disk.Save(state, log, false); err != nil {
		a.Logger.Error().Err(err).Msg("bootstrap: local save of merged state failed")
	}
}

// scheduleArchivalCheck runs actions.PerformArchivalCheck on the
// configured interval, the background task spec §4.7 says the
// bootstrapper schedules once the store is ready.
func (a *App) scheduleArchivalCheck(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelArchival = cancel
	go func() {
		ticker := time.NewTicker(a.Cfg.ArchiveCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				today := time.Now().Format("2006-01-02")
				if err := a.Actions.PerformArchivalCheck(today); err != nil {
					a.Logger.Warn().Err(err).Msg("archival check failed")
				}
			}
		}
	}()
}

// SetSyncKey installs the passphrase used for sync, persists it to the
// device's key-value storage, and pushes local state immediately so
// the server record reflects it right away.
func (a *App) SetSyncKey(key string) {
	a.Sync.SetSyncKey(key)
	writeStoredSyncKey(a.Cfg.DataDir, key)
	a.Sync.Push(context.Background(), a.St.State, a.St.Log.Entries(), true)
}

// ClearSyncKey drops the locally stored key, matching a user-initiated
// "stop syncing" action (distinct from the orchestrator's own 401
// auto-clear, which does not touch the on-disk copy here).
func (a *App) ClearSyncKey() {
	a.Sync.ClearSyncKey()
	writeStoredSyncKey(a.Cfg.DataDir, "")
}

// Shutdown stops background work and flushes local state, mirroring
// the teacher's graceful-shutdown sequence (stop pollers, then close
// the store).
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancelArchival != nil {
		a.cancelArchival()
	}
	a.Pool.Stop()
	if err := a.Disk.Save(a.St.State, a.St.Log.Entries(), true); err != nil {
		a.Logger.Error().Err(err).Msg("final save failed")
	}
	return a.Disk.Close()
}

func readStoredSyncKey(dataDir string) string {
	data, err := os.ReadFile(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeStoredSyncKey(dataDir, key string) {
	path := filepath.Join(dataDir, keyFileName)
	if key == "" {
		_ = os.Remove(path)
		return
	}
	_ = os.WriteFile(path, []byte(key), 0o600)
}
