package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/bootstrap"
	"github.com/tecnocratoshi/askesis/config"
	"github.com/tecnocratoshi/askesis/model"
)

func TestBootWithoutSyncServerProducesUsableStore(t *testing.T) {
	cfg := &config.DaemonConfig{
		Env:                  "test",
		DataDir:              t.TempDir(),
		SyncBootTimeout:      50 * time.Millisecond,
		SyncDebounce:         2 * time.Second,
		WorkerPoolSize:       2,
		ArchiveCheckInterval: time.Hour,
		GracefulTimeout:      time.Second,
	}

	app, err := bootstrap.Boot(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if !app.St.InitialSyncDone {
		t.Fatalf("expected InitialSyncDone after boot with no sync key")
	}
	if app.Sync.Status() != "" && app.Sync.Status() != app.Sync.Status() {
		t.Fatalf("sanity check on status accessor failed")
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestBootReopensPersistedState(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &config.DaemonConfig{
		Env:                  "test",
		DataDir:              dataDir,
		SyncBootTimeout:      50 * time.Millisecond,
		WorkerPoolSize:       1,
		ArchiveCheckInterval: time.Hour,
		GracefulTimeout:      time.Second,
	}

	app, err := bootstrap.Boot(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("first boot: %v", err)
	}
	app.St.State.HasOnboarded = true
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reopened, err := bootstrap.Boot(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	defer reopened.Shutdown(context.Background())

	if !reopened.St.State.HasOnboarded {
		t.Fatalf("expected onboarded flag to survive a reboot")
	}
}

func TestBootPrunesDayDataOrphanedWhileOffline(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &config.DaemonConfig{
		Env:                  "test",
		DataDir:              dataDir,
		SyncBootTimeout:      50 * time.Millisecond,
		WorkerPoolSize:       1,
		ArchiveCheckInterval: time.Hour,
		GracefulTimeout:      time.Second,
	}

	app, err := bootstrap.Boot(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("first boot: %v", err)
	}

	keptID := uuid.New()
	app.St.State.Habits = append(app.St.State.Habits, model.Habit{
		ID:        keptID,
		CreatedOn: "2026-01-01",
		ScheduleHistory: []model.HabitSchedule{{
			StartDate: "2026-01-01",
			Name:      "Kept",
			Goal:      model.Goal{Kind: model.GoalCheck},
			Frequency: model.Frequency{Kind: model.FrequencyDaily},
			Times:     model.Times{model.TimeMorning},
		}},
	})
	app.St.State.SetDayData("2026-01-05", keptID.String(), model.HabitDayData{})
	// An orphan: dailyData for a habit that was deleted (e.g. on another
	// device) while this device was offline, so no prune-on-delete ever
	// ran for it locally.
	app.St.State.SetDayData("2026-01-05", uuid.New().String(), model.HabitDayData{})

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reopened, err := bootstrap.Boot(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	defer reopened.Shutdown(context.Background())

	byHabit, ok := reopened.St.State.DailyData["2026-01-05"]
	if !ok {
		t.Fatalf("expected 2026-01-05 bucket to survive reboot")
	}
	if len(byHabit) != 1 {
		t.Fatalf("expected orphaned habit's day data pruned on boot, got %d entries", len(byHabit))
	}
	if _, ok := byHabit[keptID.String()]; !ok {
		t.Fatalf("expected the surviving habit's day data left intact")
	}
}
