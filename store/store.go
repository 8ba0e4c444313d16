// Package store implements the process-wide in-memory model described
// by SPEC_FULL.md §2 "State Store": habits, daily data, archives,
// diagnoses, sync state, and the selector caches, all mutated only by
// the action controller, persistence (on load), sync (on merge), and
// bootstrap — never concurrently, per §5.
package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/bitmap"
	"github.com/tecnocratoshi/askesis/model"
	"github.com/tecnocratoshi/askesis/selectors"
)

// SyncStatus is one of the four states of spec §4.5.
type SyncStatus string

const (
	SyncInitial SyncStatus = "syncInitial"
	SyncSaving  SyncStatus = "syncSaving"
	SyncSynced  SyncStatus = "syncSynced"
	SyncError   SyncStatus = "syncError"
)

// Store is the aggregate root of in-process state. State is the
// persisted/synced AppState; Log is the bitmap log split out of it per
// invariant 7; Selectors is the derived-view layer with its own
// volatile caches; everything else here (SyncStatus, ActionLock,
// InitialSyncDone) is volatile session state, never persisted.
type Store struct {
	mu sync.Mutex

	State *model.AppState
	Log   *bitmap.Log
	Sel   *selectors.Selectors

	SyncStatus      SyncStatus
	InitialSyncDone bool

	// ActionLock is the single-slot action lock of spec §4.6: only one
	// pending drop/removal/ending/deletion confirmation flow at a time.
	actionLock sync.Mutex
	lockHeld   bool

	logger zerolog.Logger
}

// New wires a fresh Store over an empty AppState.
func New(logger zerolog.Logger) *Store {
	log := bitmap.New(logger)
	st := &Store{
		State:  model.New(),
		Log:    log,
		logger: logger.With().Str("component", "store").Logger(),
	}
	st.Sel = selectors.New(log, st.dayDataLookup, logger)
	return st
}

func (s *Store) dayDataLookup(h *model.Habit, dateISO string) (*model.HabitDayData, bool) {
	d, ok := s.State.DayData(dateISO, h.ID.String())
	if !ok {
		return nil, false
	}
	return &d, true
}

// Lock/Unlock guard direct State mutation. The actions package applies
// the boot-gate and cache invalidation to its mutations but does not
// take this lock, except in its background archive-prune goroutine;
// the bootstrap's sync merge callback takes it.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// TryAcquireActionLock attempts to take the single-slot action lock
// used to serialize confirm-then-apply flows (handleHabitDrop,
// requestHabitEndingFromModal, requestHabitPermanentDeletion). It
// returns false if a flow is already pending.
func (s *Store) TryAcquireActionLock() bool {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()
	if s.lockHeld {
		return false
	}
	s.lockHeld = true
	return true
}

// ReleaseActionLock releases the single-slot lock on confirm, cancel,
// or error (spec §5).
func (s *Store) ReleaseActionLock() {
	s.actionLock.Lock()
	defer s.actionLock.Unlock()
	s.lockHeld = false
}

// BumpLastModified enforces invariant 5 (strictly monotonic within a
// session) and implements the boot-time counter vs. wall-clock policy
// of spec §4.3: while still booting, increment by 1 to keep sync
// decisions deterministic; once the initial sync has completed, jump
// to wall-clock time (but never backwards).
func (s *Store) BumpLastModified(nowMillis int64) int64 {
	if !s.InitialSyncDone {
		s.State.LastModified++
		return s.State.LastModified
	}
	if nowMillis <= s.State.LastModified {
		nowMillis = s.State.LastModified + 1
	}
	s.State.LastModified = nowMillis
	return s.State.LastModified
}

// ClearCachesForScheduleChange is called after any scheduleHistory
// mutation (spec §4.2 cache policy: full rebuild).
func (s *Store) ClearCachesForScheduleChange() {
	s.Sel.ClearScheduleCache()
}

// ClearCachesForDateChange is called after a per-day status change
// (spec §4.2 cache policy: entries for that date and habit only).
func (s *Store) ClearCachesForDateChange(dateISO string, habitIDs []string) {
	s.Sel.InvalidateCachesForDateChange(dateISO, habitIDs)
}

// PruneOrphanedDayData removes dailyData entries whose habit no longer
// exists, run after load per spec §4.3 Load path.
func (s *Store) PruneOrphanedDayData() {
	live := make(map[string]bool, len(s.State.Habits))
	for _, h := range s.State.Habits {
		live[h.ID.String()] = true
	}
	for date, byHabit := range s.State.DailyData {
		for habitID := range byHabit {
			if !live[habitID] {
				delete(byHabit, habitID)
				s.logger.Debug().Str("date", date).Str("habitId", habitID).Msg("pruned orphaned day data")
			}
		}
		if len(byHabit) == 0 {
			delete(s.State.DailyData, date)
		}
	}
}
