package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tecnocratoshi/askesis/codec"
	"github.com/tecnocratoshi/askesis/model"
	"github.com/tecnocratoshi/askesis/workerpool"
)

// ArchivePrunePayload is what RequestHabitPermanentDeletion submits for
// TaskArchivePrune: the habit to strip out and a snapshot of the
// existing per-year archive blobs to rewrite.
type ArchivePrunePayload struct {
	HabitID  string
	Archives map[string][]byte
}

// RegisterWorkerHandlers installs the archive-build/prune handlers on
// pool, the same way sync.RegisterWorkerHandlers installs
// encrypt/decrypt: the bootstrapper calls this once at boot so
// PerformArchivalCheck and RequestHabitPermanentDeletion have
// somewhere to submit their tasks.
func RegisterWorkerHandlers(pool *workerpool.Pool) {
	pool.Register(workerpool.TaskArchiveBuild, func(ctx context.Context, payload any) (any, error) {
		bundle, ok := payload.(map[string]map[string]model.HabitDayData)
		if !ok {
			return nil, fmt.Errorf("actions: archive build: unexpected payload type %T", payload)
		}
		raw, err := json.Marshal(bundle)
		if err != nil {
			return nil, fmt.Errorf("actions: archive build: marshal: %w", err)
		}
		return codec.Gzip(raw)
	})

	pool.Register(workerpool.TaskArchivePrune, func(ctx context.Context, payload any) (any, error) {
		in, ok := payload.(ArchivePrunePayload)
		if !ok {
			return nil, fmt.Errorf("actions: archive prune: unexpected payload type %T", payload)
		}
		return pruneArchives(in)
	})
}

// pruneArchives strips habitID out of every year's compressed archive
// bundle, returning only the years that actually changed so the
// caller can merge the result back into AppState.Archives.
func pruneArchives(in ArchivePrunePayload) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for year, blob := range in.Archives {
		raw, err := codec.Gunzip(blob)
		if err != nil {
			return nil, fmt.Errorf("actions: archive prune: gunzip year %s: %w", year, err)
		}
		var bundle map[string]map[string]model.HabitDayData
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, fmt.Errorf("actions: archive prune: unmarshal year %s: %w", year, err)
		}
		changed := false
		for date, byHabit := range bundle {
			if _, ok := byHabit[in.HabitID]; !ok {
				continue
			}
			delete(byHabit, in.HabitID)
			changed = true
			if len(byHabit) == 0 {
				delete(bundle, date)
			}
		}
		if !changed {
			continue
		}
		rewritten, err := json.Marshal(bundle)
		if err != nil {
			return nil, fmt.Errorf("actions: archive prune: remarshal year %s: %w", year, err)
		}
		blob, err := codec.Gzip(rewritten)
		if err != nil {
			return nil, fmt.Errorf("actions: archive prune: gzip year %s: %w", year, err)
		}
		out[year] = blob
	}
	return out, nil
}
