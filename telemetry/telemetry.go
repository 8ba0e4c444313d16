// Package telemetry implements the sync log ring and counters of
// SPEC_FULL.md §4.10: a bounded ring buffer of sync events plus
// running success/failure/payload-size statistics, modeled on the
// teacher's analytics.Pipeline/Sink abstraction (trimmed to an
// in-memory sink — see DESIGN.md) and metering's atomic counter idiom.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/tecnocratoshi/askesis/model"
)

// RingCapacity bounds syncLogs at ≤100 entries (spec §3/§6).
const RingCapacity = 100

// Ring is the bounded sync-log buffer plus counters.
type Ring struct {
	mu      sync.Mutex
	entries []model.SyncLogEntry

	totalSyncs      int64
	successfulSyncs int64
	failedSyncs     int64
	totalPayload    int64
	maxPayload      int64
	errorFrequency  map[string]int64
	lastError       string

	nowFn func() int64
}

// New returns an empty Ring. nowFn supplies the current epoch-ms clock
// (injected so tests are deterministic); the daemon wires in a
// wall-clock function at startup.
func New(nowFn func() int64) *Ring {
	return &Ring{
		nowFn:          nowFn,
		errorFrequency: make(map[string]int64),
	}
}

// Add pushes a log entry, evicting the oldest once the ring is full.
func (r *Ring) Add(message, kind, icon string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, model.SyncLogEntry{
		Timestamp: r.nowFn(),
		Message:   message,
		Type:      kind,
		Icon:      icon,
	})
	if len(r.entries) > RingCapacity {
		r.entries = r.entries[len(r.entries)-RingCapacity:]
	}
}

// Entries returns a copy of the current ring contents, oldest first.
func (r *Ring) Entries() []model.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SyncLogEntry(nil), r.entries...)
}

// RecordSyncAttempt updates the running counters for one push/pull
// cycle: ok reports whether it succeeded, payloadBytes is the size of
// the sync request body, and errKind (if non-empty) buckets the failure for
// errorFrequency.
func (r *Ring) RecordSyncAttempt(ok bool, payloadBytes int, errKind string) {
	atomic.AddInt64(&r.totalSyncs, 1)
	if ok {
		atomic.AddInt64(&r.successfulSyncs, 1)
	} else {
		atomic.AddInt64(&r.failedSyncs, 1)
	}

	atomic.AddInt64(&r.totalPayload, int64(payloadBytes))
	for {
		cur := atomic.LoadInt64(&r.maxPayload)
		if int64(payloadBytes) <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&r.maxPayload, cur, int64(payloadBytes)) {
			break
		}
	}

	if errKind != "" {
		r.mu.Lock()
		r.errorFrequency[errKind]++
		r.lastError = errKind
		r.mu.Unlock()
	}
}

// Snapshot is the observability shape of spec §4.5
// getSyncTelemetry().
type Snapshot struct {
	TotalSyncs      int64
	SuccessfulSyncs int64
	FailedSyncs     int64
	TotalPayload    int64
	MaxPayload      int64
	AvgPayload      float64
	ErrorFrequency  map[string]int64
	LastError       string
}

// Snapshot returns a point-in-time view of the counters.
func (r *Ring) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := atomic.LoadInt64(&r.totalSyncs)
	payload := atomic.LoadInt64(&r.totalPayload)
	var avg float64
	if total > 0 {
		avg = float64(payload) / float64(total)
	}

	freq := make(map[string]int64, len(r.errorFrequency))
	for k, v := range r.errorFrequency {
		freq[k] = v
	}

	return Snapshot{
		TotalSyncs:      total,
		SuccessfulSyncs: atomic.LoadInt64(&r.successfulSyncs),
		FailedSyncs:     atomic.LoadInt64(&r.failedSyncs),
		TotalPayload:    payload,
		MaxPayload:      atomic.LoadInt64(&r.maxPayload),
		AvgPayload:      avg,
		ErrorFrequency:  freq,
		LastError:       r.lastError,
	}
}
