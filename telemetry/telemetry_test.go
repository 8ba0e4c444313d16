package telemetry_test

import (
	"testing"

	"github.com/tecnocratoshi/askesis/telemetry"
)

func fixedClock(t int64) func() int64 {
	return func() int64 { return t }
}

func TestAddEvictsOldestPastCapacity(t *testing.T) {
	r := telemetry.New(fixedClock(1000))
	for i := 0; i < telemetry.RingCapacity+10; i++ {
		r.Add("msg", "info", "")
	}
	entries := r.Entries()
	if len(entries) != telemetry.RingCapacity {
		t.Fatalf("expected ring capped at %d, got %d", telemetry.RingCapacity, len(entries))
	}
}

func TestEntriesReturnsIndependentCopy(t *testing.T) {
	r := telemetry.New(fixedClock(1))
	r.Add("a", "info", "")
	entries := r.Entries()
	entries[0].Message = "mutated"

	fresh := r.Entries()
	if fresh[0].Message != "a" {
		t.Fatalf("Entries() copy leaked into ring storage: %+v", fresh)
	}
}

func TestRecordSyncAttemptTracksSuccessAndFailure(t *testing.T) {
	r := telemetry.New(fixedClock(1))
	r.RecordSyncAttempt(true, 100, "")
	r.RecordSyncAttempt(false, 50, "network_timeout")
	r.RecordSyncAttempt(false, 200, "network_timeout")

	snap := r.Snapshot()
	if snap.TotalSyncs != 3 || snap.SuccessfulSyncs != 1 || snap.FailedSyncs != 2 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.MaxPayload != 200 {
		t.Fatalf("expected max payload 200, got %d", snap.MaxPayload)
	}
	if snap.TotalPayload != 350 {
		t.Fatalf("expected total payload 350, got %d", snap.TotalPayload)
	}
	if snap.AvgPayload != 350.0/3.0 {
		t.Fatalf("unexpected average payload: %v", snap.AvgPayload)
	}
	if snap.ErrorFrequency["network_timeout"] != 2 {
		t.Fatalf("expected 2 network_timeout errors, got %+v", snap.ErrorFrequency)
	}
	if snap.LastError != "network_timeout" {
		t.Fatalf("expected last error recorded, got %q", snap.LastError)
	}
}

func TestSnapshotOnEmptyRingHasZeroAverage(t *testing.T) {
	r := telemetry.New(fixedClock(1))
	snap := r.Snapshot()
	if snap.AvgPayload != 0 {
		t.Fatalf("expected zero average on empty ring, got %v", snap.AvgPayload)
	}
}
