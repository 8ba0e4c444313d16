package bitmap_test

import (
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/bitmap"
)

func newLog() *bitmap.Log {
	return bitmap.New(zerolog.Nop())
}

func TestSetGetStatusRoundTrip(t *testing.T) {
	l := newLog()
	l.SetStatus("x", "2026-03-15", bitmap.SlotAfternoon, bitmap.StatusDone)

	got := l.GetStatus("x", "2026-03-15", bitmap.SlotAfternoon)
	if got != bitmap.StatusDone {
		t.Fatalf("expected DONE, got %v", got)
	}

	// offset = 6*14 + 2*1 = 86 per spec scenario S3.
	mask := l.Entries()["x_2026-03"]
	shifted := new(big.Int).Rsh(mask, 86)
	bits := new(big.Int).And(shifted, big.NewInt(0b11))
	if bits.Int64() != int64(bitmap.StatusDone) {
		t.Fatalf("expected bit 86 set to DONE, got %v", bits)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	l := newLog()
	l.SetStatus("x", "2026-03-15", bitmap.SlotAfternoon, bitmap.StatusDone)

	pairs := l.SerializeForCloud()
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}

	l2 := newLog()
	l2.DeserializeFromCloud(pairs)

	got := l2.GetStatus("x", "2026-03-15", bitmap.SlotAfternoon)
	if got != bitmap.StatusDone {
		t.Fatalf("round trip mismatch: got %v", got)
	}
}

func TestWritingNullClearsSlot(t *testing.T) {
	l := newLog()
	l.SetStatus("x", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDonePlus)
	l.SetStatus("x", "2026-01-01", bitmap.SlotMorning, bitmap.StatusNull)

	if got := l.GetStatus("x", "2026-01-01", bitmap.SlotMorning); got != bitmap.StatusNull {
		t.Fatalf("expected NULL after clearing, got %v", got)
	}
	if _, ok := l.Entries()["x_2026-01"]; ok {
		t.Fatalf("expected empty month entry to be dropped")
	}
}

func TestSetStatusIdempotent(t *testing.T) {
	l := newLog()
	l.SetStatus("h", "2026-05-10", bitmap.SlotEvening, bitmap.StatusDeferred)
	first := new(big.Int).Set(l.Entries()["h_2026-05"])

	l.SetStatus("h", "2026-05-10", bitmap.SlotEvening, bitmap.StatusDeferred)
	second := l.Entries()["h_2026-05"]

	if first.Cmp(second) != 0 {
		t.Fatalf("repeated SetStatus is not idempotent: %v vs %v", first, second)
	}
}

func TestPruneLogsForHabit(t *testing.T) {
	l := newLog()
	l.SetStatus("a", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDone)
	l.SetStatus("b", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDone)

	l.PruneLogsForHabit("a")

	if _, ok := l.Entries()["a_2026-01"]; ok {
		t.Fatalf("expected habit a's entries pruned")
	}
	if _, ok := l.Entries()["b_2026-01"]; !ok {
		t.Fatalf("expected habit b's entries to survive")
	}
}

func TestMalformedInputsAreClampedNotThrown(t *testing.T) {
	l := newLog()
	// Bad date: should not panic, returns NULL.
	if got := l.GetStatus("x", "not-a-date", bitmap.SlotMorning); got != bitmap.StatusNull {
		t.Fatalf("expected NULL for malformed date, got %v", got)
	}
	l.SetStatus("x", "not-a-date", bitmap.SlotMorning, bitmap.StatusDone)
	if len(l.Entries()) != 0 {
		t.Fatalf("expected malformed-date write to be a no-op")
	}
}

func TestGetLogsGroupedByMonth(t *testing.T) {
	l := newLog()
	l.SetStatus("h", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDone)
	l.SetStatus("h", "2026-02-01", bitmap.SlotMorning, bitmap.StatusDone)

	grouped := l.GetLogsGroupedByMonth()
	if len(grouped["2026-01"]) != 1 || len(grouped["2026-02"]) != 1 {
		t.Fatalf("expected one entry per month, got %#v", grouped)
	}
}

func TestMergeLogsWinnerWinsOnConflict(t *testing.T) {
	local := newLog()
	local.SetStatus("h", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDone)
	local.SetStatus("h", "2026-01-02", bitmap.SlotEvening, bitmap.StatusDeferred)

	server := newLog()
	server.SetStatus("h", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDeferred)

	merged := bitmap.MergeLogs(local.Entries(), server.Entries())

	out := newLog()
	out.SetEntries(merged)

	if got := out.GetStatus("h", "2026-01-01", bitmap.SlotMorning); got != bitmap.StatusDeferred {
		t.Fatalf("expected server (winner) status to survive conflict, got %v", got)
	}
	if got := out.GetStatus("h", "2026-01-02", bitmap.SlotEvening); got != bitmap.StatusDeferred {
		t.Fatalf("expected local-only bit to be preserved, got %v", got)
	}
}

func TestMergeLogsCommutativeForDisjointHabits(t *testing.T) {
	a := newLog()
	a.SetStatus("a", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDone)

	b := newLog()
	b.SetStatus("b", "2026-01-01", bitmap.SlotMorning, bitmap.StatusDeferred)

	ab := bitmap.MergeLogs(a.Entries(), b.Entries())
	ba := bitmap.MergeLogs(b.Entries(), a.Entries())

	if len(ab) != len(ba) {
		t.Fatalf("commutativity mismatch in size: %d vs %d", len(ab), len(ba))
	}
	for k, v := range ab {
		if ba[k].Cmp(v) != 0 {
			t.Fatalf("commutativity mismatch at %s: %v vs %v", k, v, ba[k])
		}
	}
}
