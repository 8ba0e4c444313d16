// Package bitmap implements the compact per-(habit, month) completion
// log: monthlyLogs maps "{habitId}_{YYYY-MM}" to a big integer packing
// four states × three time slots × up to 31 days into one value.
package bitmap

import (
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Status is a two-bit habit-slot state.
type Status uint8

const (
	StatusNull     Status = 0b00
	StatusDone     Status = 0b01
	StatusDeferred Status = 0b10
	StatusDonePlus Status = 0b11
)

// Slot identifies a time-of-day slot. Order is fixed by the wire
// format: Morning=0, Afternoon=1, Evening=2.
type Slot uint8

const (
	SlotMorning Slot = iota
	SlotAfternoon
	SlotEvening
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Log owns the monthlyLogs map. It is safe for use only under the
// caller's single-threaded-cooperative discipline (see §5 of
// SPEC_FULL.md) — Log itself does no internal locking.
type Log struct {
	entries map[string]*big.Int
	logger  zerolog.Logger
}

// New returns an empty Log.
func New(logger zerolog.Logger) *Log {
	return &Log{
		entries: make(map[string]*big.Int),
		logger:  logger.With().Str("component", "bitmap").Logger(),
	}
}

func monthKey(habitID, dateISO string) (string, bool) {
	if !dateRe.MatchString(dateISO) {
		return "", false
	}
	return habitID + "_" + dateISO[:7], true
}

func offset(day int, slot Slot) uint {
	return uint(6*day + 2*int(slot))
}

func dayOfMonth(dateISO string) (int, error) {
	t, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return 0, err
	}
	return t.Day() - 1, nil
}

// GetStatus reads the two-bit status for (habitID, dateISO, slot).
// Malformed input is clamped to StatusNull and logged, never returned
// as an error — bitmap operations never throw, per spec §7.
func (l *Log) GetStatus(habitID, dateISO string, slot Slot) Status {
	key, ok := monthKey(habitID, dateISO)
	if !ok {
		l.logger.Warn().Str("date", dateISO).Msg("malformed date, returning NULL")
		return StatusNull
	}
	mask, ok := l.entries[key]
	if !ok {
		return StatusNull
	}
	day, err := dayOfMonth(dateISO)
	if err != nil {
		l.logger.Warn().Str("date", dateISO).Msg("malformed date, returning NULL")
		return StatusNull
	}
	off := offset(day, slot)
	shifted := new(big.Int).Rsh(mask, off)
	bits := new(big.Int).And(shifted, big.NewInt(0b11))
	return Status(bits.Int64())
}

// SetStatus writes status into the two bits for (habitID, dateISO,
// slot), clearing whatever was there. Writing StatusNull clears the
// slot. Invalid status values are clamped to the valid range and
// logged rather than rejected.
func (l *Log) SetStatus(habitID, dateISO string, slot Slot, status Status) {
	key, ok := monthKey(habitID, dateISO)
	if !ok {
		l.logger.Warn().Str("date", dateISO).Msg("malformed date, dropping write")
		return
	}
	if status > StatusDonePlus {
		l.logger.Warn().Uint8("status", uint8(status)).Msg("status out of range, clamping")
		status = StatusDonePlus
	}
	day, err := dayOfMonth(dateISO)
	if err != nil {
		l.logger.Warn().Str("date", dateISO).Msg("malformed date, dropping write")
		return
	}

	mask, ok := l.entries[key]
	if !ok {
		mask = new(big.Int)
	}
	off := offset(day, slot)
	clearMask := new(big.Int).Lsh(big.NewInt(0b11), off)
	clearMask.Not(clearMask)
	mask = new(big.Int).And(mask, clearMask)

	if status != StatusNull {
		setBits := new(big.Int).Lsh(big.NewInt(int64(status)), off)
		mask = new(big.Int).Or(mask, setBits)
	}

	if mask.Sign() == 0 {
		delete(l.entries, key)
		return
	}
	l.entries[key] = mask
}

// PruneLogsForHabit deletes every monthly entry belonging to habitID,
// used on soft-delete per spec §4.6 requestHabitPermanentDeletion.
func (l *Log) PruneLogsForHabit(habitID string) {
	prefix := habitID + "_"
	for key := range l.entries {
		if strings.HasPrefix(key, prefix) {
			delete(l.entries, key)
		}
	}
}

// SerializeForCloud returns [[key, hexString], ...] for the given
// entries, the wire shape used by cloud sync payloads and export
// files. Order is not significant to readers; pairs are sorted by key
// so the output is deterministic for tests.
func (l *Log) SerializeForCloud() [][2]string {
	out := make([][2]string, 0, len(l.entries))
	for key, val := range l.entries {
		out = append(out, [2]string{key, val.Text(16)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// DeserializeFromCloud replaces the Log's contents with pairs decoded
// from SerializeForCloud's output. Entries that fail to parse are
// dropped with a warning rather than aborting the whole load.
func (l *Log) DeserializeFromCloud(pairs [][2]string) {
	entries := make(map[string]*big.Int, len(pairs))
	for _, pair := range pairs {
		key, hex := pair[0], pair[1]
		val, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			l.logger.Warn().Str("key", key).Msg("unparseable bitmap value, dropping")
			continue
		}
		if val.Sign() == 0 {
			continue
		}
		entries[key] = val
	}
	l.entries = entries
}

// GetLogsGroupedByMonth buckets entries by their "YYYY-MM" suffix for
// shard-based sync (spec §4.1, §GLOSSARY "Shard").
func (l *Log) GetLogsGroupedByMonth() map[string][][2]string {
	out := make(map[string][][2]string)
	for key, val := range l.entries {
		idx := strings.LastIndex(key, "_")
		if idx < 0 {
			continue
		}
		month := key[idx+1:]
		out[month] = append(out[month], [2]string{key, val.Text(16)})
	}
	return out
}

// MergeLogs combines two logs slot by slot (see mergeMasks), per spec
// §4.1/§4.4: when both sides have a non-zero status in the same slot,
// the later writer wins — implemented by the caller passing winner
// last, so that winner's slot always survives where both sides set a
// slot.
func MergeLogs(loser, winner map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(loser)+len(winner))
	for key, val := range loser {
		out[key] = new(big.Int).Set(val)
	}
	for key, winVal := range winner {
		loseVal, ok := out[key]
		if !ok {
			out[key] = new(big.Int).Set(winVal)
			continue
		}
		out[key] = mergeMasks(loseVal, winVal)
	}
	for key, val := range out {
		if val.Sign() == 0 {
			delete(out, key)
		}
	}
	return out
}

// mergeMasks ORs two masks together slot by slot; wherever winner has
// a non-zero slot it fully overrides loser's slot at that position
// (status bits are exclusive within a slot, so a plain OR would
// produce an invalid combined value such as DONE|DEFERRED=0b11, which
// happens to collide with DONE_PLUS — so slots must be resolved
// individually, not OR'd wholesale).
func mergeMasks(loser, winner *big.Int) *big.Int {
	maxBits := loser.BitLen()
	if winner.BitLen() > maxBits {
		maxBits = winner.BitLen()
	}
	slots := (maxBits + 1) / 2
	if slots < 31*3 {
		slots = 31 * 3
	}

	result := new(big.Int)
	for i := 0; i < slots; i++ {
		off := uint(2 * i)
		winBits := new(big.Int).And(new(big.Int).Rsh(winner, off), big.NewInt(0b11))
		var slotVal *big.Int
		if winBits.Sign() != 0 {
			slotVal = winBits
		} else {
			slotVal = new(big.Int).And(new(big.Int).Rsh(loser, off), big.NewInt(0b11))
		}
		if slotVal.Sign() != 0 {
			result.Or(result, new(big.Int).Lsh(slotVal, off))
		}
	}
	return result
}

// Entries exposes the raw map for callers (store, persistence, merge)
// that need direct access; it is never safe to mutate concurrently
// with Log's own methods.
func (l *Log) Entries() map[string]*big.Int {
	return l.entries
}

// SetEntries installs a map wholesale, used by persistence load and
// merge to swap in a freshly hydrated map.
func (l *Log) SetEntries(entries map[string]*big.Int) {
	if entries == nil {
		entries = make(map[string]*big.Int)
	}
	l.entries = entries
}

// ValidateStatus reports whether v is a valid two-bit status value.
func ValidateStatus(v int) (Status, error) {
	if v < 0 || v > 3 {
		return StatusNull, fmt.Errorf("bitmap: status %d out of range [0,3]", v)
	}
	return Status(v), nil
}
