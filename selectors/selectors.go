// Package selectors implements the pure derivations of SPEC_FULL.md
// §4.2: effective schedule on a date, streak length, appearance, and
// display properties. Streak length is memoized in a Cache keyed by
// habit and date, invalidated on schedule or status mutation; the other
// derivations are recomputed on every call.
package selectors

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/bitmap"
	"github.com/tecnocratoshi/askesis/model"
)

const (
	// StreakSemiConsolidated is the first milestone (spec §4.2).
	StreakSemiConsolidated = 21
	// StreakConsolidated is the second milestone.
	StreakConsolidated = 66

	scheduleNamespace = "schedule"
	streakNamespace   = "streak"
)

// DayDataLookup resolves the per-day override entry for a habit, if
// any. store.Store supplies the real implementation at wiring time.
type DayDataLookup func(h *model.Habit, dateISO string) (*model.HabitDayData, bool)

// Selectors bundles the memoization caches alongside the bitmap log
// they read from, since streak calculation needs completion data.
type Selectors struct {
	Log     *bitmap.Log
	cache   *Cache
	dayData DayDataLookup
}

// New returns a Selectors bound to log, with fresh caches. dayData may
// be nil, in which case no per-day overrides are ever found (useful in
// isolated selector tests).
func New(log *bitmap.Log, dayData DayDataLookup, logger zerolog.Logger) *Selectors {
	return &Selectors{Log: log, cache: NewCache(logger), dayData: dayData}
}

// ClearScheduleCache empties the schedule and streak cache namespaces —
// called after any scheduleHistory mutation. Only streak results are
// stored; nothing writes to the schedule namespace.
func (s *Selectors) ClearScheduleCache() {
	s.cache.InvalidateNamespace(scheduleNamespace)
	s.cache.InvalidateNamespace(streakNamespace)
}

// InvalidateCachesForDateChange drops the memoized streak entry for
// (habitID, dateISO) of each listed habit. Streak entries cached for
// later dates of the same habits are kept, so they can hold values
// computed before the change until ClearScheduleCache runs.
func (s *Selectors) InvalidateCachesForDateChange(dateISO string, habitIDs []string) {
	for _, id := range habitIDs {
		s.cache.InvalidateKey(streakNamespace, id+"_"+dateISO)
	}
}

// CacheStats exposes the underlying Cache's Stats for observability.
func (s *Selectors) CacheStats() CacheStats {
	return s.cache.Stats()
}

// GetScheduleForDate returns the HabitSchedule covering dateISO, or the
// last entry if dateISO is beyond every entry's startDate (spec §4.2).
func GetScheduleForDate(h *model.Habit, dateISO string) *model.HabitSchedule {
	if len(h.ScheduleHistory) == 0 {
		return nil
	}
	var last *model.HabitSchedule
	for i := range h.ScheduleHistory {
		sched := &h.ScheduleHistory[i]
		if sched.StartDate > dateISO {
			break
		}
		if sched.EndDate != nil && dateISO >= *sched.EndDate {
			last = sched
			continue
		}
		return sched
	}
	return last
}

// GetEffectiveScheduleForHabitOnDate returns the time-slot set in
// force on dateISO: a per-day override if one exists in dailyData,
// else the covering schedule's Times.
func GetEffectiveScheduleForHabitOnDate(h *model.Habit, dateISO string, dayData *model.HabitDayData) model.Times {
	if dayData != nil && dayData.DailySchedule != nil {
		return *dayData.DailySchedule
	}
	sched := GetScheduleForDate(h, dateISO)
	if sched == nil {
		return nil
	}
	return sched.Times
}

// ShouldHabitAppearOnDate applies frequency rules plus the lifecycle
// bounds (createdOn, deletedOn, graduatedOn) of spec §4.2.
func ShouldHabitAppearOnDate(h *model.Habit, dateISO string, dateObj time.Time) bool {
	if dateISO < h.CreatedOn {
		return false
	}
	if h.DeletedOn != nil && dateISO >= *h.DeletedOn {
		return false
	}
	if h.IsGraduated(dateISO) {
		return false
	}

	sched := GetScheduleForDate(h, dateISO)
	if sched == nil {
		return false
	}

	switch sched.Frequency.Kind {
	case model.FrequencyDaily:
		return true
	case model.FrequencySpecificDays:
		for _, d := range sched.Frequency.Days {
			if d == dateObj.Weekday() {
				return true
			}
		}
		return false
	case model.FrequencyInterval:
		if sched.Frequency.Period <= 0 {
			return false
		}
		anchor, err := time.Parse("2006-01-02", sched.ScheduleAnchor)
		if err != nil {
			return false
		}
		days := int(dateObj.Sub(anchor).Hours() / 24)
		if days < 0 {
			return false
		}
		return days%sched.Frequency.Period == 0
	default:
		return false
	}
}

// CalculateHabitStreak counts consecutive days ending at dateISO on
// which the habit should appear and every scheduled slot is DONE or
// DONE_PLUS. Result is memoized per (habitID, dateISO).
func (s *Selectors) CalculateHabitStreak(h *model.Habit, dateISO string) int {
	key := h.ID.String() + "_" + dateISO
	if cached, ok := s.cache.Get(streakNamespace, key); ok {
		return cached.(int)
	}

	streak := 0
	cursor, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return 0
	}
	cursorISO := dateISO

	for {
		if !ShouldHabitAppearOnDate(h, cursorISO, cursor) {
			cursor = cursor.AddDate(0, 0, -1)
			cursorISO = cursor.Format("2006-01-02")
			if cursorISO < h.CreatedOn {
				break
			}
			continue
		}

		var dayData *model.HabitDayData
		if s.dayData != nil {
			dayData, _ = s.dayData(h, cursorISO)
		}
		times := GetEffectiveScheduleForHabitOnDate(h, cursorISO, dayData)
		if len(times) == 0 {
			break
		}

		complete := true
		for _, t := range times {
			st := s.Log.GetStatus(h.ID.String(), cursorISO, timeToSlot(t))
			if st != bitmap.StatusDone && st != bitmap.StatusDonePlus {
				complete = false
				break
			}
		}
		if !complete {
			break
		}

		streak++
		cursor = cursor.AddDate(0, 0, -1)
		cursorISO = cursor.Format("2006-01-02")
		if cursorISO < h.CreatedOn {
			break
		}
	}

	s.cache.Set(streakNamespace, key, streak)
	return streak
}

func timeToSlot(t model.Time) bitmap.Slot {
	switch t {
	case model.TimeMorning:
		return bitmap.SlotMorning
	case model.TimeAfternoon:
		return bitmap.SlotAfternoon
	default:
		return bitmap.SlotEvening
	}
}

// DisplayInfo is the resolved name/icon/color for a habit on a date.
type DisplayInfo struct {
	Name  string
	Icon  string
	Color string
}

// GetHabitDisplayInfo resolves display properties from the schedule
// covering dateISO, falling back to the last schedule entry if no date
// is supplied (an empty dateISO is treated as "no date").
func GetHabitDisplayInfo(h *model.Habit, dateISO string) DisplayInfo {
	var sched *model.HabitSchedule
	if dateISO != "" {
		sched = GetScheduleForDate(h, dateISO)
	}
	if sched == nil && len(h.ScheduleHistory) > 0 {
		sched = &h.ScheduleHistory[len(h.ScheduleHistory)-1]
	}
	if sched == nil {
		return DisplayInfo{}
	}
	return DisplayInfo{Name: sched.Name, Icon: sched.Icon, Color: sched.Color}
}
