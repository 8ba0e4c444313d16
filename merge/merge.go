// Package merge implements the CRDT-lite reconciliation of two
// AppStates described by SPEC_FULL.md §4.4: habit union by id,
// schedule-history union by start date, per-instance field merge,
// bitmap union, and set union (duplicates dropped) of
// notification/milestone lists.
// Merge never fails — malformed input is downgraded to "ignore field,
// retain winner" per spec §7.
package merge

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/tecnocratoshi/askesis/bitmap"
	"github.com/tecnocratoshi/askesis/model"
)

// Merge reconciles local and incoming into one AppState plus bitmap
// log, choosing a base per step 2 and unioning every field per steps
// 3-4 of spec §4.4. localLog/incomingLog are already-hydrated bitmap
// maps (step 1, hydration, happens before Merge is called — see
// bitmap.Log.DeserializeFromCloud, which drops unparseable entries
// with a warning rather than failing the whole load).
func Merge(local, incoming *model.AppState, localLog, incomingLog map[string]*big.Int, now int64) (*model.AppState, map[string]*big.Int) {
	winner, loser, winnerLog, loserLog := selectBase(local, incoming, localLog, incomingLog)

	merged := cloneState(winner)
	mergeHabits(merged, loser)
	mergeDailyData(merged, loser)
	mergeArchives(merged, loser)
	mergeSets(merged, loser)

	mergedLog := bitmap.MergeLogs(loserLog, winnerLog)

	merged.LastModified = maxInt64(maxInt64(local.LastModified, incoming.LastModified), now) + 1

	return merged, mergedLog
}

// selectBase implements step 2: if one side has zero habits and the
// other has habits, the non-empty side wins (protects against an
// accidental reset); otherwise the side with the greater
// lastModified wins; ties go to local.
func selectBase(local, incoming *model.AppState, localLog, incomingLog map[string]*big.Int) (winner, loser *model.AppState, winnerLog, loserLog map[string]*big.Int) {
	localEmpty := len(local.Habits) == 0
	incomingEmpty := len(incoming.Habits) == 0

	if localEmpty && !incomingEmpty {
		return incoming, local, incomingLog, localLog
	}
	if incomingEmpty && !localEmpty {
		return local, incoming, localLog, incomingLog
	}
	if incoming.LastModified > local.LastModified {
		return incoming, local, incomingLog, localLog
	}
	return local, incoming, localLog, incomingLog
}

func cloneState(s *model.AppState) *model.AppState {
	out := &model.AppState{
		Version:                      s.Version,
		Habits:                       append([]model.Habit(nil), s.Habits...),
		DailyData:                    make(map[string]map[string]model.HabitDayData, len(s.DailyData)),
		Archives:                     make(map[string][]byte, len(s.Archives)),
		Diagnoses:                    make(map[string]model.Diagnosis, len(s.Diagnoses)),
		NotificationsShown:           append([]string(nil), s.NotificationsShown...),
		Pending21DayHabitIDs:         append([]string(nil), s.Pending21DayHabitIDs...),
		PendingConsolidationHabitIDs: append([]string(nil), s.PendingConsolidationHabitIDs...),
		SyncLogs:                     append([]model.SyncLogEntry(nil), s.SyncLogs...),
		HasOnboarded:                 s.HasOnboarded,
		LastModified:                 s.LastModified,
	}
	for date, byHabit := range s.DailyData {
		cp := make(map[string]model.HabitDayData, len(byHabit))
		for id, d := range byHabit {
			cp[id] = d
		}
		out.DailyData[date] = cp
	}
	for year, blob := range s.Archives {
		out.Archives[year] = append([]byte(nil), blob...)
	}
	for date, diag := range s.Diagnoses {
		out.Diagnoses[date] = diag
	}
	return out
}

// mergeHabits unions by id: unknown-in-winner habits from loser are
// appended; shared habits have their scheduleHistory merged by
// startDate, deletedOn takes the later date (deletion propagates
// forward), graduatedOn takes the earlier date.
func mergeHabits(merged *model.AppState, loser *model.AppState) {
	byID := make(map[uuid.UUID]int, len(merged.Habits))
	for i, h := range merged.Habits {
		byID[h.ID] = i
	}

	for _, loserHabit := range loser.Habits {
		idx, ok := byID[loserHabit.ID]
		if !ok {
			merged.Habits = append(merged.Habits, loserHabit)
			continue
		}
		winnerHabit := &merged.Habits[idx]
		winnerHabit.ScheduleHistory = mergeScheduleHistory(winnerHabit.ScheduleHistory, loserHabit.ScheduleHistory)

		if loserHabit.DeletedOn != nil {
			if winnerHabit.DeletedOn == nil || *loserHabit.DeletedOn > *winnerHabit.DeletedOn {
				winnerHabit.DeletedOn = loserHabit.DeletedOn
			}
		}
		if loserHabit.GraduatedOn != nil {
			if winnerHabit.GraduatedOn == nil || *loserHabit.GraduatedOn < *winnerHabit.GraduatedOn {
				winnerHabit.GraduatedOn = loserHabit.GraduatedOn
			}
		}
		if loserHabit.CreatedOn < winnerHabit.CreatedOn {
			winnerHabit.CreatedOn = loserHabit.CreatedOn
		}
	}
}

// mergeScheduleHistory keys both sides by startDate; on conflict takes
// the earlier endDate if both have one, and fills missing philosophy
// from loser. Entries unique to loser are inserted, then the whole
// list is re-sorted by startDate.
func mergeScheduleHistory(winner, loser []model.HabitSchedule) []model.HabitSchedule {
	byStart := make(map[string]int, len(winner))
	out := append([]model.HabitSchedule(nil), winner...)
	for i, s := range out {
		byStart[s.StartDate] = i
	}

	for _, loserSched := range loser {
		idx, ok := byStart[loserSched.StartDate]
		if !ok {
			out = append(out, loserSched)
			byStart[loserSched.StartDate] = len(out) - 1
			continue
		}
		w := &out[idx]
		if w.EndDate != nil && loserSched.EndDate != nil && *loserSched.EndDate < *w.EndDate {
			w.EndDate = loserSched.EndDate
		}
		if w.Philosophy == "" {
			w.Philosophy = loserSched.Philosophy
		}
	}

	sortByStartDate(out)
	return out
}

func sortByStartDate(entries []model.HabitSchedule) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].StartDate < entries[j-1].StartDate; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// mergeDailyData merges per-date/per-habit override entries: if an
// instance exists only on one side, copy it; if both, note takes the
// longer string, goalOverride takes the defined value (loser fills
// winner's undefined), dailySchedule is preserved from whichever side
// has one.
func mergeDailyData(merged *model.AppState, loser *model.AppState) {
	for date, loserByHabit := range loser.DailyData {
		winnerByHabit, ok := merged.DailyData[date]
		if !ok {
			winnerByHabit = make(map[string]model.HabitDayData, len(loserByHabit))
			merged.DailyData[date] = winnerByHabit
		}
		for habitID, loserDay := range loserByHabit {
			winnerDay, ok := winnerByHabit[habitID]
			if !ok {
				winnerByHabit[habitID] = loserDay
				continue
			}
			winnerByHabit[habitID] = mergeDayData(winnerDay, loserDay)
		}
	}
}

func mergeDayData(winner, loser model.HabitDayData) model.HabitDayData {
	out := winner
	if out.DailySchedule == nil {
		out.DailySchedule = loser.DailySchedule
	}
	if out.Instances == nil && loser.Instances != nil {
		out.Instances = make(map[model.Time]model.HabitInstanceData, len(loser.Instances))
	}
	for slot, loserInst := range loser.Instances {
		winnerInst, ok := out.Instances[slot]
		if !ok {
			out.Instances[slot] = loserInst
			continue
		}
		if len(loserInst.Note) > len(winnerInst.Note) {
			winnerInst.Note = loserInst.Note
		}
		if winnerInst.GoalOverride == nil {
			winnerInst.GoalOverride = loserInst.GoalOverride
		}
		out.Instances[slot] = winnerInst
	}
	return out
}

func mergeArchives(merged *model.AppState, loser *model.AppState) {
	for year, blob := range loser.Archives {
		if _, ok := merged.Archives[year]; !ok {
			merged.Archives[year] = blob
		}
	}
}

func mergeSets(merged *model.AppState, loser *model.AppState) {
	merged.NotificationsShown = unionStrings(merged.NotificationsShown, loser.NotificationsShown)
	merged.Pending21DayHabitIDs = unionStrings(merged.Pending21DayHabitIDs, loser.Pending21DayHabitIDs)
	merged.PendingConsolidationHabitIDs = unionStrings(merged.PendingConsolidationHabitIDs, loser.PendingConsolidationHabitIDs)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
