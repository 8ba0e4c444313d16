// Package actions implements the Action Controller of SPEC_FULL.md
// §4.6: the component through which user intents mutate the State
// Store, gating
// every mutation behind boot completion, serializing confirm-then-
// apply flows through the store's single-slot action lock, and
// triggering cache invalidation plus a debounced save/sync after each
// change.
package actions

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tecnocratoshi/askesis/bitmap"
	"github.com/tecnocratoshi/askesis/model"
	"github.com/tecnocratoshi/askesis/selectors"
	"github.com/tecnocratoshi/askesis/store"
	"github.com/tecnocratoshi/askesis/workerpool"
)

// ArchiveThresholdDays is the "older than" cutoff for
// PerformArchivalCheck (spec §6).
const ArchiveThresholdDays = 90

// Persist is called after every mutation to schedule (or flush) a
// write; wired to persistence.Store.Save by the bootstrapper.
type Persist func(immediate bool)

// PushSync is called after every mutation to schedule (or flush) a
// cloud push; wired to sync.Orchestrator.Push by the bootstrapper.
type PushSync func(immediate bool)

// Controller is the Action Controller.
type Controller struct {
	St      *store.Store
	pool    *workerpool.Pool
	persist Persist
	push    PushSync
	logger  zerolog.Logger
	now     func() int64

	batchInFlight bool
}

// New wires a Controller over st. now supplies the epoch-ms clock
// (injected for deterministic tests).
func New(st *store.Store, pool *workerpool.Pool, persist Persist, push PushSync, now func() int64, logger zerolog.Logger) *Controller {
	return &Controller{
		St:      st,
		pool:    pool,
		persist: persist,
		push:    push,
		now:     now,
		logger:  logger.With().Str("component", "actions").Logger(),
	}
}

var (
	// ErrNotBooted gates every mutation behind initial sync completion
	// per spec §4.6.
	ErrNotBooted = fmt.Errorf("actions: not booted")
	// ErrHabitNotFound is returned when an operation targets an unknown id.
	ErrHabitNotFound = fmt.Errorf("actions: habit not found")
	// ErrActionLockHeld reports a confirm-then-apply flow already pending.
	ErrActionLockHeld = fmt.Errorf("actions: another confirm flow is pending")
	// ErrBatchInFlight reports an overlapping markAllHabitsForDate call.
	ErrBatchInFlight = fmt.Errorf("actions: batch operation already in flight")
)

func (c *Controller) requireBooted() error {
	if !c.St.InitialSyncDone {
		return ErrNotBooted
	}
	return nil
}

func (c *Controller) commit(immediate bool) {
	c.St.BumpLastModified(c.now())
	if c.persist != nil {
		c.persist(immediate)
	}
	if c.push != nil {
		c.push(immediate)
	}
}

// ToggleHabitStatus cycles NULL→DONE→DEFERRED→NULL (DONE_PLUS
// collapses to DEFERRED first), then checks streak milestones.
func (c *Controller) ToggleHabitStatus(habitID string, slot model.Time, dateISO string) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}

	bslot := timeToSlot(slot)
	current := c.St.Log.GetStatus(habitID, dateISO, bslot)

	var next bitmap.Status
	switch current {
	case bitmap.StatusNull:
		next = bitmap.StatusDone
	case bitmap.StatusDone:
		next = bitmap.StatusDeferred
	case bitmap.StatusDonePlus:
		next = bitmap.StatusDeferred
	default: // StatusDeferred
		next = bitmap.StatusNull
	}
	c.St.Log.SetStatus(habitID, dateISO, bslot, next)

	if next == bitmap.StatusDone {
		c.checkStreakMilestones(habit, dateISO)
	}

	c.St.ClearCachesForDateChange(dateISO, []string{habitID})
	c.commit(false)
	return nil
}

func (c *Controller) checkStreakMilestones(h *model.Habit, dateISO string) {
	streak := c.St.Sel.CalculateHabitStreak(h, dateISO)
	id := h.ID.String()
	switch streak {
	case selectors.StreakSemiConsolidated:
		if !containsString(c.St.State.Pending21DayHabitIDs, id) {
			c.St.State.Pending21DayHabitIDs = append(c.St.State.Pending21DayHabitIDs, id)
		}
	case selectors.StreakConsolidated:
		if !containsString(c.St.State.PendingConsolidationHabitIDs, id) {
			c.St.State.PendingConsolidationHabitIDs = append(c.St.State.PendingConsolidationHabitIDs, id)
		}
	}
}

// MarkAction is the batch verb of markAllHabitsForDate.
type MarkAction string

const (
	MarkCompleted MarkAction = "completed"
	MarkSnoozed   MarkAction = "snoozed"
)

// MarkAllHabitsForDate sets every scheduled slot for every habit
// appearing on dateISO to DONE (MarkCompleted) or DEFERRED
// (MarkSnoozed), skipping slots already at that status.
func (c *Controller) MarkAllHabitsForDate(dateISO string, action MarkAction) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	if c.batchInFlight {
		return ErrBatchInFlight
	}
	c.batchInFlight = true
	defer func() { c.batchInFlight = false }()

	dateObj, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return fmt.Errorf("actions: malformed date %q: %w", dateISO, err)
	}

	target := bitmap.StatusDone
	if action == MarkSnoozed {
		target = bitmap.StatusDeferred
	}

	touched := make([]string, 0, len(c.St.State.Habits))
	for i := range c.St.State.Habits {
		h := &c.St.State.Habits[i]
		if h.IsDeleted() || !selectors.ShouldHabitAppearOnDate(h, dateISO, dateObj) {
			continue
		}
		dayData, _ := c.St.State.DayData(dateISO, h.ID.String())
		var dayDataPtr *model.HabitDayData
		if ok := dayData.DailySchedule != nil || dayData.Instances != nil; ok {
			dayDataPtr = &dayData
		}
		times := selectors.GetEffectiveScheduleForHabitOnDate(h, dateISO, dayDataPtr)
		if len(times) == 0 {
			continue
		}
		for _, t := range times {
			slot := timeToSlot(t)
			if c.St.Log.GetStatus(h.ID.String(), dateISO, slot) != target {
				c.St.Log.SetStatus(h.ID.String(), dateISO, slot, target)
			}
		}
		if target == bitmap.StatusDone {
			c.checkStreakMilestones(h, dateISO)
		}
		touched = append(touched, h.ID.String())
	}

	c.St.ClearCachesForDateChange(dateISO, touched)
	c.commit(false)
	return nil
}

// DropScope distinguishes the two handleHabitDrop outcomes.
type DropScope string

const (
	DropJustToday  DropScope = "today"
	DropFromNowOn  DropScope = "fromNow"
)

// HandleHabitDrop moves a habit from one time slot to another, either
// as a one-day override (DropJustToday) or as a schedule amendment
// effective from dateISO onward (DropFromNowOn).
func (c *Controller) HandleHabitDrop(habitID string, from, to model.Time, dateISO string, scope DropScope) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	if !c.St.TryAcquireActionLock() {
		return ErrActionLockHeld
	}
	defer c.St.ReleaseActionLock()

	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}

	switch scope {
	case DropJustToday:
		day, _ := c.St.State.DayData(dateISO, habitID)
		base := selectors.GetEffectiveScheduleForHabitOnDate(habit, dateISO, &day)
		day.DailySchedule = swapTime(base, from, to)
		c.St.State.SetDayData(dateISO, habitID, day)
		c.St.ClearCachesForDateChange(dateISO, []string{habitID})

	case DropFromNowOn:
		amendScheduleFrom(habit, dateISO, func(base model.HabitSchedule) model.HabitSchedule {
			out := base
			out.Times = *swapTime(base.Times, from, to)
			return out
		})
		c.St.ClearCachesForScheduleChange()
	}

	c.commit(false)
	return nil
}

func swapTime(times model.Times, from, to model.Time) *model.Times {
	out := make(model.Times, 0, len(times))
	seenTo := false
	for _, t := range times {
		if t == from {
			out = append(out, to)
			seenTo = true
			continue
		}
		if t == to {
			seenTo = true
		}
		out = append(out, t)
	}
	if !seenTo {
		out = append(out, to)
	}
	return &out
}

// SaveHabitInput is the shape of the habit-editor modal's submission.
type SaveHabitInput struct {
	EditingHabitID string // empty for a new habit
	Name           string
	Icon           string
	Color          string
	Goal           model.Goal
	Frequency      model.Frequency
	Times          model.Times
	ScheduleAnchor string
	TargetDate     string
}

// SaveHabitFromModal creates a new habit or amends an existing one's
// schedule from TargetDate, per spec §4.6.
func (c *Controller) SaveHabitFromModal(in SaveHabitInput) (*model.Habit, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("actions: habit name must not be empty")
	}

	newSchedule := func(startDate string) model.HabitSchedule {
		return model.HabitSchedule{
			StartDate:      startDate,
			Name:           in.Name,
			Icon:           in.Icon,
			Color:          in.Color,
			Goal:           in.Goal,
			Frequency:      in.Frequency,
			Times:          in.Times,
			ScheduleAnchor: in.ScheduleAnchor,
		}
	}

	if in.EditingHabitID == "" {
		for i := range c.St.State.Habits {
			h := &c.St.State.Habits[i]
			if h.IsDeleted() {
				continue
			}
			display := selectors.GetHabitDisplayInfo(h, in.TargetDate)
			if display.Name == in.Name {
				amendScheduleFrom(h, in.TargetDate, func(model.HabitSchedule) model.HabitSchedule {
					return newSchedule(in.TargetDate)
				})
				c.St.ClearCachesForScheduleChange()
				c.commit(false)
				return h, nil
			}
		}

		habit := model.Habit{
			ID:              uuid.New(),
			CreatedOn:       in.TargetDate,
			ScheduleHistory: []model.HabitSchedule{newSchedule(in.TargetDate)},
		}
		c.St.State.Habits = append(c.St.State.Habits, habit)
		c.St.ClearCachesForScheduleChange()
		c.commit(false)
		return &c.St.State.Habits[len(c.St.State.Habits)-1], nil
	}

	habit := c.St.State.FindHabit(in.EditingHabitID)
	if habit == nil {
		return nil, ErrHabitNotFound
	}
	amendScheduleFrom(habit, in.TargetDate, func(model.HabitSchedule) model.HabitSchedule {
		return newSchedule(in.TargetDate)
	})
	if in.TargetDate < habit.CreatedOn {
		habit.CreatedOn = in.TargetDate
	}
	c.St.ClearCachesForScheduleChange()
	c.commit(false)
	return habit, nil
}

// RequestHabitEndingFromModal sets the tail schedule's EndDate,
// ending a habit's lifecycle as of dateISO without deleting history.
func (c *Controller) RequestHabitEndingFromModal(habitID, dateISO string) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	if !c.St.TryAcquireActionLock() {
		return ErrActionLockHeld
	}
	defer c.St.ReleaseActionLock()

	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}
	if len(habit.ScheduleHistory) == 0 {
		return fmt.Errorf("actions: habit %s has no schedule history", habitID)
	}
	tail := &habit.ScheduleHistory[len(habit.ScheduleHistory)-1]
	tail.EndDate = &dateISO

	c.St.ClearCachesForScheduleChange()
	c.commit(false)
	return nil
}

// RequestHabitPermanentDeletion soft-deletes a habit, prunes its
// bitmap log and per-day overrides, and background-prunes archives.
func (c *Controller) RequestHabitPermanentDeletion(habitID string) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	if !c.St.TryAcquireActionLock() {
		return ErrActionLockHeld
	}
	defer c.St.ReleaseActionLock()

	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}
	habit.DeletedOn = &habit.CreatedOn

	c.St.Log.PruneLogsForHabit(habitID)
	for _, byHabit := range c.St.State.DailyData {
		delete(byHabit, habitID)
	}

	if c.pool != nil {
		archives := make(map[string][]byte, len(c.St.State.Archives))
		for year, blob := range c.St.State.Archives {
			archives[year] = blob
		}
		go func() {
			res := <-c.pool.Submit(workerpool.TaskArchivePrune, ArchivePrunePayload{HabitID: habitID, Archives: archives})
			if res.Err != nil {
				c.logger.Warn().Err(res.Err).Str("habitID", habitID).Msg("archive prune failed")
				return
			}
			updated, ok := res.Value.(map[string][]byte)
			if !ok || len(updated) == 0 {
				return
			}
			// Runs off the goroutine that owns serial action dispatch, so
			// unlike every other mutation here it must take the store lock
			// itself before touching State.
			c.St.Lock()
			for year, blob := range updated {
				c.St.State.Archives[year] = blob
			}
			c.St.BumpLastModified(c.now())
			c.St.Unlock()
			if c.persist != nil {
				c.persist(false)
			}
			if c.push != nil {
				c.push(false)
			}
		}()
	}

	c.St.ClearCachesForScheduleChange()
	c.commit(false)
	return nil
}

// GraduateHabit marks a habit as graduated as of selectedDate.
func (c *Controller) GraduateHabit(habitID, selectedDate string) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}
	habit.GraduatedOn = &selectedDate

	c.St.ClearCachesForScheduleChange()
	c.commit(false)
	return nil
}

// SetGoalOverride sets a per-instance goal override, flipping a
// DONE/DONE_PLUS slot across the schedule's goal.total threshold.
func (c *Controller) SetGoalOverride(habitID, dateISO string, slot model.Time, value float64) error {
	if err := c.requireBooted(); err != nil {
		return err
	}
	habit := c.St.State.FindHabit(habitID)
	if habit == nil {
		return ErrHabitNotFound
	}

	day, _ := c.St.State.DayData(dateISO, habitID)
	if day.Instances == nil {
		day.Instances = make(map[model.Time]model.HabitInstanceData)
	}
	inst := day.Instances[slot]
	inst.GoalOverride = &value
	day.Instances[slot] = inst
	c.St.State.SetDayData(dateISO, habitID, day)

	bslot := timeToSlot(slot)
	current := c.St.Log.GetStatus(habitID, dateISO, bslot)
	if current == bitmap.StatusDone || current == bitmap.StatusDonePlus {
		sched := selectors.GetScheduleForDate(habit, dateISO)
		if sched != nil && sched.Goal.Kind == model.GoalNumeric && sched.Goal.Total > 0 {
			if value >= sched.Goal.Total {
				c.St.Log.SetStatus(habitID, dateISO, bslot, bitmap.StatusDonePlus)
			} else {
				c.St.Log.SetStatus(habitID, dateISO, bslot, bitmap.StatusDone)
			}
		}
	}

	c.St.ClearCachesForDateChange(dateISO, []string{habitID})
	c.commit(false)
	return nil
}

// PerformArchivalCheck gathers dailyData older than
// ArchiveThresholdDays, offloads compression to the worker pool, and
// removes the pulled entries from hot state.
func (c *Controller) PerformArchivalCheck(todayISO string) error {
	cutoff, err := time.Parse("2006-01-02", todayISO)
	if err != nil {
		return fmt.Errorf("actions: malformed date %q: %w", todayISO, err)
	}
	cutoff = cutoff.AddDate(0, 0, -ArchiveThresholdDays)
	cutoffISO := cutoff.Format("2006-01-02")

	byYear := make(map[string]map[string]map[string]model.HabitDayData)
	for date, byHabit := range c.St.State.DailyData {
		if date >= cutoffISO {
			continue
		}
		year := date[:4]
		if byYear[year] == nil {
			byYear[year] = make(map[string]map[string]model.HabitDayData)
		}
		byYear[year][date] = byHabit
	}
	if len(byYear) == 0 {
		return nil
	}

	if c.pool != nil {
		for year, bundle := range byYear {
			res := <-c.pool.Submit(workerpool.TaskArchiveBuild, bundle)
			if res.Err != nil {
				c.logger.Warn().Err(res.Err).Str("year", year).Msg("archive build failed, retaining hot data")
				continue
			}
			if blob, ok := res.Value.([]byte); ok {
				c.St.State.Archives[year] = blob
			}
			for date := range bundle {
				delete(c.St.State.DailyData, date)
			}
		}
	}

	c.commit(false)
	return nil
}

// ResetApplicationData clears all in-memory state and the sync key.
// The caller is responsible for clearing persistence and restarting
// the process.
func (c *Controller) ResetApplicationData() {
	c.St.State = model.New()
	c.St.Log.SetEntries(nil)
	c.St.InitialSyncDone = false
}

// ReorderHabits splices moved out of the habit list and reinserts it
// immediately before or after target (spec §4.6 "Reorder algorithm").
func (c *Controller) ReorderHabits(movedID, targetID string, before bool) error {
	habits := c.St.State.Habits
	movedIdx := habitIndex(habits, movedID)
	targetIdx := habitIndex(habits, targetID)
	if movedIdx < 0 || targetIdx < 0 {
		return ErrHabitNotFound
	}

	moved := habits[movedIdx]
	habits = append(habits[:movedIdx], habits[movedIdx+1:]...)
	if movedIdx < targetIdx {
		targetIdx--
	}
	insertAt := targetIdx
	if !before {
		insertAt++
	}
	if insertAt > len(habits) {
		insertAt = len(habits)
	}

	rebuilt := make([]model.Habit, 0, len(habits)+1)
	rebuilt = append(rebuilt, habits[:insertAt]...)
	rebuilt = append(rebuilt, moved)
	rebuilt = append(rebuilt, habits[insertAt:]...)
	c.St.State.Habits = rebuilt

	c.St.ClearCachesForScheduleChange()
	c.commit(false)
	return nil
}

func habitIndex(habits []model.Habit, id string) int {
	for i, h := range habits {
		if h.ID.String() == id {
			return i
		}
	}
	return -1
}

// amendScheduleFrom implements spec §4.6's schedule-history amendment
// algorithm: find the interval containing targetDate; update it in
// place if targetDate equals its startDate, otherwise close it at
// targetDate and append a new interval (which also handles the
// "targetDate beyond all existing intervals" case, since the last
// interval's endDate is simply clamped the same way). A targetDate
// before every existing interval has no prior interval to close, so
// it rebases the head interval's startDate back to targetDate instead
// (the "extending createdOn back if earlier" case SaveHabitFromModal
// relies on) rather than giving an interval an end before its own
// start.
func amendScheduleFrom(h *model.Habit, targetDate string, updater func(model.HabitSchedule) model.HabitSchedule) {
	hist := h.ScheduleHistory
	if len(hist) == 0 {
		return
	}

	if targetDate < hist[0].StartDate {
		updated := updater(hist[0])
		updated.StartDate = targetDate
		hist[0] = updated
		h.ScheduleHistory = hist
		h.GraduatedOn = nil
		return
	}

	idx := 0
	for i := range hist {
		if hist[i].StartDate > targetDate {
			break
		}
		idx = i
	}

	containing := hist[idx]
	if containing.StartDate == targetDate {
		hist[idx] = updater(containing)
	} else {
		endDate := targetDate
		hist[idx].EndDate = &endDate
		next := updater(hist[idx])
		next.StartDate = targetDate
		next.EndDate = nil
		hist = append(hist, next)
	}

	sort.SliceStable(hist, func(i, j int) bool { return hist[i].StartDate < hist[j].StartDate })
	h.ScheduleHistory = hist
	h.GraduatedOn = nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
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
