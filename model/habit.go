// Package model defines the Askesis data model: habits, their schedule
// history, per-day overrides, archives, and the AppState aggregate
// root, per SPEC_FULL.md §3.
package model

import (
	"time"

	"github.com/google/uuid"
)

// GoalKind discriminates the Habit.Goal tagged variant (SPEC_FULL §9:
// "Polymorphism ... a tagged variant: {type:'check'} | {type:'numeric',
// total:number}").
type GoalKind string

const (
	GoalCheck   GoalKind = "check"
	GoalNumeric GoalKind = "numeric"
)

// Goal is either a plain check-off or a numeric target.
type Goal struct {
	Kind  GoalKind `json:"type"`
	Total float64  `json:"total,omitempty"`
}

// FrequencyKind discriminates the Habit.Frequency tagged variant.
type FrequencyKind string

const (
	FrequencyDaily        FrequencyKind = "daily"
	FrequencySpecificDays FrequencyKind = "specific_days_of_week"
	FrequencyInterval     FrequencyKind = "interval"
)

// Frequency governs which dates a habit should appear on.
type Frequency struct {
	Kind   FrequencyKind `json:"type"`
	Days   []time.Weekday `json:"days,omitempty"`   // specific_days_of_week
	Period int            `json:"period,omitempty"` // interval, in days
}

// Time identifies a time-of-day slot. Order within a Times set is
// irrelevant per spec §3.
type Time string

const (
	TimeMorning   Time = "Morning"
	TimeAfternoon Time = "Afternoon"
	TimeEvening   Time = "Evening"
)

// Times is an unordered subset of {Morning, Afternoon, Evening}.
type Times []Time

// Has reports whether t is a member of ts.
func (ts Times) Has(t Time) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

// HabitSchedule governs a habit's display, goal, frequency, and times
// during the half-open interval [StartDate, EndDate).
type HabitSchedule struct {
	StartDate      string     `json:"startDate"`
	EndDate        *string    `json:"endDate,omitempty"`
	Name           string     `json:"name"`
	Icon           string     `json:"icon,omitempty"`
	Color          string     `json:"color,omitempty"`
	Goal           Goal       `json:"goal"`
	Philosophy     string     `json:"philosophy,omitempty"`
	Frequency      Frequency  `json:"frequency"`
	Times          Times      `json:"times"`
	ScheduleAnchor string     `json:"scheduleAnchor"`
}

// Habit is the aggregate identity for a tracked behavior. Schedule is
// the only mutable part of a habit's definition over time; it is
// amended, never rewritten in place, except for the tail entry (spec
// §3 Lifecycle).
type Habit struct {
	ID              uuid.UUID       `json:"id"`
	CreatedOn       string          `json:"createdOn"`
	GraduatedOn     *string         `json:"graduatedOn,omitempty"`
	DeletedOn       *string         `json:"deletedOn,omitempty"`
	ScheduleHistory []HabitSchedule `json:"scheduleHistory"`
}

// IsDeleted reports whether the habit has been soft-deleted.
func (h *Habit) IsDeleted() bool {
	return h.DeletedOn != nil
}

// IsGraduated reports whether the habit has graduated as of dateISO.
func (h *Habit) IsGraduated(dateISO string) bool {
	return h.GraduatedOn != nil && *h.GraduatedOn <= dateISO
}

// HabitInstanceData holds the per-(date, habit, time) manual override:
// an optional note and an optional goal override. Completion status
// itself is never stored here — it lives in the bitmap log (invariant
// 3 of spec §3).
type HabitInstanceData struct {
	Note         string   `json:"note,omitempty"`
	GoalOverride *float64 `json:"goalOverride,omitempty"`
}

// HabitDayData is the per-(date, habit) override entry: an optional
// one-day Times override plus per-slot instance data.
type HabitDayData struct {
	DailySchedule *Times                     `json:"dailySchedule,omitempty"`
	Instances     map[Time]HabitInstanceData `json:"instances,omitempty"`
}
