package model

// Diagnosis is a per-day AI-derived quote context (spec §3; the
// diagnosis content itself comes from the out-of-scope AI analysis
// endpoint — only its shape is modeled here).
type Diagnosis struct {
	Level     string   `json:"level"`
	Themes    []string `json:"themes"`
	Timestamp int64    `json:"timestamp"`
}

// SyncLogEntry is the shape of one telemetry.Ring entry and of each
// element of AppState.SyncLogs. The ring keeps its entries in memory
// only and does not copy them into AppState.SyncLogs, so ring entries
// do not survive a save/load cycle; nothing bounds the length of
// AppState.SyncLogs.
type SyncLogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Icon      string `json:"icon,omitempty"`
}

// AppState is the aggregate root: the entire persisted/synced state of
// one device, minus the bitmap log which is split out into its own
// persistence record (invariant 7, spec §3).
type AppState struct {
	Version                      int                              `json:"version"`
	Habits                       []Habit                          `json:"habits"`
	DailyData                    map[string]map[string]HabitDayData `json:"dailyData"` // dateISO -> habitID -> data
	Archives                     map[string][]byte                `json:"archives"`   // year -> compressed blob
	Diagnoses                    map[string]Diagnosis              `json:"diagnoses"`  // dateISO -> diagnosis
	NotificationsShown           []string                          `json:"notificationsShown"`
	Pending21DayHabitIDs         []string                          `json:"pending21DayHabitIds"`
	PendingConsolidationHabitIDs []string                          `json:"pendingConsolidationHabitIds"`
	SyncLogs                     []SyncLogEntry                    `json:"syncLogs"`
	HasOnboarded                 bool                              `json:"hasOnboarded"`
	LastModified                 int64                             `json:"lastModified"`
}

// CurrentVersion is the AppState schema version written by this build;
// Persistence.Load runs migrateState when a loaded record's Version
// differs.
const CurrentVersion = 1

// New returns an empty, well-formed AppState.
func New() *AppState {
	return &AppState{
		Version:   CurrentVersion,
		Habits:    []Habit{},
		DailyData: make(map[string]map[string]HabitDayData),
		Archives:  make(map[string][]byte),
		Diagnoses: make(map[string]Diagnosis),
	}
}

// FindHabit returns a pointer into s.Habits matching id, or nil.
func (s *AppState) FindHabit(id string) *Habit {
	for i := range s.Habits {
		if s.Habits[i].ID.String() == id {
			return &s.Habits[i]
		}
	}
	return nil
}

// DayData returns the override entry for (dateISO, habitID), or the
// zero value and false if none exists.
func (s *AppState) DayData(dateISO, habitID string) (HabitDayData, bool) {
	byHabit, ok := s.DailyData[dateISO]
	if !ok {
		return HabitDayData{}, false
	}
	d, ok := byHabit[habitID]
	return d, ok
}

// SetDayData installs or replaces an override entry, creating the
// intermediate date map lazily as spec §3 Lifecycle requires.
func (s *AppState) SetDayData(dateISO, habitID string, data HabitDayData) {
	if s.DailyData == nil {
		s.DailyData = make(map[string]map[string]HabitDayData)
	}
	byHabit, ok := s.DailyData[dateISO]
	if !ok {
		byHabit = make(map[string]HabitDayData)
		s.DailyData[dateISO] = byHabit
	}
	byHabit[habitID] = data
}
