package models

import "time"

// Frequency is the recurrence of a schedule.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether the frequency is known.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ScheduleDefinition is a recurring sync.
type ScheduleDefinition struct {
	ID          string    `yaml:"id" json:"id" bson:"_id"`
	ConnectorID string    `yaml:"connector_id" json:"connector_id" bson:"connector_id"`
	Categories  []string  `yaml:"categories" json:"categories" bson:"categories"`
	Mode        SyncMode  `yaml:"mode,omitempty" json:"mode,omitempty" bson:"mode,omitempty"`
	Direction   Direction `yaml:"direction,omitempty" json:"direction,omitempty" bson:"direction,omitempty"`
	Frequency   Frequency `yaml:"frequency" json:"frequency" bson:"frequency"`

	// TimeOfDay is "HH:MM"; hourly schedules only use the minute
	TimeOfDay string `yaml:"time_of_day,omitempty" json:"time_of_day,omitempty" bson:"time_of_day,omitempty"`
	// Weekday applies to weekly schedules, Monday when nil
	Weekday *time.Weekday `yaml:"weekday,omitempty" json:"weekday,omitempty" bson:"weekday,omitempty"`
	// DayOfMonth applies to monthly schedules, 1 when zero
	DayOfMonth int `yaml:"day_of_month,omitempty" json:"day_of_month,omitempty" bson:"day_of_month,omitempty"`

	Enabled   bool       `yaml:"enabled" json:"enabled" bson:"enabled"`
	NextRunAt time.Time  `yaml:"-" json:"next_run_at" bson:"next_run_at"`
	LastRunAt *time.Time `yaml:"-" json:"last_run_at,omitempty" bson:"last_run_at,omitempty"`
	LastJobID string     `yaml:"-" json:"last_job_id,omitempty" bson:"last_job_id,omitempty"`
}

// Request builds the sync request the schedule submits.
func (s *ScheduleDefinition) Request() SyncRequest {
	mode := s.Mode
	if mode == "" {
		mode = SyncModeIncremental
	}
	return SyncRequest{
		ConnectorID: s.ConnectorID,
		Mode:        mode,
		Direction:   s.Direction,
		Categories:  append([]string(nil), s.Categories...),
		ScheduleID:  s.ID,
	}
}

// Clone returns a deep copy of the definition.
func (s *ScheduleDefinition) Clone() *ScheduleDefinition {
	if s == nil {
		return nil
	}
	out := *s
	out.Categories = append([]string(nil), s.Categories...)
	if s.Weekday != nil {
		wd := *s.Weekday
		out.Weekday = &wd
	}
	if s.LastRunAt != nil {
		last := *s.LastRunAt
		out.LastRunAt = &last
	}
	return &out
}
