package models

// FilterOp is a comparison operator of a filter condition.
type FilterOp string

const (
	FilterEq     FilterOp = "eq"
	FilterNe     FilterOp = "ne"
	FilterGt     FilterOp = "gt"
	FilterGte    FilterOp = "gte"
	FilterLt     FilterOp = "lt"
	FilterLte    FilterOp = "lte"
	FilterExists FilterOp = "exists"
)

// Valid reports whether the operator is known.
func (op FilterOp) Valid() bool {
	switch op {
	case FilterEq, FilterNe, FilterGt, FilterGte, FilterLt, FilterLte, FilterExists:
		return true
	}
	return false
}

// Condition compares one canonical field against a value.
type Condition struct {
	Field string      `yaml:"field" json:"field"`
	Op    FilterOp    `yaml:"op" json:"op"`
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// Filter is a conjunction of conditions over canonical records.
type Filter struct {
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Empty reports whether the filter matches everything.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

// SyncRequest asks the engine to run one sync job.
type SyncRequest struct {
	ConnectorID string    `yaml:"connector_id" json:"connector_id"`
	Mode        SyncMode  `yaml:"mode" json:"mode"`
	Direction   Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	Categories  []string  `yaml:"categories" json:"categories"`
	Filter      *Filter   `yaml:"filter,omitempty" json:"filter,omitempty"`
	// BatchSize overrides the engine default when positive
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// Recurrence is a cron-like expression; when set the request is also scheduled
	Recurrence string `yaml:"recurrence,omitempty" json:"recurrence,omitempty"`
	// ScheduleID is set when the scheduler submits the request
	ScheduleID string `yaml:"-" json:"schedule_id,omitempty"`
}

// EffectiveDirection returns the direction, defaulting to inbound.
func (r SyncRequest) EffectiveDirection() Direction {
	if r.Direction == "" {
		return DirectionInbound
	}
	return r.Direction
}
