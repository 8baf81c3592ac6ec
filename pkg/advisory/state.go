// Package advisory is the air-quality satellite: it polls a reading feed,
// classifies it into a level, and renders the level on request.
package advisory

import (
	"time"

	"nabcore/pkg/feed/aqicn"
)

// StateKey is the ConfigStore key holding State.
const StateKey = "advisory"

// Metrics.
const (
	MetricAQI  = "aqi"
	MetricPM25 = "pm25"
)

// Rendering preferences.
const (
	VisualAlways = "always"
	VisualNever  = "never"
)

// RunToday is the NextRunKind requesting an immediate performance.
const RunToday = "today"

// Levels, worst first.
const (
	LevelWorst    = 0
	LevelModerate = 1
	LevelGood     = 2
)

// State is the persisted advisory record.
type State struct {
	Metric      string          `json:"metric"`
	Visual      string          `json:"visual"`
	Location    *aqicn.Location `json:"location,omitempty"`
	LastLevel   *int            `json:"last_level,omitempty"`
	LastCity    string          `json:"last_city,omitempty"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	NextRunKind string          `json:"next_run_kind,omitempty"`
}

// Normalize fills defaults for unset or unknown fields.
func (s State) Normalize() State {
	if s.Metric != MetricPM25 {
		s.Metric = MetricAQI
	}
	if s.Visual != VisualNever {
		s.Visual = VisualAlways
	}
	return s
}

// PerformRequested reports whether an immediate performance is pending.
func (s State) PerformRequested() bool {
	return s.NextRunKind == RunToday
}

// RequestPerform returns s with an immediate performance scheduled.
func (s State) RequestPerform(now time.Time) State {
	s.NextRunAt = &now
	s.NextRunKind = RunToday
	return s
}

// Classify maps an index value to a level: above 100 is worst, above 50 is
// moderate, anything else is good. A missing value is worst.
func Classify(v aqicn.Value) int {
	switch {
	case !v.Valid:
		return LevelWorst
	case v.Number > 100:
		return LevelWorst
	case v.Number > 50:
		return LevelModerate
	default:
		return LevelGood
	}
}
