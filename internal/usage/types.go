package usage

import (
	"time"
)

// Record is one calendar day of counted device usage
type Record struct {
	Day          string           `json:"day"`
	TotalSeconds int64            `json:"total_seconds"`
	SlotSeconds  map[string]int64 `json:"slot_seconds,omitempty"`
	// Restarts counts how often the budget was restarted by a successful
	// challenge during the day.
	Restarts int `json:"restarts,omitempty"`
}

// NewRecord returns a zeroed record for day.
func NewRecord(day string) Record {
	return Record{Day: day, SlotSeconds: map[string]int64{}}
}

// Total returns the day's total usage.
func (r Record) Total() time.Duration {
	return time.Duration(r.TotalSeconds) * time.Second
}

// SlotUsage returns the usage accrued while slot id was active.
func (r Record) SlotUsage(id string) time.Duration {
	return time.Duration(r.SlotSeconds[id]) * time.Second
}

func (r Record) clone() Record {
	out := r
	out.SlotSeconds = make(map[string]int64, len(r.SlotSeconds))
	for k, v := range r.SlotSeconds {
		out.SlotSeconds[k] = v
	}
	return out
}
