// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"sort"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

// ScheduleEntry lists the clients expected to be reachable from [From] until
// the next entry takes over. Times are unix milliseconds.
type ScheduleEntry struct {
	From    int64         `json:"from"`
	Clients []ids.ShortID `json:"clients"`
}

// Schedule is the time-indexed availability plan of the client fleet. The
// organizer uses it to decide when every vote that can still arrive has
// arrived; an empty schedule means no early tally is ever possible.
type Schedule struct {
	entries []ScheduleEntry
}

// NewSchedule sorts [entries] by start time.
func NewSchedule(entries []ScheduleEntry) *Schedule {
	sorted := make([]ScheduleEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].From < sorted[j].From
	})
	return &Schedule{entries: sorted}
}

// ExpectedAt returns the clients expected reachable at [t]. Before the first
// entry no client is expected.
func (s *Schedule) ExpectedAt(t int64) set.Set[ids.ShortID] {
	expected := set.NewSet[ids.ShortID](0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].From <= t {
			expected.Add(s.entries[i].Clients...)
			break
		}
	}
	return expected
}
