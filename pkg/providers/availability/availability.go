/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package availability answers whether a caregiver is free for a time span
// and generates open slots across the working day.
package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

const (
	// TravelBufferMinutes pads every existing visit on both sides when
	// travel time is taken into account.
	TravelBufferMinutes = 30

	// Default working window for slot generation.
	defaultWorkdayStart = 8 * 60  // 08:00
	defaultWorkdayEnd   = 18 * 60 // 18:00

	defaultSlotMinutes = 60
)

// Slot is one candidate span in a caregiver's day.
type Slot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Engine computes caregiver availability from their scheduled visits.
type Engine struct {
	visits storage.VisitStore
}

func NewEngine(visits storage.VisitStore) *Engine {
	return &Engine{visits: visits}
}

// IsAvailable reports whether the caregiver is free on date for the
// half-open span [start, end), both "HH:MM". With empty start and end the
// answer is "does the caregiver have no visit at all that day".
func (e *Engine) IsAvailable(ctx context.Context, caregiverID uuid.UUID, date timeutil.Date, start, end string, includeTravel bool) (bool, error) {
	busy, err := e.busyIntervals(ctx, caregiverID, date, includeTravel)
	if err != nil {
		return false, err
	}
	if start == "" && end == "" {
		return len(busy) == 0, nil
	}
	requested, err := timeutil.NewInterval(start, end)
	if err != nil {
		return false, errors.Validation("INVALID_INTERVAL", "%v", err)
	}
	if requested.Start >= requested.End {
		return false, errors.Validation("INVALID_INTERVAL", "start %s must be before end %s", start, end)
	}
	for _, interval := range busy {
		if interval.Overlaps(requested) {
			return false, nil
		}
	}
	return true, nil
}

// Slots steps through the default working window in duration-sized
// increments and marks each span available or not.
func (e *Engine) Slots(ctx context.Context, caregiverID uuid.UUID, date timeutil.Date, durationMinutes int, includeTravel bool) ([]Slot, error) {
	if durationMinutes <= 0 {
		durationMinutes = defaultSlotMinutes
	}
	busy, err := e.busyIntervals(ctx, caregiverID, date, includeTravel)
	if err != nil {
		return nil, err
	}

	var slots []Slot
	for start := defaultWorkdayStart; start+durationMinutes <= defaultWorkdayEnd; start += durationMinutes {
		candidate := timeutil.Interval{Start: start, End: start + durationMinutes}
		slot := Slot{
			Start:     timeutil.FormatClock(candidate.Start),
			End:       timeutil.FormatClock(candidate.End),
			Available: true,
		}
		for _, interval := range busy {
			if interval.Overlaps(candidate) {
				slot.Available = false
				slot.Reason = fmt.Sprintf("conflicts with existing visit %s-%s",
					timeutil.FormatClock(interval.Start), timeutil.FormatClock(interval.End))
				break
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (e *Engine) busyIntervals(ctx context.Context, caregiverID uuid.UUID, date timeutil.Date, includeTravel bool) ([]timeutil.Interval, error) {
	visits, err := e.visits.VisitsByCaregiverAndDate(ctx, caregiverID, date, v1.BusyVisitStatuses)
	if err != nil {
		return nil, err
	}
	intervals := make([]timeutil.Interval, 0, len(visits))
	for _, visit := range visits {
		interval, err := visit.ScheduledInterval()
		if err != nil {
			return nil, errors.Validation("CORRUPT_VISIT_TIMES", "visit %s has unparseable scheduled times", visit.ID).WithCause(err)
		}
		if includeTravel {
			interval = interval.Extend(TravelBufferMinutes)
		}
		intervals = append(intervals, interval)
	}
	return intervals, nil
}
