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

// Package scheduling expands recurring service patterns into concrete visit
// dates. Expansion is a pure function: dates in, dates out, no I/O.
package scheduling

import (
	"time"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// MaxWindowDays bounds a single expansion request.
const MaxWindowDays = 365

// Options tunes one expansion.
type Options struct {
	// SkipHolidays subtracts dates present in Holidays from the result.
	SkipHolidays bool
	Holidays     HolidayCalendar
}

// Expand produces the ordered list of local dates on which the pattern
// recurs within [startDate, endDate], both inclusive. Dates carry no time;
// the caller attaches the rule's HH:MM start time and timezone.
//
// CUSTOM frequency rules are not expandable and yield an empty list.
func Expand(pattern *v1.ServicePattern, startDate, endDate timeutil.Date, opts Options) ([]timeutil.Date, error) {
	if pattern.Status != v1.PatternStatusActive {
		return nil, errors.Validation("PATTERN_NOT_ACTIVE", "pattern %s is %s, only ACTIVE patterns may generate visits", pattern.ID, pattern.Status)
	}
	if !startDate.Before(endDate) {
		return nil, errors.Validation("INVALID_WINDOW", "startDate %s must be before endDate %s", startDate, endDate)
	}
	if endDate.DaysSince(startDate) > MaxWindowDays {
		return nil, errors.Validation("WINDOW_TOO_LARGE", "expansion window exceeds %d days", MaxWindowDays)
	}
	if err := pattern.Rule.Validate(); err != nil {
		return nil, err
	}

	rule := pattern.Rule
	if rule.Frequency == v1.FrequencyCustom {
		return []timeutil.Date{}, nil
	}

	// BIWEEKLY is WEEKLY with a doubled interval.
	interval := rule.Interval
	frequency := rule.Frequency
	if frequency == v1.FrequencyBiweekly {
		frequency = v1.FrequencyWeekly
		interval *= 2
	}

	weekdays := make(map[time.Weekday]struct{}, len(rule.DaysOfWeek))
	for _, day := range rule.DaysOfWeek {
		weekdays[day] = struct{}{}
	}
	monthDays := make(map[int]struct{}, len(rule.DaysOfMonth))
	for _, day := range rule.DaysOfMonth {
		monthDays[day] = struct{}{}
	}

	var dates []timeutil.Date
	total := endDate.DaysSince(startDate)
	for offset := 0; offset <= total; offset++ {
		date := startDate.AddDays(offset)
		include := false
		switch frequency {
		case v1.FrequencyDaily:
			include = offset%interval == 0
		case v1.FrequencyWeekly:
			// Weeks are counted in 7-day blocks from startDate; off-cycle
			// weeks are skipped entirely.
			if (offset/7)%interval == 0 {
				_, include = weekdays[date.Weekday()]
			}
		case v1.FrequencyMonthly:
			// Days that do not occur in a given month are silently skipped
			// by construction: iteration only visits real dates.
			_, include = monthDays[date.Day]
		}
		if !include {
			continue
		}
		if opts.SkipHolidays && opts.Holidays.Contains(date) {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}
