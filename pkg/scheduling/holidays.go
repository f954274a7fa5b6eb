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

package scheduling

import (
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// HolidayCalendar is the set of observed holiday dates for one org+branch.
// Membership checks are O(1).
type HolidayCalendar struct {
	dates map[timeutil.Date]struct{}
}

// NewHolidayCalendar builds a calendar from a list of dates.
func NewHolidayCalendar(dates []timeutil.Date) HolidayCalendar {
	set := make(map[timeutil.Date]struct{}, len(dates))
	for _, date := range dates {
		set[date] = struct{}{}
	}
	return HolidayCalendar{dates: set}
}

// Contains reports whether the date is an observed holiday.
func (c HolidayCalendar) Contains(date timeutil.Date) bool {
	_, ok := c.dates[date]
	return ok
}

// Len returns the number of holidays in the calendar.
func (c HolidayCalendar) Len() int { return len(c.dates) }
