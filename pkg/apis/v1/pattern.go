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

package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// PatternType distinguishes how a service pattern spawns visits.
type PatternType string

const (
	PatternTypeRecurring PatternType = "RECURRING"
	PatternTypeOneTime   PatternType = "ONE_TIME"
	PatternTypeAsNeeded  PatternType = "AS_NEEDED"
	PatternTypeRespite   PatternType = "RESPITE"
)

// PatternStatus is the pattern lifecycle. Only ACTIVE patterns may generate
// visits.
type PatternStatus string

const (
	PatternStatusDraft     PatternStatus = "DRAFT"
	PatternStatusActive    PatternStatus = "ACTIVE"
	PatternStatusSuspended PatternStatus = "SUSPENDED"
	PatternStatusCompleted PatternStatus = "COMPLETED"
	PatternStatusCancelled PatternStatus = "CANCELLED"
)

// Frequency is the recurrence frequency of a rule.
type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
	FrequencyCustom   Frequency = "CUSTOM"
)

// RecurrenceRule describes when a pattern recurs. Times are wall-clock
// "HH:MM" strings; they are resolved to instants only by callers that attach
// the rule's IANA timezone.
type RecurrenceRule struct {
	Frequency   Frequency      `json:"frequency"`
	Interval    int            `json:"interval"`
	DaysOfWeek  []time.Weekday `json:"daysOfWeek,omitempty"`
	DaysOfMonth []int          `json:"daysOfMonth,omitempty"`
	StartTime   string         `json:"startTime"`
	EndTime     string         `json:"endTime,omitempty"`
	Timezone    string         `json:"timezone"`
}

// Location resolves the rule's IANA timezone.
func (r RecurrenceRule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, errors.Validation("INVALID_TIMEZONE", "unknown IANA timezone %q", r.Timezone)
	}
	return loc, nil
}

// Validate checks the rule's structural invariants.
func (r RecurrenceRule) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyCustom:
	default:
		return errors.Validation("INVALID_FREQUENCY", "unsupported frequency %q", r.Frequency)
	}
	if r.Interval < 1 || r.Interval > 365 {
		return errors.Validation("INVALID_INTERVAL", "interval must be within [1, 365], got %d", r.Interval)
	}
	if r.Frequency == FrequencyWeekly || r.Frequency == FrequencyBiweekly {
		if len(r.DaysOfWeek) == 0 {
			return errors.Validation("MISSING_DAYS_OF_WEEK", "%s rules must specify a non-empty day-of-week set", r.Frequency)
		}
	}
	if r.Frequency == FrequencyMonthly {
		if len(r.DaysOfMonth) == 0 {
			return errors.Validation("MISSING_DAYS_OF_MONTH", "MONTHLY rules must specify non-empty dates-of-month")
		}
		for _, day := range r.DaysOfMonth {
			if day < 1 || day > 31 {
				return errors.Validation("INVALID_DAY_OF_MONTH", "day-of-month %d outside [1, 31]", day)
			}
		}
	}
	if _, err := timeutil.ParseClock(r.StartTime); err != nil {
		return errors.Validation("INVALID_START_TIME", "startTime: %v", err)
	}
	if r.EndTime != "" {
		if _, err := timeutil.ParseClock(r.EndTime); err != nil {
			return errors.Validation("INVALID_END_TIME", "endTime: %v", err)
		}
	}
	if _, err := r.Location(); err != nil {
		return err
	}
	return nil
}

// ServicePattern is a template for recurring care that a date window expands
// into concrete visits.
type ServicePattern struct {
	ObjectMeta

	ClientID               uuid.UUID      `json:"clientId"`
	Type                   PatternType    `json:"type"`
	Rule                   RecurrenceRule `json:"rule"`
	ServiceTypeCode        string         `json:"serviceTypeCode"`
	DurationMinutes        int            `json:"durationMinutes"`
	RequiredSkills         []string       `json:"requiredSkills,omitempty"`
	RequiredCertifications []string       `json:"requiredCertifications,omitempty"`
	PreferredCaregiverIDs  []uuid.UUID    `json:"preferredCaregiverIds,omitempty"`
	BlockedCaregiverIDs    []uuid.UUID    `json:"blockedCaregiverIds,omitempty"`
	AuthorizationStartDate timeutil.Date  `json:"authorizationStartDate"`
	AuthorizationEndDate   timeutil.Date  `json:"authorizationEndDate"`
	WeeklyHoursCap         *int           `json:"weeklyHoursCap,omitempty"`
	WeeklyVisitsCap        *int           `json:"weeklyVisitsCap,omitempty"`
	EffectiveFrom          timeutil.Date  `json:"effectiveFrom"`
	EffectiveTo            *timeutil.Date `json:"effectiveTo,omitempty"`
	Status                 PatternStatus  `json:"status"`
}

// Validate checks the pattern's invariants.
func (p *ServicePattern) Validate() error {
	switch p.Type {
	case PatternTypeRecurring, PatternTypeOneTime, PatternTypeAsNeeded, PatternTypeRespite:
	default:
		return errors.Validation("INVALID_PATTERN_TYPE", "unsupported pattern type %q", p.Type)
	}
	if p.DurationMinutes < 15 || p.DurationMinutes > 1440 {
		return errors.Validation("INVALID_DURATION", "duration must be within [15, 1440] minutes, got %d", p.DurationMinutes)
	}
	if p.AuthorizationEndDate.Before(p.AuthorizationStartDate) {
		return errors.Validation("INVALID_AUTHORIZATION_WINDOW", "authorizationStartDate %s must not be after authorizationEndDate %s",
			p.AuthorizationStartDate, p.AuthorizationEndDate)
	}
	if p.EffectiveTo != nil && p.EffectiveTo.Before(p.EffectiveFrom) {
		return errors.Validation("INVALID_EFFECTIVE_WINDOW", "effectiveFrom %s must not be after effectiveTo %s",
			p.EffectiveFrom, *p.EffectiveTo)
	}
	return p.Rule.Validate()
}
