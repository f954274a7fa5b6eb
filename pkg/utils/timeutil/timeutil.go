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

// Package timeutil implements the two time shapes the scheduling core works
// in: wall-clock times of day ("HH:MM", 24-hour) and timezone-free local
// dates. Instants are only derived at the edges, by callers that know the
// visit's IANA timezone.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	// MinutesPerDay bounds every minutes-since-midnight value.
	MinutesPerDay = 24 * 60

	dateLayout = "2006-01-02"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClock converts an "HH:MM" 24-hour string to minutes since midnight.
func ParseClock(s string) (int, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, nil
}

// FormatClock renders minutes since midnight as "HH:MM". Values are clamped
// to the same calendar day.
func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes >= MinutesPerDay {
		minutes = MinutesPerDay - 1
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddClock adds a duration in minutes to an "HH:MM" time, clamping at the end
// of the day rather than wrapping past midnight.
func AddClock(clock string, minutes int) (string, error) {
	start, err := ParseClock(clock)
	if err != nil {
		return "", err
	}
	return FormatClock(start + minutes), nil
}

// Interval is a half-open [Start, End) span in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// NewInterval parses two "HH:MM" bounds into an interval.
func NewInterval(start, end string) (Interval, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: s, End: e}, nil
}

// Overlaps applies the standard half-open overlap predicate.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Extend grows the interval by buffer minutes on both sides, clamped to the
// calendar day.
func (i Interval) Extend(buffer int) Interval {
	start := i.Start - buffer
	if start < 0 {
		start = 0
	}
	end := i.End + buffer
	if end > MinutesPerDay {
		end = MinutesPerDay
	}
	return Interval{Start: start, End: end}
}

func (i Interval) Duration() int { return i.End - i.Start }

// Date is a calendar date with no time or timezone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses an ISO "YYYY-MM-DD" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustDate parses a date or panics. Test fixtures only.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf truncates a time to its calendar date in the time's location.
func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{Year: year, Month: month, Day: day}
}

// Today returns the current date in the given location.
func Today(now time.Time, loc *time.Location) Date {
	return DateOf(now.In(loc))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In resolves the date to midnight in the given location.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At resolves the date plus minutes since midnight to an instant in loc.
func (d Date) At(minutes int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, minutes/60, minutes%60, 0, 0, loc)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// AddDays returns the date n days later, handling month and year rollover.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// DaysSince returns the signed number of days between d and earlier.
func (d Date) DaysSince(earlier Date) int {
	return int(d.In(time.UTC).Sub(earlier.In(time.UTC)).Hours() / 24)
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return d.Year - other.Year
	case d.Month != other.Month:
		return int(d.Month) - int(other.Month)
	default:
		return d.Day - other.Day
	}
}

// MarshalText renders the ISO form for JSON and TOML encoders.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(data []byte) error {
	parsed, err := ParseDate(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
