package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the upper bound of a TimeOfDay ("24:00").
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed in minutes since local midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q, expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time out of range: %q", s)
	}

	return NewTimeOfDay(hour, minute), nil
}

// MustParseTimeOfDay is like ParseTimeOfDay but panics on error.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant of t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, date.Location())
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// WorkingPeriod is a contiguous block of working time within a day.
type WorkingPeriod struct {
	Start TimeOfDay `json:"start" yaml:"start"`
	End   TimeOfDay `json:"end" yaml:"end"`
}

// Valid reports whether the period is non-empty and within the day.
func (p WorkingPeriod) Valid() bool {
	return p.Start >= 0 && p.Start < p.End && p.End <= MinutesPerDay
}

// Minutes returns the length of the period; zero for degenerate periods.
func (p WorkingPeriod) Minutes() int {
	if !p.Valid() {
		return 0
	}
	return int(p.End - p.Start)
}

func (p WorkingPeriod) String() string {
	return p.Start.String() + "-" + p.End.String()
}

// WeeklySchedule maps a weekday to its working periods, in configured order.
// A missing or empty entry means the day is closed.
type WeeklySchedule map[time.Weekday][]WorkingPeriod

// PeriodsFor returns the working periods configured for the weekday.
func (s WeeklySchedule) PeriodsFor(day time.Weekday) []WorkingPeriod {
	if s == nil {
		return nil
	}
	return s[day]
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals share any instant.
// Intervals that only touch at an endpoint do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return isOverlapping(i.Start, i.End, other.Start, other.End)
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses a full English weekday name, case-insensitively.
func ParseWeekday(name string) (time.Weekday, error) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return day, nil
}

// WeekdayName returns the lowercase English name of day.
func WeekdayName(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// ByName converts the schedule to a map keyed by lowercase weekday name.
// Closed days are omitted.
func (s WeeklySchedule) ByName() map[string][]WorkingPeriod {
	out := make(map[string][]WorkingPeriod, len(s))
	for day, periods := range s {
		if len(periods) == 0 {
			continue
		}
		out[WeekdayName(day)] = periods
	}
	return out
}

// ScheduleFromNames builds a schedule from a map keyed by weekday name.
// Two keys naming the same weekday ("Monday" and "monday") are an error.
func ScheduleFromNames(byName map[string][]WorkingPeriod) (WeeklySchedule, error) {
	s := make(WeeklySchedule, len(byName))
	for name, periods := range byName {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if _, dup := s[day]; dup {
			return nil, fmt.Errorf("duplicate weekday %q", WeekdayName(day))
		}
		s[day] = append([]WorkingPeriod{}, periods...)
	}
	return s, nil
}

// Validate rejects degenerate periods and periods that overlap within the same day.
// The engine tolerates both; Validate guards configuration entry points.
func (s WeeklySchedule) Validate() error {
	for day, periods := range s {
		for i, p := range periods {
			if !p.Valid() {
				return fmt.Errorf("%s: invalid period %s", WeekdayName(day), p)
			}
			for _, q := range periods[:i] {
				if p.Start < q.End && q.Start < p.End {
					return fmt.Errorf("%s: period %s overlaps %s", WeekdayName(day), p, q)
				}
			}
		}
	}
	return nil
}
