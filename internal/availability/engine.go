// Package availability computes the free, bookable time slots of a doctor for a day.
//
// The engine is a pure function of its inputs: the doctor's weekly working hours, the
// target date, the slot length and the intervals already booked that day. It reads no
// storage and holds no state, so it is safe to call from any number of goroutines.
package availability

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDuration is returned when the requested slot duration is not a positive
// number of minutes.
var ErrInvalidDuration = errors.New("slot duration must be a positive number of minutes")

// Slot is a candidate appointment time [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Interval returns the slot as a half-open interval.
func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Result holds the free slots of a day and the working periods that were skipped
// because they are degenerate (start >= end).
type Result struct {
	Slots   []Slot
	Skipped []WorkingPeriod
}

// ResolveDuration returns requested when it is set, otherwise fallback.
func ResolveDuration(requested, fallback int) int {
	if requested != 0 {
		return requested
	}
	return fallback
}

// Compute returns the free slots of slotDuration minutes for the weekday of date.
//
// Each working period gets its own grid anchored at the period start. Candidates that
// would run past the period end are discarded, candidates overlapping any booked
// interval are dropped, and the cursor always advances by one slot. A closed day yields
// an empty list.
func Compute(schedule WeeklySchedule, date time.Time, slotDuration int, booked []Interval) ([]Slot, error) {
	res, err := ComputeDetailed(schedule, date, slotDuration, booked)
	if err != nil {
		return nil, err
	}
	return res.Slots, nil
}

// ComputeDetailed is Compute that also reports skipped degenerate periods.
func ComputeDetailed(schedule WeeklySchedule, date time.Time, slotDuration int, booked []Interval) (Result, error) {
	if slotDuration <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, slotDuration)
	}

	res := Result{Slots: make([]Slot, 0)}

	periods := schedule.PeriodsFor(date.Weekday())
	if len(periods) == 0 {
		return res, nil
	}

	step := time.Duration(slotDuration) * time.Minute
	for _, period := range periods {
		if !period.Valid() {
			res.Skipped = append(res.Skipped, period)
			continue
		}
		if slotDuration > period.Minutes() {
			continue
		}
		res.Slots = appendPeriodSlots(res.Slots, period, date, step, booked)
	}

	return res, nil
}

func appendPeriodSlots(slots []Slot, period WorkingPeriod, date time.Time, step time.Duration, booked []Interval) []Slot {
	periodStart := period.Start.On(date)
	periodEnd := period.End.On(date)

	for cursor := periodStart; !cursor.Add(step).After(periodEnd); cursor = cursor.Add(step) {
		candidate := Slot{Start: cursor, End: cursor.Add(step)}
		if conflicts(candidate, booked) {
			continue
		}
		slots = append(slots, candidate)
	}
	return slots
}

func conflicts(slot Slot, booked []Interval) bool {
	for _, b := range booked {
		if isOverlapping(slot.Start, slot.End, b.Start, b.End) {
			return true
		}
	}
	return false
}
