package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-06-02 is a Monday.
var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2025, 6, 2, h, m, 0, 0, time.UTC)
}

func period(start, end string) WorkingPeriod {
	return WorkingPeriod{Start: MustParseTimeOfDay(start), End: MustParseTimeOfDay(end)}
}

func mondaySchedule(periods ...WorkingPeriod) WeeklySchedule {
	return WeeklySchedule{time.Monday: periods}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		schedule WeeklySchedule
		duration int
		booked   []Interval
		want     []Slot
	}{
		{
			name:     "one hour period split in two",
			schedule: mondaySchedule(period("09:00", "10:00")),
			duration: 30,
			want: []Slot{
				{Start: at(9, 0), End: at(9, 30)},
				{Start: at(9, 30), End: at(10, 0)},
			},
		},
		{
			name:     "booked second half",
			schedule: mondaySchedule(period("09:00", "10:00")),
			duration: 30,
			booked:   []Interval{{Start: at(9, 30), End: at(10, 0)}},
			want: []Slot{
				{Start: at(9, 0), End: at(9, 30)},
			},
		},
		{
			name:     "period shorter than slot",
			schedule: mondaySchedule(period("09:00", "09:20")),
			duration: 30,
			want:     []Slot{},
		},
		{
			name:     "trailing partial slot discarded",
			schedule: mondaySchedule(period("09:00", "10:10")),
			duration: 30,
			want: []Slot{
				{Start: at(9, 0), End: at(9, 30)},
				{Start: at(9, 30), End: at(10, 0)},
			},
		},
		{
			name:     "grid does not shift around a booking",
			schedule: mondaySchedule(period("09:00", "11:00")),
			duration: 30,
			booked:   []Interval{{Start: at(9, 10), End: at(9, 25)}},
			want: []Slot{
				{Start: at(9, 30), End: at(10, 0)},
				{Start: at(10, 0), End: at(10, 30)},
				{Start: at(10, 30), End: at(11, 0)},
			},
		},
		{
			name:     "booking spanning several candidates",
			schedule: mondaySchedule(period("09:00", "11:00")),
			duration: 30,
			booked:   []Interval{{Start: at(9, 15), End: at(10, 15)}},
			want: []Slot{
				{Start: at(10, 30), End: at(11, 0)},
			},
		},
		{
			name:     "booking outside working hours is ignored",
			schedule: mondaySchedule(period("09:00", "10:00")),
			duration: 30,
			booked:   []Interval{{Start: at(12, 0), End: at(13, 0)}},
			want: []Slot{
				{Start: at(9, 0), End: at(9, 30)},
				{Start: at(9, 30), End: at(10, 0)},
			},
		},
		{
			name:     "period ending at midnight",
			schedule: mondaySchedule(period("23:00", "24:00")),
			duration: 30,
			want: []Slot{
				{Start: at(23, 0), End: at(23, 30)},
				{Start: at(23, 30), End: at(24, 0)},
			},
		},
		{
			name:     "duration longer than the day",
			schedule: mondaySchedule(period("00:00", "24:00")),
			duration: MinutesPerDay + 1,
			want:     []Slot{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.schedule, monday, tt.duration, tt.booked)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeMorningAndAfternoon(t *testing.T) {
	schedule := mondaySchedule(period("08:00", "12:00"), period("14:00", "18:00"))
	booked := []Interval{{Start: at(10, 0), End: at(11, 0)}}

	got, err := Compute(schedule, monday, 60, booked)
	require.NoError(t, err)

	want := []time.Time{at(8, 0), at(9, 0), at(11, 0), at(14, 0), at(15, 0), at(16, 0), at(17, 0)}
	require.Len(t, got, len(want))
	for i, s := range got {
		assert.Equal(t, want[i], s.Start, "slot %d", i)
		assert.Equal(t, want[i].Add(time.Hour), s.End, "slot %d", i)
	}
}

func TestComputePeriodsKeepConfiguredOrder(t *testing.T) {
	schedule := mondaySchedule(period("14:00", "15:00"), period("08:00", "09:00"))

	got, err := Compute(schedule, monday, 60, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, at(14, 0), got[0].Start)
	assert.Equal(t, at(8, 0), got[1].Start)
}

func TestComputeClosedDay(t *testing.T) {
	schedule := WeeklySchedule{
		time.Tuesday: {period("09:00", "17:00")},
		time.Monday:  {},
	}

	got, err := Compute(schedule, monday, 30, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Compute(nil, monday, 30, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestComputeInvalidDuration(t *testing.T) {
	schedule := mondaySchedule(period("09:00", "10:00"))

	for _, d := range []int{0, -1, -30} {
		_, err := Compute(schedule, monday, d, nil)
		require.ErrorIs(t, err, ErrInvalidDuration, "duration %d", d)
	}
}

func TestComputeInvalidDurationOnClosedDay(t *testing.T) {
	_, err := Compute(WeeklySchedule{}, monday, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestComputeDetailedSkipsDegeneratePeriods(t *testing.T) {
	broken := period("12:00", "11:00")
	empty := period("13:00", "13:00")
	schedule := mondaySchedule(period("09:00", "10:00"), broken, empty)

	res, err := ComputeDetailed(schedule, monday, 30, nil)
	require.NoError(t, err)
	assert.Len(t, res.Slots, 2)
	assert.Equal(t, []WorkingPeriod{broken, empty}, res.Skipped)
}

func TestComputeIgnoresTimeOfDayOfDate(t *testing.T) {
	schedule := mondaySchedule(period("09:00", "10:00"))

	midnight, err := Compute(schedule, monday, 30, nil)
	require.NoError(t, err)
	afternoon, err := Compute(schedule, monday.Add(15*time.Hour+17*time.Minute), 30, nil)
	require.NoError(t, err)

	assert.Equal(t, midnight, afternoon)
}

func TestComputeUsesDateLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, loc)

	got, err := Compute(mondaySchedule(period("09:00", "10:00")), date, 60, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, loc), got[0].Start)
	assert.Equal(t, loc, got[0].Start.Location())
}

func TestComputeAdjacentBookingIsNotAConflict(t *testing.T) {
	schedule := mondaySchedule(period("09:00", "11:00"))
	booked := []Interval{{Start: at(9, 30), End: at(10, 0)}}

	got, err := Compute(schedule, monday, 30, booked)
	require.NoError(t, err)

	starts := make([]time.Time, len(got))
	for i, s := range got {
		starts[i] = s.Start
	}
	assert.Contains(t, starts, at(9, 0), "slot ending where the booking starts")
	assert.Contains(t, starts, at(10, 0), "slot starting where the booking ends")
	assert.NotContains(t, starts, at(9, 30))
}

func TestComputeProperties(t *testing.T) {
	schedule := WeeklySchedule{
		time.Monday: {period("07:15", "12:40"), period("13:05", "19:00"), period("20:00", "20:00")},
	}
	booked := []Interval{
		{Start: at(8, 0), End: at(8, 45)},
		{Start: at(10, 50), End: at(11, 5)},
		{Start: at(12, 30), End: at(13, 30)},
		{Start: at(17, 0), End: at(17, 1)},
	}

	for _, d := range []int{5, 10, 15, 20, 25, 30, 45, 50, 60, 90, 120, 333} {
		first, err := Compute(schedule, monday, d, booked)
		require.NoError(t, err)
		again, err := Compute(schedule, monday, d, booked)
		require.NoError(t, err)
		assert.Equal(t, first, again, "duration %d must be idempotent", d)

		for _, s := range first {
			assert.Equal(t, time.Duration(d)*time.Minute, s.End.Sub(s.Start))
			for _, b := range booked {
				assert.False(t, s.Interval().Overlaps(b), "slot %v overlaps booking %v", s, b)
			}
			inside := false
			for _, p := range schedule[time.Monday] {
				if !s.Start.Before(p.Start.On(monday)) && !s.End.After(p.End.On(monday)) {
					inside = true
				}
			}
			assert.True(t, inside, "slot %v outside working hours", s)
		}
	}
}

func TestComputeUnsortedAndOverlappingBookings(t *testing.T) {
	schedule := mondaySchedule(period("08:00", "12:00"), period("14:00", "16:00"))
	sorted := []Interval{
		{Start: at(8, 30), End: at(9, 15)},
		{Start: at(9, 0), End: at(9, 45)}, // overlaps the previous booking
		{Start: at(11, 0), End: at(11, 30)},
		{Start: at(14, 30), End: at(15, 0)},
	}
	reversed := []Interval{sorted[3], sorted[2], sorted[1], sorted[0]}
	shuffled := []Interval{sorted[2], sorted[0], sorted[3], sorted[1]}

	want, err := Compute(schedule, monday, 30, sorted)
	require.NoError(t, err)
	assert.Equal(t, []Slot{
		{Start: at(8, 0), End: at(8, 30)},
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(10, 30), End: at(11, 0)},
		{Start: at(11, 30), End: at(12, 0)},
		{Start: at(14, 0), End: at(14, 30)},
		{Start: at(15, 0), End: at(15, 30)},
		{Start: at(15, 30), End: at(16, 0)},
	}, want)

	for name, booked := range map[string][]Interval{"reversed": reversed, "shuffled": shuffled} {
		got, err := Compute(schedule, monday, 30, booked)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestComputeDoesNotMutateBooked(t *testing.T) {
	booked := []Interval{{Start: at(9, 30), End: at(10, 0)}}
	snapshot := append([]Interval(nil), booked...)

	_, err := Compute(mondaySchedule(period("09:00", "10:00")), monday, 30, booked)
	require.NoError(t, err)
	assert.Equal(t, snapshot, booked)
}

func TestResolveDuration(t *testing.T) {
	assert.Equal(t, 30, ResolveDuration(0, 30))
	assert.Equal(t, 45, ResolveDuration(45, 30))
	assert.Equal(t, -5, ResolveDuration(-5, 30))
}
