package availability

import (
	"fmt"
	"sort"
	"time"
)

// SlotInfo is a simplified representation for clients.
type SlotInfo struct {
	Start string `json:"start"` // "09:00"
	End   string `json:"end"`   // "09:30"
}

// ToSlotInfo converts slots to "15:04" labels.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start: s.Start.Format("15:04"),
			End:   s.End.Format("15:04"),
		}
	}
	return result
}

// FreeBlocks merges runs of back-to-back slots into one label per run.
func FreeBlocks(slots []Slot) []SlotInfo {
	groups := FindConsecutive(slots)
	blocks := make([]SlotInfo, len(groups))
	for i, g := range groups {
		blocks[i] = SlotInfo{
			Start: g[0].Start.Format("15:04"),
			End:   g[len(g)-1].End.Format("15:04"),
		}
	}
	return blocks
}

// Contains reports whether slots has a slot starting at start and lasting exactly
// duration minutes.
func Contains(slots []Slot, start time.Time, duration int) bool {
	end := start.Add(time.Duration(duration) * time.Minute)
	for _, s := range slots {
		if s.Start.Equal(start) && s.End.Equal(end) {
			return true
		}
	}
	return false
}

// FindConsecutive groups free slots that follow each other without a gap.
func FindConsecutive(slots []Slot) [][]Slot {
	if len(slots) == 0 {
		return nil
	}

	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var groups [][]Slot
	current := []Slot{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start.Equal(current[len(current)-1].End) {
			current = append(current, sorted[i])
		} else {
			groups = append(groups, current)
			current = []Slot{sorted[i]}
		}
	}
	groups = append(groups, current)

	return groups
}

// DurationOptions returns the lengths, in minutes, that can be booked from start by
// joining back-to-back free slots of slotDuration minutes.
func DurationOptions(slots []Slot, start time.Time, slotDuration int) []int {
	startIdx := -1
	for i, s := range slots {
		if s.Start.Equal(start) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil
	}

	count := 1
	for i := startIdx + 1; i < len(slots); i++ {
		if !slots[i].Start.Equal(slots[i-1].End) {
			break
		}
		count++
	}

	options := make([]int, 0, count)
	for i := 1; i <= count; i++ {
		options = append(options, i*slotDuration)
	}
	return options
}

// FormatDuration formats minutes as "45 min", "1h" or "1h 30min".
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dmin", hours, mins)
}
