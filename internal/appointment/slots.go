package appointment

import "sort"

type Slot struct {
	Start     TimeOfDay
	End       TimeOfDay
	Remaining int
}

// FreeSlots walks the window's slot grid and returns starts where a booking of
// duration minutes fits inside the window and still has spare capacity against busy.
// Starts before notBefore are skipped.
func FreeSlots(w AvailabilityWindow, duration int, busy []Appointment, notBefore TimeOfDay) []Slot {
	if duration <= 0 || w.SlotMinutes <= 0 || w.End <= w.Start {
		return nil
	}

	var slots []Slot
	for t := w.Start; t.Add(duration) <= w.End; t = t.Add(w.SlotMinutes) {
		if t < notBefore {
			continue
		}
		end := t.Add(duration)
		taken := 0
		for _, b := range busy {
			if b.Active() && Overlaps(b.StartTime, b.EndTime(), t, end) {
				taken++
			}
		}
		if taken < w.MaxConcurrent {
			slots = append(slots, Slot{Start: t, End: end, Remaining: w.MaxConcurrent - taken})
		}
	}
	return slots
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
}
