package booking

// Overlaps reports whether [s1, e1) and [s2, e2) share an instant. A window
// ending exactly when another starts does not overlap it.
func Overlaps(s1, e1, s2, e2 TimeOfDay) bool {
	return s1 < e2 && s2 < e1
}

// MarkAvailability annotates each slot with whether it is free of the given
// bookings. Cancelled bookings are ignored. The input slice is not modified.
func MarkAvailability(slots []Slot, bookings []Booking) []Slot {
	marked := make([]Slot, len(slots))
	for i, slot := range slots {
		slot.IsAvailable = true
		for _, b := range bookings {
			if b.Status == StatusCancelled {
				continue
			}
			if Overlaps(slot.StartTime, slot.EndTime, b.StartTime, b.EndTime) {
				slot.IsAvailable = false
				break
			}
		}
		marked[i] = slot
	}
	return marked
}

// firstOverlap returns the first non-cancelled booking overlapping the window.
func firstOverlap(bookings []Booking, start, end TimeOfDay) (Booking, bool) {
	for _, b := range bookings {
		if b.Status == StatusCancelled {
			continue
		}
		if Overlaps(start, end, b.StartTime, b.EndTime) {
			return b, true
		}
	}
	return Booking{}, false
}
