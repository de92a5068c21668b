package booking

import "time"

// DefaultSlotStride is the distance between consecutive candidate slot starts.
const DefaultSlotStride = 30 * time.Minute

// GenerateSlots returns the candidate slots for a court on date. Slots begin
// at opening time, advance by stride and each last hours.SlotMinutes;
// generation stops once a slot would end after closing time. Candidate slots
// may overlap one another.
func GenerateSlots(courtID int64, date Date, hours OperatingHours, stride time.Duration) []Slot {
	length := hours.SlotDuration()
	if length <= 0 || stride < time.Minute || hours.Closes <= hours.Opens {
		return nil
	}

	var slots []Slot
	for start := hours.Opens; start.Add(length) <= hours.Closes; start = start.Add(stride) {
		slots = append(slots, Slot{
			CourtID:   courtID,
			Date:      date,
			StartTime: start,
			EndTime:   start.Add(length),
		})
	}
	return slots
}

// onGrid reports whether t lies on the stride grid anchored at opening time.
func onGrid(hours OperatingHours, t TimeOfDay, stride time.Duration) bool {
	step := int(stride / time.Minute)
	if step <= 0 {
		return true
	}
	return int(t-hours.Opens)%step == 0
}
