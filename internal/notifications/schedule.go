package notifications

import "time"

// ScheduleDelivery returns now if it falls inside waking hours (9 AM – 10 PM)
// in the user's timezone, otherwise the next 9 AM there. Unknown timezones
// are treated as UTC.
func ScheduleDelivery(now time.Time, timezone string) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	local := now.In(loc)
	if isWakingHour(local.Hour()) {
		return local
	}

	day := local
	if local.Hour() >= quietStartHour {
		day = local.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), quietEndHour, 0, 0, 0, loc)
}

func isWakingHour(hour int) bool {
	return hour >= quietEndHour && hour < quietStartHour
}
