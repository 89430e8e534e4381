package logic

import "time"

// Match returns the first entry that fires at now, if any.
//
// An entry fires when it is enabled, well-formed, its weekday set contains
// now's weekday and its time of day equals now truncated to the minute.
// now is interpreted in its own location; callers convert to the configured
// zone first. Entries are consulted in slice order and the first hit wins.
func Match(now time.Time, entries []Entry) (Entry, bool) {
	tod := TimeOfDayOf(now)
	day := WeekdayOf(now.Weekday())
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		if e.Validate() != nil {
			continue
		}
		if e.Time == tod && e.Weekdays.Has(day) {
			return e, true
		}
	}
	return Entry{}, false
}
