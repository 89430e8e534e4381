// Package calendar expands schedule entries into concrete occurrences and
// exports them as an iCalendar feed.
package calendar

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

var rruleDays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

var icalDays = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// Rule builds the weekly recurrence of e anchored at the midnight of day,
// in day's location.
func Rule(e logic.Entry, day time.Time) (*rrule.RRule, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	days := e.Weekdays.Days()
	by := make([]rrule.Weekday, len(days))
	for i, d := range days {
		by[i] = rruleDays[d]
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   midnight,
		Byweekday: by,
		Byhour:    []int{e.Time.Hour},
		Byminute:  []int{e.Time.Minute},
		Bysecond:  []int{0},
	})
}

// RRuleString is the RFC 5545 RRULE value for e, e.g. "FREQ=WEEKLY;BYDAY=MO,FR".
func RRuleString(e logic.Entry) string {
	days := e.Weekdays.Days()
	codes := make([]string, len(days))
	for i, d := range days {
		codes[i] = icalDays[d]
	}
	return "FREQ=WEEKLY;BYDAY=" + strings.Join(codes, ",")
}

// NextOccurrence returns the first start of e strictly after now.
func NextOccurrence(e logic.Entry, now time.Time) (time.Time, bool) {
	r, err := Rule(e, now)
	if err != nil {
		return time.Time{}, false
	}
	t := r.After(now, false)
	return t, !t.IsZero()
}

// NextRun returns the enabled entry that starts soonest after now. Entries
// starting at the same moment resolve to the earlier one in the slice.
func NextRun(entries []logic.Entry, now time.Time) (logic.Entry, time.Time, bool) {
	var (
		best   logic.Entry
		bestAt time.Time
		found  bool
	)
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		at, ok := NextOccurrence(e, now)
		if !ok {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = e, at, true
		}
	}
	return best, bestAt, found
}

const localStamp = "20060102T150405"

// Feed renders the enabled entries as a VCALENDAR with one weekly
// recurring VEVENT each, written in loc.
func Feed(entries []logic.Entry, loc *time.Location, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//irrigation-scheduler//horarios//PT")
	cal.SetXWRCalName("Irrigação")
	cal.SetXWRTimezone(loc.String())

	tzid := ical.WithTZID(loc.String())
	now = now.In(loc)
	addTimezone(cal, loc, now)

	for _, e := range entries {
		if !e.Enabled || e.Validate() != nil {
			continue
		}
		anchor := now
		if !e.CreatedAt.IsZero() {
			anchor = e.CreatedAt.In(loc)
		}
		start, ok := NextOccurrence(e, anchor.Add(-time.Minute))
		if !ok {
			continue
		}

		ev := cal.AddEvent(e.ID + "@irrigation-scheduler")
		ev.SetDtStampTime(now)
		ev.SetSummary(fmt.Sprintf("Rega %s", e.Time))
		ev.SetDescription(fmt.Sprintf("Duração: %d s; dias: %s", int(e.Duration/time.Second), e.Weekdays))
		ev.SetProperty(ical.ComponentPropertyDtStart, start.Format(localStamp), tzid)
		ev.SetProperty(ical.ComponentPropertyDtEnd, start.Add(e.Duration).Format(localStamp), tzid)
		ev.AddProperty(ical.ComponentPropertyRrule, RRuleString(e))
	}
	return []byte(cal.Serialize())
}

// addTimezone declares loc as a VTIMEZONE so TZID references resolve. The
// offset in force at now is written as a single STANDARD observance.
func addTimezone(cal *ical.Calendar, loc *time.Location, now time.Time) {
	name, offset := now.Zone()
	tz := cal.AddTimezone(loc.String())
	std := tz.AddStandard()
	std.SetProperty(ical.ComponentPropertyDtStart, "19700101T000000")
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), utcOffset(offset))
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), utcOffset(offset))
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
}

// utcOffset formats seconds east of UTC as RFC 5545 "+hhmm".
func utcOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d%02d", sign, seconds/3600, seconds%3600/60)
}
