// Package logic contains the pure scheduling core: the weekday/time model,
// the schedule matcher and the watering session state machine.
// This package has NO external dependencies (no store, HTTP, MQTT or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Weekday is a closed enumeration of the seven days, Monday first.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// AllWeekdays lists the days in canonical order.
var AllWeekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// weekdayLabels are the canonical wire labels used by the dashboard and device.
var weekdayLabels = [...]string{"Seg", "Ter", "Qua", "Qui", "Sex", "Sab", "Dom"}

// weekdayAliases maps every accepted spelling (lowercased) to a weekday.
var weekdayAliases = map[string]Weekday{
	"seg": Monday, "segunda": Monday, "mon": Monday, "monday": Monday,
	"ter": Tuesday, "terca": Tuesday, "terça": Tuesday, "tue": Tuesday, "tuesday": Tuesday,
	"qua": Wednesday, "quarta": Wednesday, "wed": Wednesday, "wednesday": Wednesday,
	"qui": Thursday, "quinta": Thursday, "thu": Thursday, "thursday": Thursday,
	"sex": Friday, "sexta": Friday, "fri": Friday, "friday": Friday,
	"sab": Saturday, "sáb": Saturday, "sabado": Saturday, "sábado": Saturday, "sat": Saturday, "saturday": Saturday,
	"dom": Sunday, "domingo": Sunday, "sun": Sunday, "sunday": Sunday,
}

// String returns the canonical label ("Seg".."Dom").
func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return "Weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return weekdayLabels[d]
}

// Valid reports whether d is one of the seven days.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// ParseWeekday converts a label into a Weekday. Portuguese and English
// abbreviations and full names are accepted, case-insensitively.
func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// WeekdayOf maps a time.Weekday (Sunday=0) onto the Monday-first enumeration.
func WeekdayOf(w time.Weekday) Weekday {
	return Weekday((int(w) + 6) % 7)
}

// TimeWeekday is the inverse of WeekdayOf.
func (d Weekday) TimeWeekday() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// WeekdaySet is a set of weekdays stored as a bitmask.
type WeekdaySet uint8

// NewWeekdaySet builds a set; duplicates are ignored.
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d.Valid() {
			s |= 1 << uint(d)
		}
	}
	return s
}

// ParseWeekdaySet parses a comma-joined label list such as "Seg,Sex".
// An empty list is an error.
func ParseWeekdaySet(s string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseWeekday(part)
		if err != nil {
			return 0, err
		}
		set |= NewWeekdaySet(d)
	}
	if set.Empty() {
		return 0, errors.New("weekday set is empty")
	}
	return set, nil
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d Weekday) bool {
	return d.Valid() && s&(1<<uint(d)) != 0
}

// Empty reports whether the set has no days.
func (s WeekdaySet) Empty() bool {
	return s&0x7f == 0
}

// Days returns the members in canonical order.
func (s WeekdaySet) Days() []Weekday {
	var out []Weekday
	for _, d := range AllWeekdays {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String returns the comma-joined canonical labels, e.g. "Seg,Sex".
func (s WeekdaySet) String() string {
	days := s.Days()
	labels := make([]string, len(days))
	for i, d := range days {
		labels[i] = d.String()
	}
	return strings.Join(labels, ",")
}

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h). Single-digit hours are accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: out of range", s)
	}
	return t, nil
}

// TimeOfDayOf truncates t to its minute in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Valid reports whether the time is within 00:00..23:59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// String returns "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Entry is a recurring schedule rule.
type Entry struct {
	ID        string
	OwnerID   string
	Time      TimeOfDay
	Duration  time.Duration
	Weekdays  WeekdaySet
	Enabled   bool
	CreatedAt time.Time
}

// Validate reports the first reason the entry is malformed, or nil.
func (e Entry) Validate() error {
	if !e.Time.Valid() {
		return fmt.Errorf("entry %s: invalid time %s", e.ID, e.Time)
	}
	if e.Duration <= 0 {
		return fmt.Errorf("entry %s: non-positive duration %v", e.ID, e.Duration)
	}
	if e.Weekdays.Empty() {
		return fmt.Errorf("entry %s: empty weekday set", e.ID)
	}
	return nil
}

// SortByTime orders entries by time of day, keeping creation order for ties.
func SortByTime(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Minutes() < entries[j].Time.Minutes()
	})
}

// State is the controller state.
type State string

const (
	StateIdle   State = "IDLE"
	StateActive State = "ACTIVE"
)

// EventType represents a session transition to be published.
type EventType string

const (
	EventWateringStart EventType = "WATERING_START"
	EventWateringStop  EventType = "WATERING_STOP"
)

// Event represents a session transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	EntryID   string
	EntryTime TimeOfDay
	Duration  time.Duration
}

// Session is the derived watering session. The zero value is idle with no history.
type Session struct {
	Active      bool
	EntryID     string
	EntryTime   TimeOfDay
	Duration    time.Duration
	StartedAt   time.Time
	EndsAt      time.Time
	CompletedAt time.Time
	// Completed is true once at least one session has run to completion
	// and no newer session has started.
	Completed bool
}

// Remaining returns the time left in the session at now, or 0 when idle.
func (s Session) Remaining(now time.Time) time.Duration {
	if !s.Active || !now.Before(s.EndsAt) {
		return 0
	}
	return s.EndsAt.Sub(now)
}

// Counts tracks transitions since startup.
type Counts struct {
	Started    int
	Completed  int
	Suppressed int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
	Session   Session
}

// Clock returns the current moment. The run loop, the tracker and the web
// handlers share one Clock so every reader sees the same civil zone.
type Clock func() time.Time

// ZonedClock returns a Clock reading the wall clock in loc.
func ZonedClock(loc *time.Location) Clock {
	return func() time.Time { return time.Now().In(loc) }
}
