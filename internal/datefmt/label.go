package datefmt

import (
	"fmt"
	"time"
)

// Short renders s as "HH:MM" when it falls on the same calendar day as now,
// and as "DD.MM.YY" otherwise.
func Short(s string, now time.Time) string {
	ts := Parse(s, now.Location())
	if !ts.Parsed() {
		return s
	}
	if sameDay(ts.Time, now) {
		return ts.Time.Format("15:04")
	}
	return ts.Time.Format("02.01.06")
}

// Localized renders s as "HH:MM" for today, "day month" (genitive) within
// the current year, and "month year" (nominative) for older dates.
func Localized(s string, now time.Time, loc Locale) string {
	ts := Parse(s, now.Location())
	if !ts.Parsed() {
		return s
	}
	t := ts.Time
	if sameDay(t, now) {
		return t.Format("15:04")
	}
	names := loc.names()
	if t.Year() == now.Year() {
		return fmt.Sprintf("%d %s", t.Day(), names.genitive[t.Month()-1])
	}
	return fmt.Sprintf("%s %d", names.nominative[t.Month()-1], t.Year())
}

// Day renders t as "DD.MM.YYYY".
func Day(t time.Time) string {
	return t.Format("02.01.2006")
}

// Range renders "start - end", or only start when end is the zero time.
func Range(start, end time.Time) string {
	if end.IsZero() {
		return Day(start)
	}
	return Day(start) + " - " + Day(end)
}
