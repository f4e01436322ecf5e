package timeutil

import (
	"fmt"
	"time"
)

// Rome is the civil timezone every wall-clock value in the system refers to.
// Storage is always UTC; conversion happens at the edges.
var Rome *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		// Fixed CET fallback for environments without tzdata. DST is lost.
		loc = time.FixedZone("CET", 3600)
	}
	Rome = loc
}

// ItalianToUTC converts an Italian civil date ("DD-MM-YYYY" or "YYYY-MM-DD")
// plus a wall-clock time ("HH:mm") to the corresponding UTC instant.
func ItalianToUTC(date, hm string) (time.Time, error) {
	day, month, year, err := parseCivilDate(date)
	if err != nil {
		return time.Time{}, err
	}
	var hour, minute int
	if _, err := fmt.Sscanf(hm, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected HH:mm", hm)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time %q: out of range", hm)
	}
	local := time.Date(year, time.Month(month), day, hour, minute, 0, 0, Rome)
	return local.UTC(), nil
}

// UTCToItalian returns the civil (date, time) pair a UTC instant reads as in Rome.
func UTCToItalian(t time.Time) (string, string) {
	local := t.In(Rome)
	return local.Format("02-01-2006"), local.Format("15:04")
}

// NowItalianStamp renders the current Rome wall clock the way dynamic variables
// expect it, e.g. "Lunedì 17-03-2025 10:45".
func NowItalianStamp(now time.Time) string {
	local := now.In(Rome)
	return fmt.Sprintf("%s %s %s", ItalianWeekday(local.Weekday()), local.Format("02-01-2006"), local.Format("15:04"))
}

// ItalianWeekday maps a weekday to its Italian name.
func ItalianWeekday(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "Lunedì"
	case time.Tuesday:
		return "Martedì"
	case time.Wednesday:
		return "Mercoledì"
	case time.Thursday:
		return "Giovedì"
	case time.Friday:
		return "Venerdì"
	case time.Saturday:
		return "Sabato"
	default:
		return "Domenica"
	}
}

// IsOperatingHours reports whether the Rome wall clock is inside the dialing
// window: 08:00 inclusive to 20:00 exclusive.
func IsOperatingHours(now time.Time) bool {
	h := now.In(Rome).Hour()
	return h >= 8 && h < 20
}

// IsWithinItalianBusiness reports whether a UTC instant falls inside Italian
// business hours: 09:00 inclusive to 20:00 exclusive, Rome time.
func IsWithinItalianBusiness(t time.Time) bool {
	h := t.In(Rome).Hour()
	return h >= 9 && h < 20
}

// NextValidWorkday advances one calendar day and then skips Saturday and
// Sunday. Weekend detection is UTC-based, which can disagree with Rome for up
// to two hours around midnight; retry times downstream depend on this exact
// behavior, so it is kept as is.
func NextValidWorkday(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for next.UTC().Weekday() == time.Saturday || next.UTC().Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextRomeClock returns the first future instant after `now` at which the Rome
// wall clock reads hour:minute, stepped onto a workday.
func NextRomeClock(now time.Time, hour, minute int) time.Time {
	local := now.In(Rome)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, Rome)
	if !candidate.After(local) {
		candidate = NextValidWorkday(candidate)
	}
	for candidate.UTC().Weekday() == time.Saturday || candidate.UTC().Weekday() == time.Sunday {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}

// TomorrowRomeAt returns tomorrow's Rome calendar day at hour:minute as a UTC
// instant.
func TomorrowRomeAt(now time.Time, hour, minute int) time.Time {
	local := now.In(Rome).AddDate(0, 0, 1)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, Rome).UTC()
}

// RomeDayAt pins a Rome calendar day (taken from d) to hour:minute as UTC.
func RomeDayAt(d time.Time, hour, minute int) time.Time {
	local := d.In(Rome)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, Rome).UTC()
}

// ParseFlexibleDateTime accepts "DD-MM-YYYY HH:mm" or "YYYY-MM-DD HH:mm" in
// Rome civil time and returns the UTC instant.
func ParseFlexibleDateTime(s string) (time.Time, error) {
	var datePart, timePart string
	if _, err := fmt.Sscanf(s, "%s %s", &datePart, &timePart); err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q: expected \"DD-MM-YYYY HH:mm\" or \"YYYY-MM-DD HH:mm\"", s)
	}
	return ItalianToUTC(datePart, timePart)
}

func parseCivilDate(date string) (day, month, year int, err error) {
	if len(date) == 10 && date[4] == '-' {
		if _, err = fmt.Sscanf(date, "%4d-%2d-%2d", &year, &month, &day); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid date %q", date)
		}
	} else {
		if _, err = fmt.Sscanf(date, "%2d-%2d-%4d", &day, &month, &year); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid date %q", date)
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, 0, fmt.Errorf("invalid date %q: out of range", date)
	}
	return day, month, year, nil
}
