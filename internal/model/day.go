package model

import "time"

// Day is a julian day number: a count of days that ignores months and years,
// so day ranges can be compared and subtracted directly.
type Day int

// EpochDay is the julian day of 1970-01-01.
const EpochDay Day = 2440588

const secondsPerDay = 24 * 60 * 60

// DayOf returns the julian day t falls on in t's own location.
func DayOf(t time.Time) Day {
	_, offset := t.Zone()
	secs := t.Unix() + int64(offset)
	days := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		days--
	}
	return EpochDay + Day(days)
}

// DayIn returns the julian day t falls on in loc.
func DayIn(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	return DayOf(t.In(loc))
}

// MinuteOf returns the minute of the day t falls on in t's own location.
func MinuteOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Midnight returns local midnight of d in loc.
func (d Day) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, dd := time.Unix(int64(d-EpochDay)*secondsPerDay, 0).UTC().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// ParseDay parses a YYYY-MM-DD date into a julian day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, err
	}
	return DayOf(t), nil
}

// String formats d as YYYY-MM-DD.
func (d Day) String() string {
	return d.Midnight(time.UTC).Format(time.DateOnly)
}

// Distance returns |d - o|.
func (d Day) Distance(o Day) int {
	if d > o {
		return int(d - o)
	}
	return int(o - d)
}
