package model

import (
	"sort"
	"strings"
	"time"
)

// AttendeeStatus is the viewer's own response to an event invitation.
type AttendeeStatus int

const (
	StatusNone AttendeeStatus = iota
	StatusAccepted
	StatusDeclined
	StatusInvited
	StatusTentative
)

func (s AttendeeStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusInvited:
		return "invited"
	case StatusTentative:
		return "tentative"
	default:
		return "none"
	}
}

// ParseAttendeeStatus maps an iCalendar PARTSTAT value to an AttendeeStatus.
func ParseAttendeeStatus(partstat string) AttendeeStatus {
	switch strings.ToUpper(strings.TrimSpace(partstat)) {
	case "ACCEPTED":
		return StatusAccepted
	case "DECLINED":
		return StatusDeclined
	case "NEEDS-ACTION":
		return StatusInvited
	case "TENTATIVE":
		return StatusTentative
	default:
		return StatusNone
	}
}

// MinutesPerDay bounds StartMinute/EndMinute.
const MinutesPerDay = 24 * 60

// EventRecord is one concrete event instance as returned by a record store,
// already normalised into the display timezone. Records are immutable once
// fetched.
type EventRecord struct {
	// ID identifies the logical event (stable across its recurrences).
	ID int64
	// InstanceID identifies this particular occurrence.
	InstanceID int64

	CalendarColor string
	Title         string
	Location      string

	// StartDay/EndDay are inclusive julian days.
	StartDay Day
	EndDay   Day

	// StartMinute is the minute of StartDay the event begins at, EndMinute
	// the minute of EndDay it ends at. All-day events use 0 and MinutesPerDay.
	StartMinute int
	EndMinute   int

	AllDay             bool
	SelfAttendeeStatus AttendeeStatus

	Begin time.Time
	End   time.Time
}

// Valid reports whether the record can be placed on the agenda. An end day
// before the start day, or minutes outside a day, make a record malformed.
func (r EventRecord) Valid() bool {
	if r.EndDay < r.StartDay {
		return false
	}
	if r.StartMinute < 0 || r.StartMinute > MinutesPerDay {
		return false
	}
	if r.EndMinute < 0 || r.EndMinute > MinutesPerDay {
		return false
	}
	return true
}

// Spans reports whether the record touches any day of [start, end].
func (r EventRecord) Spans(start, end Day) bool {
	return r.StartDay <= end && r.EndDay >= start
}

// Less is the agenda order: start day, all-day first, start minute, title.
func Less(a, b EventRecord) bool {
	if a.StartDay != b.StartDay {
		return a.StartDay < b.StartDay
	}
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	if a.StartMinute != b.StartMinute {
		return a.StartMinute < b.StartMinute
	}
	return a.Title < b.Title
}

// SortRecords sorts records into agenda order in place.
func SortRecords(recs []EventRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return Less(recs[i], recs[j]) })
}

// RecordsSorted reports whether recs is already in agenda order.
func RecordsSorted(recs []EventRecord) bool {
	return sort.SliceIsSorted(recs, func(i, j int) bool { return Less(recs[i], recs[j]) })
}
