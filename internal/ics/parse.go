package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	// Color is the event COLOR, falling back to the source color.
	Color string

	Start   time.Time
	End     time.Time
	AllDay  bool
	StartTZ string
	EndTZ   string

	Cancelled bool
	// SelfStatus is the PARTSTAT of the attendee matching one of the
	// configured self addresses.
	SelfStatus model.AttendeeStatus

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
//
// selfEmails lists the addresses whose ATTENDEE PARTSTAT becomes SelfStatus.
func ParseICS(src Source, body []byte, selfEmails []string) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	self := make(map[string]bool, len(selfEmails))
	for _, e := range selfEmails {
		self[strings.ToLower(strings.TrimSpace(e))] = true
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, self)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, self map[string]bool) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src
	out.Color = src.Color

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty("COLOR"); p != nil && p.Value != "" {
		out.Color = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if vs := dtStartProp.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			allDay = true
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
		if tzs := dtStartProp.ICalParameters["TZID"]; len(tzs) > 0 {
			out.StartTZ = tzs[0]
		}
	}
	out.AllDay = allDay

	// A missing DTEND means a one-day event for dates and an instant
	// otherwise.
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else if allDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}
	if dtEndProp := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEndProp != nil {
		if tzs := dtEndProp.ICalParameters["TZID"]; len(tzs) > 0 {
			out.EndTZ = tzs[0]
		}
	}

	out.SelfStatus = selfStatus(ve, self)

	// RRULE is kept raw; expansion happens in expand.go.
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times, each with a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := firstParam(p.ICalParameters, "TZID")
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzid, start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		tzid := firstParam(ridProp.ICalParameters, "TZID")
		if t, err := parseICSTime(ridProp.Value, tzid, start.Location()); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// selfStatus reads PARTSTAT of the first attendee that is one of the self
// addresses. An organizer without a matching attendee has accepted.
func selfStatus(ve *ical.VEvent, self map[string]bool) model.AttendeeStatus {
	if len(self) == 0 {
		return model.StatusNone
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if !self[mailAddress(p.Value)] {
			continue
		}
		return model.ParseAttendeeStatus(firstParam(p.ICalParameters, "PARTSTAT"))
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil && self[mailAddress(p.Value)] {
		return model.StatusAccepted
	}
	return model.StatusNone
}

func mailAddress(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.ToLower(v)
}

func firstParam(params map[string][]string, key string) string {
	if vs := params[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime parses a DATE or DATE-TIME value for EXDATE/RECURRENCE-ID.
// Floating values use tzid when it names a known zone, otherwise fallback.
func parseICSTime(v, tzid string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := fallback
	if loc == nil {
		loc = time.Local
	}
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
