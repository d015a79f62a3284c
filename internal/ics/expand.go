package ics

import (
	"errors"
	"hash/fnv"
	"time"

	"github.com/teambition/rrule-go"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// idBits keeps record IDs small enough that InstanceID<<20 still fits
	// in an int64.
	idBits = 43
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Occurrence is one concrete instance of a ParsedEvent.
type Occurrence struct {
	SourceID   string
	UID        string
	Summary    string
	Location   string
	Color      string
	AllDay     bool
	Start      time.Time
	End        time.Time
	SelfStatus model.AttendeeStatus
	// InstanceKey is the occurrence start, stable across reloads.
	InstanceKey string
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences takes a list of ParsedEvent (typically for one or more ICS
// sources) and expands them into concrete occurrences overlapping the given
// time range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - All-day semantics
//   - STATUS:CANCELLED instances, which are dropped
//
// All resulting occurrences are converted into the configured display
// timezone (ExpandConfig.DisplayLocation).
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by source and UID.
	type key struct{ source, uid string }
	var order []key
	baseByUID := make(map[key][]ParsedEvent)
	overridesByUID := make(map[key][]ParsedEvent)

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[k] = append(overridesByUID[k], ev)
			continue
		}
		if _, seen := baseByUID[k]; !seen {
			order = append(order, k)
		}
		baseByUID[k] = append(baseByUID[k], ev)
	}

	for _, k := range order {
		ov := overridesByUID[k]
		truncated := false

		for _, ev := range baseByUID[k] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	return result, nil
}

// ExpandDays expands events over the julian days [start, end] in loc and
// converts every occurrence into an EventRecord.
func ExpandDays(events []ParsedEvent, start, end model.Day, loc *time.Location) ([]model.EventRecord, error) {
	if loc == nil {
		loc = time.Local
	}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      start.Midnight(loc),
		RangeEnd:        (end + 1).Midnight(loc).Add(-time.Nanosecond),
	})
	if err != nil {
		return nil, err
	}
	recs := make([]model.EventRecord, 0, len(res.Occurrences))
	for _, occ := range res.Occurrences {
		rec := occ.Record(loc)
		if !rec.Spans(start, end) {
			continue
		}
		recs = append(recs, rec)
	}
	model.SortRecords(recs)
	return recs, nil
}

// expandEvent expands a single ParsedEvent (base event) with its possible
// overrides within the given configuration, returning occurrences and whether
// the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	baseStart := ev.Start
	baseEnd := ev.End

	// Apply any override whose RECURRENCE-ID matches this start.
	if o, ok := findOverrideForStart(overrides, baseStart); ok {
		baseStart = o.Start
		baseEnd = o.End
		ev = o
	}

	if ev.Cancelled || !timeRangesOverlap(baseStart, baseEnd, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []Occurrence{makeOccurrence(ev, baseStart, baseEnd, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	out := make([]Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Occurrences that started before the range but are still running count
	// too, so look back by the event duration.
	dur := ev.End.Sub(ev.Start)
	if ev.AllDay && dur <= 0 {
		dur = 24 * time.Hour
	}
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.Add(dur)
		} else {
			occEnd = occStart.Add(dur)
		}

		baseStart, baseEnd, baseEv := occStart, occEnd, ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseStart, baseEnd, baseEv = o.Start, o.End, o
		}
		if baseEv.Cancelled || !timeRangesOverlap(baseStart, baseEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}

		occ := makeOccurrence(baseEv, baseStart, baseEnd, cfg.DisplayLocation)
		// Overrides keep the key of the slot they replace.
		occ.InstanceKey = occStart.UTC().Format(time.RFC3339)
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given baseStart with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, baseStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(baseStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into an Occurrence normalized into displayLoc.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) Occurrence {
	occ := Occurrence{
		SourceID:   ev.Source.ID,
		UID:        ev.UID,
		Summary:    ev.Summary,
		Location:   ev.Location,
		Color:      ev.Color,
		AllDay:     ev.AllDay,
		SelfStatus: ev.SelfStatus,
		Start:      start,
		End:        end,
	}
	if !ev.AllDay {
		occ.Start = start.In(displayLoc)
		occ.End = end.In(displayLoc)
	}
	occ.InstanceKey = start.UTC().Format(time.RFC3339)
	return occ
}

// Record converts the occurrence into the day/minute form the agenda uses.
// All-day occurrences keep their calendar dates; timed ones are placed in
// loc. Ends are exclusive, so an end at midnight closes the previous day.
func (o Occurrence) Record(loc *time.Location) model.EventRecord {
	rec := model.EventRecord{
		ID:            hashID(o.SourceID, o.UID),
		InstanceID:    hashID(o.SourceID, o.UID, o.InstanceKey),
		CalendarColor: o.Color,
		Title:         o.Summary,
		Location:      o.Location,
		AllDay:        o.AllDay,
		Begin:         o.Start,
		End:           o.End,

		SelfAttendeeStatus: o.SelfStatus,
	}

	if o.AllDay {
		rec.StartDay = dateDay(o.Start)
		rec.EndDay = max(dateDay(o.End)-1, rec.StartDay)
		rec.StartMinute, rec.EndMinute = 0, model.MinutesPerDay
		return rec
	}

	start, end := o.Start.In(loc), o.End.In(loc)
	rec.StartDay = model.DayIn(start, loc)
	rec.StartMinute = model.MinuteOf(start)
	if !end.After(start) {
		rec.EndDay, rec.EndMinute = rec.StartDay, rec.StartMinute
		return rec
	}
	rec.EndDay = model.DayIn(end, loc)
	rec.EndMinute = model.MinuteOf(end)
	if rec.EndMinute == 0 {
		rec.EndDay--
		rec.EndMinute = model.MinutesPerDay
	}
	return rec
}

// dateDay is the julian day of t's calendar date, ignoring its zone.
func dateDay(t time.Time) model.Day {
	return model.DayOf(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
}

func hashID(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	id := int64(h.Sum64() & (1<<idBits - 1))
	if id == 0 {
		id = 1
	}
	return id
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
