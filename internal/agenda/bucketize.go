package agenda

import "agendacal/internal/model"

// RowKind tags a Row as a day header or an event entry.
type RowKind uint8

const (
	RowDayHeader RowKind = iota
	RowEvent
)

func (k RowKind) String() string {
	if k == RowDayHeader {
		return "day"
	}
	return "event"
}

// Row is one line of the flattened agenda. Record indexes the owning
// chunk's record slice and is -1 for day headers. StartMinute/EndMinute are
// the part of Day the event occupies (0..MinutesPerDay).
type Row struct {
	Kind        RowKind
	Day         model.Day
	Record      int
	StartMinute int
	EndMinute   int
}

// spanning is a record still active past the day it was last emitted on.
type spanning struct {
	record int
	endDay model.Day
}

// Bucketize lays out records (in agenda order) over [rangeStart, rangeEnd].
// Every record produces one event row per day it covers within the range,
// and each day with at least one row gets a header in front of its rows.
// Records that started earlier are carried forward day by day, ahead of the
// records starting that day. Malformed records are skipped and counted.
func Bucketize(records []model.EventRecord, rangeStart, rangeEnd model.Day) (rows []Row, skipped int) {
	if rangeEnd < rangeStart {
		return nil, 0
	}

	b := bucketizer{
		records: records,
		rows:    make([]Row, 0, len(records)*2),
		cur:     rangeStart - 1,
		header:  rangeStart - 1,
	}

	for i, rec := range records {
		if !rec.Valid() {
			skipped++
			continue
		}
		if !rec.Spans(rangeStart, rangeEnd) {
			continue
		}

		start := max(rec.StartDay, rangeStart)
		end := min(rec.EndDay, rangeEnd)
		// Unsorted input would move backwards; keep the row on the current
		// day instead of corrupting day order.
		start = max(start, b.cur)

		b.advance(start)
		b.emit(i, start)
		if end > start {
			b.live = append(b.live, spanning{record: i, endDay: end})
		}
	}

	// Drain multi-day records past the last starting record.
	b.advance(rangeEnd)
	return b.rows, skipped
}

type bucketizer struct {
	records []model.EventRecord
	rows    []Row
	live    []spanning
	// cur is the last day whose carried rows were emitted.
	cur model.Day
	// header is the last day a header was emitted for.
	header model.Day
}

// advance replays carried records for every day in (cur, to].
func (b *bucketizer) advance(to model.Day) {
	for d := b.cur + 1; d <= to; d++ {
		if len(b.live) == 0 {
			// Nothing spans the gap.
			b.cur = to
			return
		}
		kept := b.live[:0]
		for _, s := range b.live {
			if s.endDay < d {
				continue
			}
			b.emit(s.record, d)
			if s.endDay > d {
				kept = append(kept, s)
			}
		}
		b.live = kept
		b.cur = d
	}
}

func (b *bucketizer) emit(record int, day model.Day) {
	if b.header != day {
		b.rows = append(b.rows, Row{Kind: RowDayHeader, Day: day, Record: -1})
		b.header = day
	}
	rec := b.records[record]
	startMin, endMin := 0, model.MinutesPerDay
	if !rec.AllDay {
		if rec.StartDay == day {
			startMin = rec.StartMinute
		}
		if rec.EndDay == day {
			endMin = rec.EndMinute
		}
	}
	b.rows = append(b.rows, Row{
		Kind:        RowEvent,
		Day:         day,
		Record:      record,
		StartMinute: startMin,
		EndMinute:   endMin,
	})
}
