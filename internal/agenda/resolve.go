package agenda

import (
	"sort"

	"agendacal/internal/model"
)

// Location is a resolved position: a chunk and an index into its rows.
type Location struct {
	Chunk ChunkID
	Index int
}

// RowView is what the presentation layer renders for one position.
type RowView struct {
	Kind     RowKind
	Position int
	Chunk    ChunkID
	Day      model.Day
	// Record is a copy of the event; zero for day headers.
	Record      model.EventRecord
	StartMinute int
	EndMinute   int
	Past        bool
	Today       bool
	// FirstUpcoming marks the header of the first loaded day on or after
	// today.
	FirstUpcoming bool
	// StableID stays the same for the same row across reloads.
	StableID int64
}

// Resolve maps a flat position to its chunk and local row index.
func (w *Window) Resolve(pos int) (Location, error) {
	c, i, err := w.resolve(pos)
	if err != nil {
		return Location{}, err
	}
	return Location{Chunk: c.ID, Index: i}, nil
}

func (w *Window) resolve(pos int) (*Chunk, int, error) {
	if pos < 0 {
		return nil, 0, ErrBeforeWindow
	}
	if pos >= w.totalRows {
		return nil, 0, ErrAfterWindow
	}
	c := w.lastUsed
	if c == nil || !c.contains(pos) {
		i := sort.Search(len(w.chunks), func(i int) bool {
			ch := w.chunks[i]
			return ch.Offset+ch.RowCount() > pos
		})
		if i == len(w.chunks) || !w.chunks[i].contains(pos) {
			return nil, 0, ErrNoChunk
		}
		c = w.chunks[i]
		w.lastUsed = c
	}
	w.lastResolved = c
	w.lastPos = pos
	return c, pos - c.Offset, nil
}

// RowAt returns the row at pos. Reading near either edge queues a fetch
// that grows the window in that direction.
func (w *Window) RowAt(pos int) (RowView, error) {
	c, i, err := w.resolve(pos)
	var view RowView
	if err == nil {
		view = w.view(c, i, pos)
	}
	w.run(func() { w.maybePrefetch(pos) })
	return view, err
}

func (w *Window) maybePrefetch(pos int) {
	if w.closed || w.unavailable || len(w.chunks) == 0 || w.resetPending() {
		return
	}
	boundary := w.opts.PrefetchBoundary
	if pos < boundary && w.pendingOlder == 0 {
		w.requestEdge(QueryOlder, true)
	}
	if pos >= w.totalRows-boundary && w.pendingNewer == 0 {
		w.requestEdge(QueryNewer, true)
	}
}

func (w *Window) view(c *Chunk, i, pos int) RowView {
	row := c.Rows[i]
	today := w.opts.Today()
	v := RowView{
		Kind:        row.Kind,
		Position:    pos,
		Chunk:       c.ID,
		Day:         row.Day,
		StartMinute: row.StartMinute,
		EndMinute:   row.EndMinute,
		Past:        row.Day < today,
		Today:       row.Day == today,
	}
	if row.Kind == RowEvent {
		v.Record = c.Records[row.Record]
		v.StableID = v.Record.InstanceID<<20 | int64(row.Day)&0xFFFFF
	} else {
		v.StableID = int64(row.Day)
		if day, ok := w.firstUpcoming(today); ok && day == row.Day {
			v.FirstUpcoming = true
		}
	}
	return v
}

// firstUpcoming finds the first loaded day with rows on or after today,
// cached until the layout or the date changes.
func (w *Window) firstUpcoming(today model.Day) (model.Day, bool) {
	if w.upcomingLayout == w.layout && w.upcomingToday == today && w.layout != 0 {
		return w.upcomingDay, w.upcomingOK
	}
	w.upcomingLayout, w.upcomingToday = w.layout, today
	w.upcomingDay, w.upcomingOK = 0, false
	for _, c := range w.chunks {
		if c.EndDay < today {
			continue
		}
		for _, r := range c.Rows {
			if r.Kind == RowDayHeader && r.Day >= today {
				w.upcomingDay, w.upcomingOK = r.Day, true
				return r.Day, true
			}
		}
	}
	return 0, false
}

// FindNearest returns the position closest to day, preferring rows of
// eventID when it is non-zero, or -1 when the window has no rows.
func (w *Window) FindNearest(day model.Day, eventID int64) int {
	return w.findNearest(GoToTarget{Day: day, EventID: eventID})
}

func (w *Window) findNearest(t GoToTarget) int {
	if t.EventID != 0 {
		best, bestDist := -1, 0
		for _, c := range w.chunks {
			for i, r := range c.Rows {
				if r.Kind != RowEvent {
					continue
				}
				rec := c.Records[r.Record]
				if rec.InstanceID != t.EventID && rec.ID != t.EventID {
					continue
				}
				if d := r.Day.Distance(t.Day); best < 0 || d < bestDist {
					best, bestDist = c.Offset+i, d
				}
			}
		}
		if best >= 0 {
			return best
		}
	}

	// Nearest day header; a gap resolves to the closer neighbour and ties go
	// to the later day.
	best, bestDist := -1, 0
	for _, c := range w.chunks {
		for i, r := range c.Rows {
			if r.Kind != RowDayHeader {
				continue
			}
			d := r.Day.Distance(t.Day)
			if best < 0 || d < bestDist || (d == bestDist && r.Day > t.Day) {
				best, bestDist = c.Offset+i, d
			}
			if r.Day >= t.Day {
				return best
			}
		}
	}
	return best
}
