package agenda

import "agendacal/internal/model"

// ChunkStat describes one loaded chunk.
type ChunkStat struct {
	ID       ChunkID   `json:"id"`
	StartDay model.Day `json:"start_day"`
	EndDay   model.Day `json:"end_day"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Offset   int       `json:"offset"`
	Rows     int       `json:"rows"`
	Skipped  int       `json:"skipped,omitempty"`
}

// Stats is a snapshot of the window state for status pages and logs.
type Stats struct {
	RowCount     int         `json:"row_count"`
	Chunks       []ChunkStat `json:"chunks"`
	Queued       int         `json:"queued"`
	Active       string      `json:"active,omitempty"`
	Loading      bool        `json:"loading"`
	PendingOlder int         `json:"pending_older"`
	PendingNewer int         `json:"pending_newer"`
	EmptyStreak  int         `json:"empty_streak"`
	Unavailable  bool        `json:"unavailable"`
	Generation   uint64      `json:"generation"`
	EventsPerDay float64     `json:"events_per_day"`
	NextSpanDays int         `json:"next_span_days"`
	Search       string      `json:"search,omitempty"`
	HideDeclined bool        `json:"hide_declined"`
	Closed       bool        `json:"closed,omitempty"`
}

// Stats reports the current window state.
func (w *Window) Stats() Stats {
	st := Stats{
		RowCount:     w.totalRows,
		Chunks:       make([]ChunkStat, 0, len(w.chunks)),
		Queued:       w.sched.Len(),
		PendingOlder: w.pendingOlder,
		PendingNewer: w.pendingNewer,
		EmptyStreak:  w.emptyStreak,
		Unavailable:  w.unavailable,
		Generation:   w.generation,
		EventsPerDay: w.density,
		NextSpanDays: w.spanDays(),
		Search:       w.search,
		HideDeclined: w.hideDeclined,
		Closed:       w.closed,
		Loading:      w.resetPending(),
	}
	if a := w.sched.Active(); a != nil {
		st.Active = a.String()
	}
	for _, c := range w.chunks {
		st.Chunks = append(st.Chunks, ChunkStat{
			ID:       c.ID,
			StartDay: c.StartDay,
			EndDay:   c.EndDay,
			Start:    c.StartDay.String(),
			End:      c.EndDay.String(),
			Offset:   c.Offset,
			Rows:     c.RowCount(),
			Skipped:  c.Skipped,
		})
	}
	return st
}
