// Package agenda keeps a bounded, incrementally loaded window over an
// unbounded calendar and exposes it as a flat list of day headers and event
// rows.
//
// A Window is owned by one goroutine. Every method must be called from it,
// and fetch completions are delivered back to it by the Source (see Async
// and Loop).
package agenda

import (
	"context"
	"time"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// Options tunes growth, eviction and retry behaviour.
type Options struct {
	// MaxChunks is the eviction cap.
	MaxChunks int
	// IdealRows is the row count each edge fetch aims for.
	IdealRows int
	// MinSpanDays and MaxSpanDays clamp the adaptive fetch span.
	MinSpanDays int
	MaxSpanDays int
	// ResetSpanDays is the initial range of a reset, starting at the target day.
	ResetSpanDays int
	// PrefetchBoundary is how close to an edge a read must be to fetch more.
	PrefetchBoundary int
	// RetryBudget is how many times an empty fetch is widened before its
	// range is absorbed.
	RetryBudget int
	// SkipResetPrefetch disables the older/newer requests queued behind
	// every reset.
	SkipResetPrefetch bool
	// HideDeclined is the initial declined filter.
	HideDeclined bool
	// Location is the display zone; nil means time.Local.
	Location *time.Location
	// Today overrides the clock, mostly for tests.
	Today func() model.Day
}

// DefaultOptions returns the tuning used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxChunks:        5,
		IdealRows:        50,
		MinSpanDays:      7,
		MaxSpanDays:      60,
		ResetSpanDays:    7,
		PrefetchBoundary: 1,
		RetryBudget:      1,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.MaxChunks < 1 {
		o.MaxChunks = def.MaxChunks
	}
	if o.IdealRows < 1 {
		o.IdealRows = def.IdealRows
	}
	if o.MinSpanDays < 1 {
		o.MinSpanDays = def.MinSpanDays
	}
	if o.MaxSpanDays < o.MinSpanDays {
		o.MaxSpanDays = max(def.MaxSpanDays, o.MinSpanDays)
	}
	if o.ResetSpanDays < 1 {
		o.ResetSpanDays = o.MinSpanDays
	}
	if o.PrefetchBoundary < 1 {
		o.PrefetchBoundary = def.PrefetchBoundary
	}
	if o.RetryBudget < 0 {
		o.RetryBudget = 0
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Today == nil {
		loc := o.Location
		o.Today = func() model.Day { return model.DayIn(time.Now(), loc) }
	}
}

// Change describes how the flat list moved after a merge, eviction or goTo.
type Change struct {
	RowCount int
	// Shift is the number of rows inserted (positive) or removed (negative)
	// in front of every previously visible row. Add it to a saved position.
	Shift int
	// ScrollTo is the position the list should jump to, or -1.
	ScrollTo int
	// Reset means every previous position is meaningless.
	Reset bool
}

// Listener receives Changes once the window is back in a consistent state.
type Listener interface {
	WindowChanged(c Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(c Change)

func (f ListenerFunc) WindowChanged(c Change) { f(c) }

// Window is the agenda window manager: a deque of chunks with cached
// offsets, edge prefetch, empty-range widening and directional eviction.
type Window struct {
	opts      Options
	source    Source
	sched     *Scheduler
	listeners []Listener

	chunks    []*Chunk
	totalRows int
	nextID    ChunkID
	// lastUsed speeds up sequential reads; nil whenever offsets change.
	lastUsed *Chunk
	// lastResolved holds the last read position and is never evicted.
	lastResolved *Chunk
	lastPos      int
	layout       uint64

	anchor       model.Day
	anchored     bool
	search       string
	hideDeclined bool

	generation   uint64
	pendingOlder int
	pendingNewer int
	emptyStreak  int
	density      float64
	densitySet   bool
	unavailable  bool
	closed       bool
	// overCap is set once eviction has fallen behind by MaxChunks chunks
	// and cleared when the deque is back under the cap.
	overCap bool

	ctx         context.Context
	stop        context.CancelFunc
	cancelFetch context.CancelFunc

	busy     bool
	deferred []func()
	pending  Change
	changed  bool

	upcomingLayout uint64
	upcomingToday  model.Day
	upcomingDay    model.Day
	upcomingOK     bool
}

// New creates an empty window. Nothing is fetched until GoTo or Refresh.
func New(src Source, opts Options) *Window {
	opts.normalize()
	ctx, stop := context.WithCancel(context.Background())
	w := &Window{
		opts:         opts,
		source:       src,
		hideDeclined: opts.HideDeclined,
		lastPos:      -1,
		ctx:          ctx,
		stop:         stop,
		pending:      Change{ScrollTo: -1},
	}
	w.sched = newScheduler(w)
	return w
}

// AddListener registers l for change notifications.
func (w *Window) AddListener(l Listener) {
	w.listeners = append(w.listeners, l)
}

// RowCount is the number of rows across every chunk.
func (w *Window) RowCount() int {
	return w.totalRows
}

// Search is the active search filter.
func (w *Window) Search() string {
	return w.search
}

// HideDeclined reports whether declined events are filtered out.
func (w *Window) HideDeclined() bool {
	return w.hideDeclined
}

// Today is the current day in the display zone.
func (w *Window) Today() model.Day {
	return w.opts.Today()
}

// Location is the display zone.
func (w *Window) Location() *time.Location {
	return w.opts.Location
}

// Chunks returns the current chunk list, oldest first. Callers must not
// modify the chunks.
func (w *Window) Chunks() []*Chunk {
	out := make([]*Chunk, len(w.chunks))
	copy(out, w.chunks)
	return out
}

// Coverage returns the first and last day the window knows about.
func (w *Window) Coverage() (start, end model.Day, ok bool) {
	if len(w.chunks) == 0 {
		return 0, 0, false
	}
	return w.chunks[0].StartDay, w.chunks[len(w.chunks)-1].EndDay, true
}

// GoToRequest asks the window to show a day.
type GoToRequest struct {
	Day model.Day
	// EventID, when non-zero, prefers a row of that event.
	EventID int64
	// Search replaces the search filter when non-nil.
	Search *string
	// Forced reloads even when the day is already loaded.
	Forced bool
}

// GoTo scrolls to req.Day when it is loaded, and otherwise discards the
// window and reloads around it.
func (w *Window) GoTo(req GoToRequest) {
	w.run(func() {
		if w.closed {
			return
		}
		searchChanged := req.Search != nil && *req.Search != w.search
		if searchChanged {
			w.search = *req.Search
		}
		w.anchor, w.anchored = req.Day, true
		target := GoToTarget{Day: req.Day, EventID: req.EventID}

		if !req.Forced && !searchChanged && w.coversDay(req.Day) {
			if pos := w.findNearest(target); pos >= 0 {
				w.notify(Change{ScrollTo: pos})
			}
			return
		}
		w.resetAround(target)
	})
}

// Refresh reloads around the row the user last looked at. Without forced,
// an already loaded window is left alone.
func (w *Window) Refresh(forced bool) {
	w.run(func() {
		if w.closed {
			return
		}
		target := w.refreshTarget()
		w.anchor, w.anchored = target.Day, true
		if !forced && w.coversDay(target.Day) {
			return
		}
		w.resetAround(target)
	})
}

// SetHideDeclined changes the declined filter and reloads when it changed.
func (w *Window) SetHideDeclined(on bool) {
	w.run(func() {
		if w.closed || on == w.hideDeclined {
			return
		}
		w.hideDeclined = on
		w.resetAround(w.refreshTarget())
	})
}

// Close cancels any fetch in flight and ignores every later completion.
func (w *Window) Close() {
	w.run(func() {
		if w.closed {
			return
		}
		w.closed = true
		w.generation++
		w.cancelActive()
		w.sched.Clear()
		w.pendingOlder, w.pendingNewer = 0, 0
		w.stop()
	})
}

func (w *Window) refreshTarget() GoToTarget {
	if w.lastResolved != nil && w.lastResolved.contains(w.lastPos) {
		row := w.lastResolved.Rows[w.lastPos-w.lastResolved.Offset]
		t := GoToTarget{Day: row.Day}
		if row.Record >= 0 {
			t.EventID = w.lastResolved.Records[row.Record].InstanceID
		}
		return t
	}
	if w.anchored {
		return GoToTarget{Day: w.anchor}
	}
	return GoToTarget{Day: w.opts.Today()}
}

func (w *Window) coversDay(d model.Day) bool {
	if w.resetPending() {
		return false
	}
	start, end, ok := w.Coverage()
	return ok && start <= d && d <= end
}

func (w *Window) coversRange(start, end model.Day) bool {
	first, last, ok := w.Coverage()
	return ok && first <= start && end <= last
}

func (w *Window) resetPending() bool {
	for _, spec := range w.sched.queue {
		if spec.Kind == QueryResetAround {
			return true
		}
	}
	return false
}

// run executes fn as the single critical section over chunks and queue.
// Calls arriving while one is active (a source completing synchronously, for
// instance) are queued and run before the section ends. Listeners are told
// about changes only after that.
func (w *Window) run(fn func()) {
	if w.busy {
		w.deferred = append(w.deferred, fn)
		return
	}
	w.busy = true
	func() {
		defer func() { w.busy = false }()
		fn()
		for len(w.deferred) > 0 {
			next := w.deferred[0]
			w.deferred[0] = nil
			w.deferred = w.deferred[1:]
			next()
		}
	}()
	w.flush()
}

func (w *Window) notify(c Change) {
	w.pending.Shift += c.Shift
	if w.pending.ScrollTo >= 0 {
		w.pending.ScrollTo = max(w.pending.ScrollTo+c.Shift, 0)
	}
	if c.Reset {
		w.pending.Reset = true
		w.pending.Shift = 0
	}
	if c.ScrollTo >= 0 {
		w.pending.ScrollTo = c.ScrollTo
	}
	w.changed = true
}

func (w *Window) flush() {
	if !w.changed {
		return
	}
	c := w.pending
	c.RowCount = w.totalRows
	w.pending = Change{ScrollTo: -1}
	w.changed = false
	appLog.Debug("agenda window changed",
		"rows", c.RowCount, "shift", c.Shift, "scroll_to", c.ScrollTo, "reset", c.Reset)
	for _, l := range w.listeners {
		l.WindowChanged(c)
	}
}
