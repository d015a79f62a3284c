package agenda

import (
	"context"
	"errors"
	"math"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/store"
)

// densityAlpha weights the newest events-per-day sample.
const densityAlpha = 0.5

func (w *Window) requestEdge(kind QueryKind, plan bool) {
	spec := &QuerySpec{Kind: kind, Search: w.search, generation: w.generation}
	if plan {
		w.planEdge(spec)
	}
	if kind == QueryOlder {
		w.pendingOlder++
	} else {
		w.pendingNewer++
	}
	w.sched.Enqueue(spec)
}

// planEdge places an edge spec right outside the current coverage.
func (w *Window) planEdge(spec *QuerySpec) {
	first, last, ok := w.Coverage()
	if !ok {
		spec.planned = false
		return
	}
	span := model.Day(w.spanDays())
	switch spec.Kind {
	case QueryOlder:
		spec.EndDay = first - 1
		spec.StartDay = spec.EndDay - span + 1
	case QueryNewer:
		spec.StartDay = last + 1
		spec.EndDay = spec.StartDay + span - 1
	}
	spec.planned = true
}

// spanDays sizes the next edge fetch so it lands near IdealRows.
func (w *Window) spanDays() int {
	if !w.densitySet || w.density <= 0 {
		return w.opts.MaxSpanDays
	}
	days := int(math.Ceil(float64(w.opts.IdealRows) / w.density))
	return min(max(days, w.opts.MinSpanDays), w.opts.MaxSpanDays)
}

func (w *Window) updateDensity() {
	first, last, ok := w.Coverage()
	if !ok {
		return
	}
	sample := float64(w.totalRows) / float64(last-first+1)
	if !w.densitySet {
		w.density, w.densitySet = sample, true
		return
	}
	w.density = densityAlpha*sample + (1-densityAlpha)*w.density
}

func (w *Window) resetAround(t GoToTarget) {
	w.generation++
	w.cancelActive()
	w.sched.Clear()
	w.pendingOlder, w.pendingNewer = 0, 0
	w.unavailable = false
	w.anchor, w.anchored = t.Day, true

	target := t
	spec := &QuerySpec{
		Kind:       QueryResetAround,
		StartDay:   t.Day,
		EndDay:     t.Day + model.Day(w.opts.ResetSpanDays) - 1,
		Target:     &target,
		Search:     w.search,
		planned:    true,
		generation: w.generation,
	}
	appLog.Debug("agenda reset", "day", t.Day, "search", w.search, "generation", w.generation)
	w.sched.Enqueue(spec)
	if !w.opts.SkipResetPrefetch {
		w.requestEdge(QueryOlder, false)
		w.requestEdge(QueryNewer, false)
	}
}

// dispatch implements dispatcher.
func (w *Window) dispatch(spec *QuerySpec) {
	if spec.Kind != QueryResetAround {
		if w.unavailable || len(w.chunks) == 0 {
			// Nothing to grow from, or the store is gone: finish without
			// asking it.
			token := spec.token
			w.later(func() {
				if got := w.sched.Take(token); got != nil {
					w.finish(got)
				}
			})
			return
		}
		if spec.retries == 0 {
			w.planEdge(spec)
		}
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.cancelFetch = cancel
	q := store.Query{
		StartDay:     spec.StartDay,
		EndDay:       spec.EndDay,
		Search:       spec.Search,
		HideDeclined: w.hideDeclined,
	}
	token, gen := spec.token, spec.generation
	appLog.Debug("agenda fetch", "spec", spec.String(), "retry", spec.retries, "token", token)
	w.source.Start(ctx, q, func(res Result) {
		w.run(func() { w.complete(token, gen, res) })
	})
}

// covered implements dispatcher.
func (w *Window) covered(spec *QuerySpec) bool {
	return w.coversRange(spec.StartDay, spec.EndDay)
}

// dropped implements dispatcher.
func (w *Window) dropped(spec *QuerySpec) {
	appLog.Debug("agenda drop covered request", "spec", spec.String())
	w.release(spec)
}

func (w *Window) later(fn func()) {
	if w.busy {
		w.deferred = append(w.deferred, fn)
		return
	}
	w.run(fn)
}

func (w *Window) complete(token, gen uint64, res Result) {
	if w.closed {
		return
	}
	if gen != w.generation {
		appLog.Debug("agenda drop stale completion", "generation", gen, "current", w.generation)
		return
	}
	spec := w.sched.Take(token)
	if spec == nil {
		appLog.Debug("agenda drop duplicate completion", "token", token)
		return
	}
	w.cancelActive()

	if errors.Is(res.Err, store.ErrStoreUnavailable) {
		appLog.Warn("agenda store unavailable, treating range as empty", "spec", spec.String())
		w.unavailable = true
		w.giveUp(spec)
		return
	}
	if res.Err != nil {
		appLog.Error("agenda fetch failed", res.Err, "spec", spec.String())
	}

	var c *Chunk
	if res.Err == nil && len(res.Records) > 0 {
		c = newChunk(w.nextChunkID(), spec.StartDay, spec.EndDay, res.Records)
		if c.Skipped > 0 {
			appLog.Warn("agenda skipped malformed records", "spec", spec.String(), "skipped", c.Skipped)
		}
		if c.RowCount() == 0 {
			c = nil
		}
	}

	if c == nil {
		w.emptyStreak++
		if spec.retries < w.opts.RetryBudget {
			spec.retries++
			spec.widen()
			appLog.Debug("agenda widen empty range", "spec", spec.String(), "retry", spec.retries)
			w.sched.Retry(spec)
			return
		}
		w.giveUp(spec)
		return
	}

	w.emptyStreak = 0
	w.merge(spec, c)
	w.finish(spec)
}

func (w *Window) nextChunkID() ChunkID {
	w.nextID++
	return w.nextID
}

func (w *Window) finish(spec *QuerySpec) {
	w.release(spec)
	w.sched.Finish(spec)
}

func (w *Window) release(spec *QuerySpec) {
	switch spec.Kind {
	case QueryOlder:
		if w.pendingOlder > 0 {
			w.pendingOlder--
		}
	case QueryNewer:
		if w.pendingNewer > 0 {
			w.pendingNewer--
		}
	}
}

func (w *Window) cancelActive() {
	if w.cancelFetch != nil {
		w.cancelFetch()
		w.cancelFetch = nil
	}
}

// giveUp ends a spec that produced no rows: its range is absorbed so the
// same empty days are not fetched again.
func (w *Window) giveUp(spec *QuerySpec) {
	w.absorb(spec)
	w.finish(spec)
}

func (w *Window) absorb(spec *QuerySpec) {
	if spec.Kind == QueryResetAround {
		// The reset still replaces the window; the fetched range is known to
		// be empty.
		w.chunks = []*Chunk{newChunk(w.nextChunkID(), spec.StartDay, spec.EndDay, nil)}
		w.lastResolved = nil
		w.recomputeOffsets()
		appLog.Debug("agenda reset found nothing", "spec", spec.String())
		w.notify(Change{Reset: true, ScrollTo: -1})
		return
	}
	if len(w.chunks) == 0 || !spec.planned {
		return
	}
	switch spec.Kind {
	case QueryOlder:
		front := w.chunks[0]
		if spec.StartDay < front.StartDay && spec.EndDay >= front.StartDay-1 {
			appLog.Debug("agenda absorb empty range", "chunk", front.String(), "start", spec.StartDay)
			front.StartDay = spec.StartDay
		}
	case QueryNewer:
		back := w.chunks[len(w.chunks)-1]
		if spec.EndDay > back.EndDay && spec.StartDay <= back.EndDay+1 {
			appLog.Debug("agenda absorb empty range", "chunk", back.String(), "end", spec.EndDay)
			back.EndDay = spec.EndDay
		}
	}
}

func (w *Window) merge(spec *QuerySpec, c *Chunk) {
	shift := 0
	switch spec.Kind {
	case QueryResetAround:
		w.chunks = []*Chunk{c}
		w.lastResolved = nil
		w.lastPos = -1
	case QueryNewer:
		if back := w.chunks[len(w.chunks)-1]; c.StartDay <= back.EndDay {
			if c.EndDay <= back.EndDay {
				return
			}
			c = newChunk(c.ID, back.EndDay+1, c.EndDay, c.Records)
		}
		w.chunks = append(w.chunks, c)
	case QueryOlder:
		if front := w.chunks[0]; c.EndDay >= front.StartDay {
			if c.StartDay >= front.StartDay {
				return
			}
			c = newChunk(c.ID, c.StartDay, front.StartDay-1, c.Records)
		}
		w.chunks = append([]*Chunk{c}, w.chunks...)
		shift = c.RowCount()
		if w.lastPos >= 0 {
			w.lastPos += shift
		}
	}
	w.unavailable = false
	w.recomputeOffsets()
	shift -= w.evict(spec.Kind)
	w.updateDensity()

	change := Change{Shift: shift, ScrollTo: -1}
	if spec.Kind == QueryResetAround {
		change = Change{Reset: true, ScrollTo: -1}
		if spec.Target != nil {
			change.ScrollTo = w.findNearest(*spec.Target)
		}
	}
	appLog.Debug("agenda merged chunk", "chunk", c.String(), "chunks", len(w.chunks), "rows", w.totalRows)
	w.notify(change)
}

// evict drops chunks over the cap from the end opposite to the growth
// direction and returns how many rows were removed in front of the rest.
func (w *Window) evict(kind QueryKind) int {
	removedFront := 0
	evicted := false
	for len(w.chunks) > w.opts.MaxChunks {
		front := kind == QueryNewer
		victim := w.chunks[len(w.chunks)-1]
		if front {
			victim = w.chunks[0]
		}
		if victim == w.lastResolved {
			if len(w.chunks) > 2*w.opts.MaxChunks && !w.overCap {
				w.overCap = true
				appLog.Warn("agenda eviction keeps hitting the visible chunk",
					"chunks", len(w.chunks), "max_chunks", w.opts.MaxChunks, "chunk", victim.String())
			} else {
				appLog.Debug("agenda eviction skipped, chunk is visible", "chunk", victim.String())
			}
			break
		}
		if front {
			w.chunks[0] = nil
			w.chunks = w.chunks[1:]
			removedFront += victim.RowCount()
			w.lastPos -= victim.RowCount()
		} else {
			w.chunks[len(w.chunks)-1] = nil
			w.chunks = w.chunks[:len(w.chunks)-1]
		}
		evicted = true
		appLog.Debug("agenda evicted chunk", "chunk", victim.String())
	}
	if evicted {
		w.recomputeOffsets()
	}
	if len(w.chunks) <= w.opts.MaxChunks {
		w.overCap = false
	}
	return removedFront
}

func (w *Window) recomputeOffsets() {
	total := 0
	for _, c := range w.chunks {
		c.Offset = total
		total += c.RowCount()
	}
	w.totalRows = total
	w.lastUsed = nil
	w.layout++
}
