package agenda

// dispatcher is the window side of the scheduler: it starts the fetch for
// the active spec and answers coverage questions for queued ones.
type dispatcher interface {
	dispatch(spec *QuerySpec)
	covered(spec *QuerySpec) bool
	dropped(spec *QuerySpec)
}

// Scheduler is a single-flight FIFO of range requests. The head of the
// queue is the only spec with a fetch in flight.
type Scheduler struct {
	d         dispatcher
	queue     []*QuerySpec
	active    *QuerySpec
	nextToken uint64
}

func newScheduler(d dispatcher) *Scheduler {
	return &Scheduler{d: d}
}

// Enqueue appends spec and reports whether it became the active fetch.
func (s *Scheduler) Enqueue(spec *QuerySpec) bool {
	s.queue = append(s.queue, spec)
	if s.active != nil {
		return false
	}
	s.activate(spec)
	return true
}

// Active returns the spec currently being fetched, if any.
func (s *Scheduler) Active() *QuerySpec {
	return s.active
}

// Len counts queued specs including the active one.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Pending returns a copy of the queue, head first.
func (s *Scheduler) Pending() []*QuerySpec {
	out := make([]*QuerySpec, len(s.queue))
	copy(out, s.queue)
	return out
}

// Take claims the active spec for a completion carrying token. It returns
// nil for duplicate or superseded completions, so each dispatch is handled
// at most once.
func (s *Scheduler) Take(token uint64) *QuerySpec {
	if s.active == nil || token == 0 || s.active.token != token {
		return nil
	}
	spec := s.active
	spec.token = 0
	return spec
}

// Retry dispatches the active spec again, typically after widening it.
func (s *Scheduler) Retry(spec *QuerySpec) {
	if s.active != spec {
		return
	}
	s.activate(spec)
}

// Finish removes the completed head and dispatches the next spec that is
// still needed, dropping queued specs whose range is already covered.
func (s *Scheduler) Finish(spec *QuerySpec) {
	if len(s.queue) > 0 && s.queue[0] == spec {
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}
	s.active = nil
	s.advance()
}

func (s *Scheduler) advance() {
	for len(s.queue) > 0 {
		next := s.queue[0]
		if next.Kind != QueryResetAround && next.planned && s.d.covered(next) {
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.d.dropped(next)
			continue
		}
		s.activate(next)
		return
	}
}

// Clear drops every queued spec, the active one included, and returns them.
// A late completion for the dropped active spec no longer matches any token.
func (s *Scheduler) Clear() []*QuerySpec {
	out := s.queue
	s.queue = nil
	if s.active != nil {
		s.active.token = 0
	}
	s.active = nil
	return out
}

func (s *Scheduler) activate(spec *QuerySpec) {
	s.nextToken++
	spec.token = s.nextToken
	s.active = spec
	s.d.dispatch(spec)
}
