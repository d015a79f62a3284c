package agenda

import (
	"testing"

	"agendacal/internal/model"
)

type fakeDispatcher struct {
	dispatched []*QuerySpec
	drops      []*QuerySpec
	coverStart model.Day
	coverEnd   model.Day
}

func (d *fakeDispatcher) dispatch(spec *QuerySpec) {
	d.dispatched = append(d.dispatched, spec)
}

func (d *fakeDispatcher) covered(spec *QuerySpec) bool {
	return d.coverStart <= spec.StartDay && spec.EndDay <= d.coverEnd
}

func (d *fakeDispatcher) dropped(spec *QuerySpec) {
	d.drops = append(d.drops, spec)
}

func TestSchedulerSingleFlight(t *testing.T) {
	d := &fakeDispatcher{}
	s := newScheduler(d)
	a := &QuerySpec{Kind: QueryNewer, StartDay: 1, EndDay: 5, planned: true}
	b := &QuerySpec{Kind: QueryOlder, StartDay: -5, EndDay: 0, planned: true}

	if !s.Enqueue(a) {
		t.Fatal("first spec should become active")
	}
	if s.Enqueue(b) {
		t.Fatal("second spec should only be queued")
	}
	if len(d.dispatched) != 1 || s.Active() != a {
		t.Fatalf("expected only the first spec dispatched, got %d", len(d.dispatched))
	}

	got := s.Take(a.token)
	if got != a {
		t.Fatal("completion for the active token should claim it")
	}
	s.Finish(got)
	if s.Active() != b || len(d.dispatched) != 2 {
		t.Fatalf("second spec should be dispatched after the first finished")
	}
}

func TestSchedulerTakeRejectsDuplicates(t *testing.T) {
	d := &fakeDispatcher{}
	s := newScheduler(d)
	a := &QuerySpec{Kind: QueryResetAround, StartDay: 10, EndDay: 16, planned: true}
	s.Enqueue(a)
	token := a.token

	if s.Take(token+1) != nil {
		t.Error("foreign token must not claim the active spec")
	}
	if s.Take(token) != a {
		t.Fatal("matching token should claim the active spec")
	}
	if s.Take(token) != nil {
		t.Error("duplicate completion must be ignored")
	}

	// A retry hands out a fresh token; the old one stays dead.
	s.Retry(a)
	if a.token == token {
		t.Fatal("retry should issue a new token")
	}
	if s.Take(token) != nil {
		t.Error("completion from the first attempt must be ignored after retry")
	}
	if s.Take(a.token) != a {
		t.Error("completion from the retry should be accepted")
	}
}

func TestSchedulerDropsCoveredSpecs(t *testing.T) {
	d := &fakeDispatcher{coverStart: 0, coverEnd: 20}
	s := newScheduler(d)
	active := &QuerySpec{Kind: QueryNewer, StartDay: 21, EndDay: 30, planned: true}
	covered := &QuerySpec{Kind: QueryNewer, StartDay: 5, EndDay: 9, planned: true}
	unplanned := &QuerySpec{Kind: QueryOlder}
	reset := &QuerySpec{Kind: QueryResetAround, StartDay: 2, EndDay: 8, planned: true}

	s.Enqueue(active)
	s.Enqueue(covered)
	s.Enqueue(reset)
	s.Enqueue(unplanned)

	s.Finish(s.Take(active.token))
	if len(d.drops) != 1 || d.drops[0] != covered {
		t.Fatalf("expected the covered spec to be dropped, got %v", d.drops)
	}
	if s.Active() != reset {
		t.Fatalf("resets are never dropped, active is %v", s.Active())
	}

	s.Finish(s.Take(reset.token))
	if s.Active() != unplanned {
		t.Fatalf("unplanned specs are dispatched, active is %v", s.Active())
	}
}

func TestSchedulerClear(t *testing.T) {
	d := &fakeDispatcher{}
	s := newScheduler(d)
	a := &QuerySpec{Kind: QueryNewer, StartDay: 1, EndDay: 2, planned: true}
	b := &QuerySpec{Kind: QueryOlder, StartDay: -2, EndDay: 0, planned: true}
	s.Enqueue(a)
	s.Enqueue(b)
	token := a.token

	if dropped := s.Clear(); len(dropped) != 2 {
		t.Fatalf("expected 2 dropped specs, got %d", len(dropped))
	}
	if s.Active() != nil || s.Len() != 0 {
		t.Fatal("scheduler should be empty after Clear")
	}
	if s.Take(token) != nil {
		t.Error("late completion after Clear must be ignored")
	}
}

func TestQuerySpecWiden(t *testing.T) {
	cases := []struct {
		kind       QueryKind
		start, end model.Day
		wantStart  model.Day
		wantEnd    model.Day
	}{
		{QueryNewer, 108, 111, 108, 115},
		{QueryOlder, 96, 99, 92, 99},
		{QueryResetAround, 50, 56, 47, 59},
		{QueryResetAround, 50, 50, 49, 51},
	}
	for _, c := range cases {
		q := &QuerySpec{Kind: c.kind, StartDay: c.start, EndDay: c.end}
		q.widen()
		if q.StartDay != c.wantStart || q.EndDay != c.wantEnd {
			t.Errorf("%s %d..%d: got %d..%d, want %d..%d",
				c.kind, c.start, c.end, q.StartDay, q.EndDay, c.wantStart, c.wantEnd)
		}
	}
}
