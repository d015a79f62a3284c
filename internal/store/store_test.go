package store

import (
	"testing"

	"agendacal/internal/model"
)

func TestMatch(t *testing.T) {
	rec := model.EventRecord{
		Title:    "Team Standup",
		Location: "Room 4",
		StartDay: 100,
		EndDay:   102,
	}
	cases := []struct {
		name string
		q    Query
		want bool
	}{
		{"inside", Query{StartDay: 101, EndDay: 101}, true},
		{"touches end", Query{StartDay: 102, EndDay: 110}, true},
		{"before", Query{StartDay: 90, EndDay: 99}, false},
		{"after", Query{StartDay: 103, EndDay: 120}, false},
		{"search title", Query{StartDay: 100, EndDay: 100, Search: "standup"}, true},
		{"search location", Query{StartDay: 100, EndDay: 100, Search: "ROOM"}, true},
		{"search miss", Query{StartDay: 100, EndDay: 100, Search: "lunch"}, false},
	}
	for _, c := range cases {
		if got := Match(rec, c.q); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMatchHideDeclined(t *testing.T) {
	rec := model.EventRecord{StartDay: 5, EndDay: 5, SelfAttendeeStatus: model.StatusDeclined}
	if !Match(rec, Query{StartDay: 5, EndDay: 5}) {
		t.Error("declined record should match when not hiding declined")
	}
	if Match(rec, Query{StartDay: 5, EndDay: 5, HideDeclined: true}) {
		t.Error("declined record should be hidden")
	}
}

func TestFilterSorts(t *testing.T) {
	recs := []model.EventRecord{
		{Title: "late", StartDay: 9, EndDay: 9},
		{Title: "out", StartDay: 50, EndDay: 50},
		{Title: "early", StartDay: 3, EndDay: 3},
	}
	got := Filter(recs, Query{StartDay: 0, EndDay: 10})
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Title != "early" || got[1].Title != "late" {
		t.Errorf("unexpected order: %s, %s", got[0].Title, got[1].Title)
	}
}
