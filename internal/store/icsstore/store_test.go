package icsstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agendacal/internal/ics"
	"agendacal/internal/model"
	"agendacal/internal/store"
)

const calendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//agendacal//test//EN
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20250101T000000Z
DTSTART:20250303T090000Z
DTEND:20250303T091500Z
RRULE:FREQ=DAILY;COUNT=5
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:party@test
DTSTAMP:20250101T000000Z
DTSTART:20250305T180000Z
DTEND:20250305T220000Z
SUMMARY:Party
ATTENDEE;PARTSTAT=DECLINED:mailto:me@example.com
END:VEVENT
END:VCALENDAR
`

func writeCalendar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cal.ics")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(calendar, "\n", "\r\n")), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func day(t *testing.T, s string) model.Day {
	t.Helper()
	d, err := model.ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFetchBeforeReloadIsUnavailable(t *testing.T) {
	s := New(ics.NewFetcher(t.TempDir()), []ics.Source{{ID: "a", URL: writeCalendar(t)}}, nil, time.UTC)
	_, err := s.Fetch(context.Background(), store.Query{StartDay: 0, EndDay: 1})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestNoSourcesIsUnavailable(t *testing.T) {
	s := New(ics.NewFetcher(t.TempDir()), nil, nil, time.UTC)
	if err := s.Reload(context.Background()); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestReloadAndFetch(t *testing.T) {
	src := ics.Source{ID: "work", URL: writeCalendar(t), Color: "#336699"}
	s := New(ics.NewFetcher(t.TempDir()), []ics.Source{src}, []string{"me@example.com"}, time.UTC)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	q := store.Query{StartDay: day(t, "2025-03-01"), EndDay: day(t, "2025-03-31")}
	recs, err := s.Fetch(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 6 {
		t.Fatalf("expected 5 standups and a party, got %d", len(recs))
	}
	if recs[0].CalendarColor != "#336699" {
		t.Errorf("source color not applied: %q", recs[0].CalendarColor)
	}

	q.HideDeclined = true
	recs, err = s.Fetch(context.Background(), q)
	if err != nil || len(recs) != 5 {
		t.Fatalf("declined party should be hidden, got %d (%v)", len(recs), err)
	}

	q.Search = "party"
	q.HideDeclined = false
	recs, err = s.Fetch(context.Background(), q)
	if err != nil || len(recs) != 1 {
		t.Fatalf("search should find the party, got %d (%v)", len(recs), err)
	}
}

func TestReloadKeepsEventsOfFailingSource(t *testing.T) {
	path := writeCalendar(t)
	s := New(ics.NewFetcher(t.TempDir()), []ics.Source{{ID: "work", URL: path}}, nil, time.UTC)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(context.Background()); err == nil {
		t.Fatal("expected an error for the missing file")
	}
	recs, err := s.Fetch(context.Background(), store.Query{StartDay: day(t, "2025-03-03"), EndDay: day(t, "2025-03-03")})
	if err != nil || len(recs) != 1 {
		t.Fatalf("previous events should still be served, got %d (%v)", len(recs), err)
	}
}

func TestReloadForbiddenFeedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s := New(ics.NewFetcher(t.TempDir()), []ics.Source{{ID: "shared", URL: srv.URL + "/cal.ics?token=x"}}, nil, time.UTC)
	if err := s.Reload(context.Background()); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Reload: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.Fetch(context.Background(), store.Query{StartDay: 0, EndDay: 1}); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Fetch: expected ErrStoreUnavailable, got %v", err)
	}
}
