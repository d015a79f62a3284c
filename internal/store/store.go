// Package store defines the read-only record store the agenda window pulls
// event instances from, plus the filter every backend applies identically.
package store

import (
	"context"
	"errors"
	"strings"

	"agendacal/internal/model"
)

// ErrStoreUnavailable means the backing provider is absent or not permitted
// (no sources configured, database closed). Callers treat the range as
// permanently empty rather than retrying.
var ErrStoreUnavailable = errors.New("record store unavailable")

// Query selects the event instances touching [StartDay, EndDay].
type Query struct {
	StartDay model.Day
	EndDay   model.Day

	// Search, if non-empty, keeps records whose title or location contains
	// it (case-insensitive).
	Search string

	// HideDeclined drops records the viewer declined.
	HideDeclined bool
}

// RecordStore returns records in agenda order (model.Less). Fetch may block;
// cancellation is driven by ctx.
type RecordStore interface {
	Fetch(ctx context.Context, q Query) ([]model.EventRecord, error)
}

// Match reports whether rec satisfies q's day range and filters.
func Match(rec model.EventRecord, q Query) bool {
	if !rec.Spans(q.StartDay, q.EndDay) {
		return false
	}
	if q.HideDeclined && rec.SelfAttendeeStatus == model.StatusDeclined {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(rec.Title), needle) &&
			!strings.Contains(strings.ToLower(rec.Location), needle) {
			return false
		}
	}
	return true
}

// Filter returns the records of recs matching q, sorted into agenda order.
func Filter(recs []model.EventRecord, q Query) []model.EventRecord {
	out := make([]model.EventRecord, 0, len(recs))
	for _, r := range recs {
		if Match(r, q) {
			out = append(out, r)
		}
	}
	model.SortRecords(out)
	return out
}
