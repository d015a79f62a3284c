package agenda

import (
	"fmt"

	"agendacal/internal/model"
)

// QueryKind is the direction a fetch grows the window in.
type QueryKind int

const (
	// QueryOlder fetches the days just before the window.
	QueryOlder QueryKind = iota
	// QueryNewer fetches the days just after the window.
	QueryNewer
	// QueryResetAround drops every chunk and seeds the window around a day.
	QueryResetAround
)

func (k QueryKind) String() string {
	switch k {
	case QueryOlder:
		return "older"
	case QueryNewer:
		return "newer"
	case QueryResetAround:
		return "reset"
	default:
		return fmt.Sprintf("QueryKind(%d)", int(k))
	}
}

// GoToTarget is where the list should land once a fetch completes.
type GoToTarget struct {
	Day model.Day
	// EventID prefers rows of this event; 0 when unknown.
	EventID int64
}

// QuerySpec is one pending range request. Older/Newer specs get their range
// when dispatched, from the window coverage at that moment.
type QuerySpec struct {
	Kind     QueryKind
	StartDay model.Day
	EndDay   model.Day
	Target   *GoToTarget
	Search   string

	planned    bool
	retries    int
	generation uint64
	// token changes on every dispatch, so a completion can be matched to the
	// exact attempt that produced it.
	token uint64
}

func (q *QuerySpec) span() int {
	return int(q.EndDay-q.StartDay) + 1
}

// widen doubles the range, growing in the request's direction.
func (q *QuerySpec) widen() {
	span := q.span()
	switch q.Kind {
	case QueryOlder:
		q.StartDay -= model.Day(span)
	case QueryNewer:
		q.EndDay += model.Day(span)
	case QueryResetAround:
		half := model.Day(max(span/2, 1))
		q.StartDay -= half
		q.EndDay += half
	}
}

func (q *QuerySpec) String() string {
	if !q.planned && q.Kind != QueryResetAround {
		return fmt.Sprintf("%s[unplanned]", q.Kind)
	}
	return fmt.Sprintf("%s[%s..%s]", q.Kind, q.StartDay, q.EndDay)
}
