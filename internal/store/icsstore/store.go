// Package icsstore serves agenda records straight from ICS subscriptions.
package icsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/store"
)

// Store keeps the last parsed VEVENTs of every source and expands them per
// query. Reload refreshes the parsed set; Fetch never touches the network.
type Store struct {
	fetcher    *ics.Fetcher
	sources    []ics.Source
	selfEmails []string
	loc        *time.Location

	mu       sync.RWMutex
	events   []ics.ParsedEvent
	loaded   bool
	loadedAt time.Time
}

// New creates a store over sources. loc is the display zone used to turn
// instants into days.
func New(fetcher *ics.Fetcher, sources []ics.Source, selfEmails []string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		fetcher:    fetcher,
		sources:    sources,
		selfEmails: selfEmails,
		loc:        loc,
	}
}

// Reload fetches and parses every source. Sources that fail keep their
// previously parsed events; the error reports which ones failed.
func (s *Store) Reload(ctx context.Context) error {
	if len(s.sources) == 0 {
		return store.ErrStoreUnavailable
	}

	results, fetchErrs := s.fetcher.FetchAll(ctx, s.sources)
	fresh := make(map[string][]ics.ParsedEvent, len(results))
	var errs []error
	errs = append(errs, fetchErrs...)
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body, s.selfEmails)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", res.Source.ID, err))
			continue
		}
		fresh[res.Source.ID] = events
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([]ics.ParsedEvent, 0, len(s.events))
	for _, src := range s.sources {
		if events, ok := fresh[src.ID]; ok {
			merged = append(merged, events...)
			continue
		}
		for _, ev := range s.events {
			if ev.Source.ID == src.ID {
				merged = append(merged, ev)
			}
		}
	}
	s.events = merged
	if len(fresh) > 0 {
		s.loaded = true
		s.loadedAt = time.Now()
	}
	appLog.Info("ics store reloaded", "sources", len(s.sources), "ok", len(fresh), "events", len(merged))
	return errors.Join(errs...)
}

// Fetch implements store.RecordStore.
func (s *Store) Fetch(ctx context.Context, q store.Query) ([]model.EventRecord, error) {
	s.mu.RLock()
	events, loaded := s.events, s.loaded
	s.mu.RUnlock()

	if len(s.sources) == 0 || !loaded {
		return nil, store.ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs, err := ics.ExpandDays(events, q.StartDay, q.EndDay, s.loc)
	if err != nil {
		return nil, err
	}
	return store.Filter(recs, q), nil
}

// LoadedAt is when a reload last produced events.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
