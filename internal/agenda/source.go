package agenda

import (
	"context"

	"agendacal/internal/model"
	"agendacal/internal/store"
)

// Result is the outcome of one fetch.
type Result struct {
	Records []model.EventRecord
	Err     error
}

// Source starts fetches for the window. done must be invoked exactly once,
// on the goroutine that owns the window.
type Source interface {
	Start(ctx context.Context, q store.Query, done func(Result))
}

// Executor runs closures on the owner goroutine. Loop implements it.
type Executor interface {
	Post(fn func())
}

// Async runs each fetch against st on its own goroutine and delivers the
// result through exec.
func Async(st store.RecordStore, exec Executor) Source {
	return &asyncSource{store: st, exec: exec}
}

type asyncSource struct {
	store store.RecordStore
	exec  Executor
}

func (s *asyncSource) Start(ctx context.Context, q store.Query, done func(Result)) {
	go func() {
		recs, err := s.store.Fetch(ctx, q)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		s.exec.Post(func() {
			done(Result{Records: recs, Err: err})
		})
	}()
}

// Inline fetches synchronously and completes before Start returns. It suits
// one-shot tools where blocking the caller is fine.
func Inline(st store.RecordStore) Source {
	return inlineSource{store: st}
}

type inlineSource struct {
	store store.RecordStore
}

func (s inlineSource) Start(ctx context.Context, q store.Query, done func(Result)) {
	recs, err := s.store.Fetch(ctx, q)
	done(Result{Records: recs, Err: err})
}
