package agenda

import (
	"context"
	"errors"
	"testing"
	"time"

	"agendacal/internal/model"
	"agendacal/internal/store"
)

func TestLoopCallRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLoop(4)
	go l.Run(ctx)

	ran := false
	if err := l.Call(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ran {
		t.Fatal("closure did not run")
	}
}

func TestLoopAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(1)
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Posting after stop must not block, even with the buffer full.
	l.Post(func() {})
	l.Post(func() {})
	if err := l.Call(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type slowStore struct {
	recs []model.EventRecord
}

func (s slowStore) Fetch(ctx context.Context, q store.Query) ([]model.EventRecord, error) {
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return store.Filter(s.recs, q), nil
}

func TestAsyncSourceDeliversOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLoop(16)
	go l.Run(ctx)

	opts := fixedSpan(4)
	var w *Window
	ready := make(chan Change, 8)
	if err := l.Call(ctx, func() {
		w = New(Async(slowStore{recs: daily(90, 120)}, l), opts)
		w.AddListener(ListenerFunc(func(c Change) { ready <- c }))
		w.GoTo(GoToRequest{Day: 100})
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-ready:
		if !c.Reset || c.RowCount != 16 {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never completed")
	}

	var rows int
	if err := l.Call(ctx, func() { rows = w.RowCount() }); err != nil {
		t.Fatal(err)
	}
	if rows != 16 {
		t.Fatalf("expected 16 rows, got %d", rows)
	}
}
