package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServicePollPushesAndPublishes(t *testing.T) {
	src := NewStaticSource("static", Snapshot{Mid: 100, Timestamp: 1000})
	svc := NewService(src, NewHistory(10), nil, time.Second, nil)
	ch := svc.Publisher().Subscribe()

	snap, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "static" {
		t.Fatalf("expected source tag, got %q", snap.Source)
	}
	if svc.History().Len() != 1 {
		t.Fatalf("expected history length 1")
	}
	select {
	case got := <-ch:
		if got.Mid != 100 {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	default:
		t.Fatalf("expected snapshot published")
	}
}

func TestServicePollErrors(t *testing.T) {
	src := NewStaticSource("static", Snapshot{})
	svc := NewService(src, nil, nil, 0, nil)
	if _, err := svc.Poll(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	src.Set(Snapshot{Mid: 100, Timestamp: 2000}, nil)
	if _, err := svc.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.Set(Snapshot{Mid: 100, Timestamp: 1000}, nil)
	if _, err := svc.Poll(context.Background()); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestServiceStaleness(t *testing.T) {
	src := NewStaticSource("static", Snapshot{Mid: 100, Timestamp: 1_000})
	svc := NewService(src, nil, nil, 0, nil)
	if st := svc.Staleness(time.UnixMilli(1_000)); st < 24*time.Hour {
		t.Fatalf("expected huge staleness without data, got %v", st)
	}
	_, _ = svc.Poll(context.Background())
	if st := svc.Staleness(time.UnixMilli(31_000)); st != 30*time.Second {
		t.Fatalf("expected 30s staleness, got %v", st)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	src := NewStaticSource("static", Snapshot{Mid: 100, Timestamp: time.Now().UnixMilli()})
	svc := NewService(src, nil, nil, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
	if svc.History().Len() == 0 {
		t.Fatalf("expected at least one poll")
	}
}
