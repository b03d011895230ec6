package market

import "testing"

func TestPublisherLatestWins(t *testing.T) {
	p := NewPublisher()
	ch := p.Subscribe()
	p.Publish(Snapshot{Mid: 1})
	p.Publish(Snapshot{Mid: 2})
	if got := <-ch; got.Mid != 2 {
		t.Fatalf("expected latest snapshot, got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}
}
