package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/twap"
	"market-maker-twap/order"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestRecordOrderLifecycle(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plan := twap.Plan{
		Intent: order.Intent{ID: "o-1", Direction: order.Buy, TotalSize: 0.2, TargetPrice: 3400, Source: "auto"},
		Status: order.StatusActive,
		Parts:  []twap.PartSpec{{Index: 0, Size: 0.1}, {Index: 1, Size: 0.1}},
	}
	j.Handle(events.Event{Type: events.OrderStarted, Time: start, OrderID: "o-1", Data: plan})
	j.Handle(events.Event{Type: events.PartExecuted, Time: start.Add(30 * time.Second), OrderID: "o-1", Data: twap.PartSpec{
		Index: 0, Size: 0.1, Status: order.PartExecuted, ExecutedPrice: 3401, ExecutedSize: 0.1, Fees: 0.34, Reference: "paper-1",
	}})
	j.Handle(events.Event{Type: events.PartFailed, Time: start.Add(60 * time.Second), OrderID: "o-1", Data: twap.PartSpec{
		Index: 1, Size: 0.1, Status: order.PartFailed, Error: "venue down",
	}})
	j.Handle(events.Event{Type: events.OrderFailed, Time: start.Add(61 * time.Second), OrderID: "o-1", Message: "part 1 failed",
		Data: twap.Stats{OrderID: "o-1", Status: order.StatusFailed, ExecutedSize: 0.1, AvgPrice: 3401, TotalFees: 0.34}})

	orders, err := j.Orders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, order.Buy, o.Direction)
	assert.Equal(t, 2, o.Parts)
	assert.Equal(t, "auto", o.Source)
	assert.Equal(t, order.StatusFailed, o.Status)
	assert.InDelta(t, 3401, o.AvgPrice, 1e-9)
	assert.Equal(t, "part 1 failed", o.Reason)
	assert.True(t, o.StartedAt.Equal(start))
	assert.True(t, o.CompletedAt.Equal(start.Add(61*time.Second)))

	parts, err := j.Parts(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, order.PartExecuted, parts[0].Status)
	assert.Equal(t, "paper-1", parts[0].Reference)
	assert.Equal(t, order.PartFailed, parts[1].Status)
	assert.Equal(t, "venue down", parts[1].Error)
}

func TestRecordPartUpsert(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	j.Handle(events.Event{Type: events.PartFailed, Time: now, OrderID: "o-2", Data: twap.PartSpec{Index: 3, Size: 0.1, Status: order.PartFailed, Error: "timeout"}})
	j.Handle(events.Event{Type: events.PartExecuted, Time: now, OrderID: "o-2", Data: twap.PartSpec{Index: 3, Size: 0.1, Status: order.PartExecuted, ExecutedSize: 0.1}})

	parts, err := j.Parts(ctx, "o-2")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, order.PartExecuted, parts[0].Status)
	assert.Empty(t, parts[0].Error)
}

func TestRecordRejectionsAndRiskAlerts(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	for _, v := range []string{"order_size", "order_size", "daily_loss"} {
		j.Handle(events.Event{Type: events.OrderRejected, Time: now, Data: order.Rejection{
			Intent:    order.Intent{ID: "r", Direction: order.Sell, TotalSize: 5},
			Violation: v,
			Reason:    "too big",
		}})
	}
	counts, err := j.RejectionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"order_size": 2, "daily_loss": 1}, counts)

	err = j.Record(ctx, events.Event{Type: events.RiskAlert, Time: now, Data: risk.Alert{
		Type: "emergency_stop", Message: "daily loss", Snapshot: risk.Snapshot{State: risk.StateEmergencyStopped, DailyPnL: -600},
	}})
	require.NoError(t, err)

	var n int
	require.NoError(t, j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_events WHERE type='emergency_stop'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRecordIgnoresUnknownAndRejectsBadPayload(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	assert.NoError(t, j.Record(ctx, events.Event{Type: events.QuoteUpdated}))
	assert.Error(t, j.Record(ctx, events.Event{Type: events.OrderStarted, Data: "nope"}))
	assert.Error(t, j.Record(ctx, events.Event{Type: events.OrderCompleted}))
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path, nil)
	require.NoError(t, err)
	j.Handle(events.Event{Type: events.OrderStarted, Time: time.Now(), Data: twap.Plan{
		Intent: order.Intent{ID: "persist", Direction: order.Sell, TotalSize: 1},
	}})
	require.NoError(t, j.Close())

	j, err = Open(path, nil)
	require.NoError(t, err)
	defer j.Close()
	orders, err := j.Orders(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusActive, orders[0].Status)
}
