package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDispatchOrderAndFilter(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(func(e Event) { got = append(got, "all:"+string(e.Type)) })
	b.Subscribe(func(e Event) { got = append(got, "risk:"+string(e.Type)) }, RiskAlert, EmergencyStop)

	b.Publish(Event{Type: QuoteUpdated})
	b.Publish(Event{Type: RiskAlert})

	assert.Equal(t, []string{"all:quote_updated", "all:risk_alert", "risk:risk_alert"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	n := 0
	unsub := b.Subscribe(func(Event) { n++ })
	b.Publish(Event{Type: OrderStarted})
	unsub()
	b.Publish(Event{Type: OrderStarted})
	assert.Equal(t, 1, n)
}

func TestBusPanickingHandlerIsIsolated(t *testing.T) {
	b := NewBus()
	var recovered any
	b.OnPanic = func(_ Event, r any) { recovered = r }
	reached := false
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(e Event) {
		reached = true
		assert.False(t, e.Time.IsZero())
	})
	b.Publish(Event{Type: PartFailed, OrderID: "x"})
	assert.True(t, reached)
	assert.Equal(t, "boom", recovered)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "order_failed[id] bad", Event{Type: OrderFailed, OrderID: "id", Message: "bad"}.String())
	assert.Equal(t, "risk_alert hi", Event{Type: RiskAlert, Message: "hi"}.String())
}
