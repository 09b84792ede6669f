package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherSubscribeAndNotify(t *testing.T) {
	d := NewDispatcher()

	var received []Event
	unsubscribe := d.Subscribe(func(e Event) {
		received = append(received, e)
	})
	require.Equal(t, 1, d.Len())

	d.Notify(Event{Type: EventUserPackageUpdated, UserID: "user-1"})
	require.Len(t, received, 1)
	require.Equal(t, EventUserPackageUpdated, received[0].Type)

	unsubscribe()
	require.Equal(t, 0, d.Len())

	d.Notify(Event{Type: EventPackagesOverdue, UserID: "user-1"})
	require.Len(t, received, 1, "unsubscribed listener must not receive events")
}

func TestDispatcherUnsubscribeTwiceIsHarmless(t *testing.T) {
	d := NewDispatcher()
	unsubscribe := d.Subscribe(func(Event) {})
	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, d.Len())
}

func TestDispatcherIsolatesPanickingListener(t *testing.T) {
	d := NewDispatcher()

	delivered := 0
	d.Subscribe(func(Event) { panic("bad listener") })
	d.Subscribe(func(Event) { delivered++ })
	d.Subscribe(func(Event) { delivered++ })

	require.NotPanics(t, func() {
		d.Notify(Event{Type: EventPackagesUpcoming, UserID: "user-2"})
	})
	require.Equal(t, 2, delivered, "a panicking listener must not block the rest")
}

func TestDispatcherNilListenerIgnored(t *testing.T) {
	d := NewDispatcher()
	unsubscribe := d.Subscribe(nil)
	require.Equal(t, 0, d.Len())
	unsubscribe()
}
