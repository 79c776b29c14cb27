package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	b := NewBus(4)
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.Publish(Event{Type: TypeSpotUpdate, Payload: "a"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, TypeSpotUpdate, ev1.Type)
	assert.Equal(t, "a", ev1.Payload)
	assert.Equal(t, ev1, ev2)
}

func TestOverflowDropsOldestAndFlagsResync(t *testing.T) {
	b := NewBus(2)
	id, ch := b.Subscribe()

	b.Publish(Event{Type: TypeSpotUpdate, Payload: 1})
	b.Publish(Event{Type: TypeSpotUpdate, Payload: 2})
	require.False(t, b.NeedsResync(id))

	// Queue is full; this evicts payload 1.
	b.Publish(Event{Type: TypeSpotUpdate, Payload: 3})
	require.True(t, b.NeedsResync(id))

	assert.Equal(t, 2, (<-ch).Payload)
	assert.Equal(t, 3, (<-ch).Payload)

	b.ClearResync(id)
	assert.False(t, b.NeedsResync(id))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBus(1)
	slow, _ := b.Subscribe()
	_, fastCh := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeSpaceStats, Payload: i})
		// Drain the fast subscriber each round.
		assert.Equal(t, i, (<-fastCh).Payload)
	}
	assert.True(t, b.NeedsResync(slow))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(2)
	id, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	// Unsubscribing twice is harmless.
	b.Unsubscribe(id)
}

func TestCloseIsTerminal(t *testing.T) {
	b := NewBus(2)
	_, ch := b.Subscribe()

	b.Close()
	_, open := <-ch
	require.False(t, open)

	// Publish after close must not panic.
	b.Publish(Event{Type: TypeRelayState})
	b.Close()
}
