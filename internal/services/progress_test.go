package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressHub_FanOut(t *testing.T) {
	hub := NewProgressHub(4)

	id1, ch1 := hub.Subscribe()
	_, ch2 := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(ProgressEvent{Type: EventState, State: "loop", Message: "entering loop"})

	ev := <-ch1
	assert.Equal(t, "loop", ev.State)
	assert.False(t, ev.Time.IsZero())
	assert.Equal(t, "entering loop", (<-ch2).Message)

	hub.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())

	last, ok := hub.Last()
	require.True(t, ok)
	assert.Equal(t, EventState, last.Type)
}

func TestProgressHub_SlowSubscriberDrops(t *testing.T) {
	hub := NewProgressHub(2)
	_, ch := hub.Subscribe()

	for i := 0; i < 5; i++ {
		hub.Publish(ProgressEvent{Type: EventScan})
	}
	assert.Len(t, ch, 2)

	_, ok := NewProgressHub(0).Last()
	assert.False(t, ok)
}
