package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanout(t *testing.T) {
	bus := NewBus()
	one := bus.Subscribe(4)
	two := bus.Subscribe(4)

	bus.Publish(Event{Type: "x", Targets: []string{"p1"}})

	for _, sub := range []*Subscription{one, two} {
		e := <-sub.C
		assert.Equal(t, "x", e.Type)
		assert.True(t, e.For("p1"))
		assert.False(t, e.For("p2"))
	}

	one.Close()
	one.Close()
	_, open := <-one.C
	assert.False(t, open)

	bus.Publish(Event{Type: "y"})
	e := <-two.C
	assert.Equal(t, "y", e.Type)
	assert.True(t, e.For("anyone"))
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Publish(Event{Type: "first"})
	bus.Publish(Event{Type: "second"})

	e := <-sub.C
	assert.Equal(t, "first", e.Type)
	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected event %s", extra.Type)
	default:
	}
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Close()

	_, open := <-sub.C
	assert.False(t, open)
	sub.Close()

	late := bus.Subscribe(1)
	_, open = <-late.C
	require.False(t, open)
	bus.Publish(Event{Type: "ignored"})
}
