package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Broadcaster = (*Hub)(nil)
	_ Broadcaster = (*NATSRelay)(nil)
	_ Broadcaster = (*RedisRelay)(nil)
)

func TestHub_PublishReachesOnlyThatEvent(t *testing.T) {
	h := NewHub(4, 0)
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	require.NoError(t, h.Publish(context.Background(), "a", Updated("a")))

	select {
	case msg := <-a.C:
		assert.Equal(t, TypeEventUpdated, msg.Type)
		assert.Equal(t, "a", msg.EventID)
	case <-time.After(time.Second):
		t.Fatal("subscriber a got nothing")
	}
	select {
	case msg := <-b.C:
		t.Fatalf("subscriber b got %v", msg)
	default:
	}
}

func TestHub_UnsubscribeClosesAndCleansUp(t *testing.T) {
	h := NewHub(4, 0)
	sub := h.Subscribe("ev")
	assert.Equal(t, 1, h.Subscribers("ev"))

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("ev"))
	h.mu.Lock()
	_, present := h.subs["ev"]
	h.mu.Unlock()
	assert.False(t, present)
}

func TestHub_DropsFullSubscriber(t *testing.T) {
	h := NewHub(1, 0)
	slow := h.Subscribe("ev")
	ctx := context.Background()

	require.NoError(t, h.Publish(ctx, "ev", Updated("ev")))
	require.NoError(t, h.Publish(ctx, "ev", Updated("ev")))

	assert.Equal(t, 0, h.Subscribers("ev"))
	_, ok := <-slow.C
	assert.True(t, ok, "buffered message still delivered")
	_, ok = <-slow.C
	assert.False(t, ok, "channel closed after drop")
}

func TestHub_KeepAlive(t *testing.T) {
	h := NewHub(4, 10*time.Millisecond)
	sub := h.Subscribe("ev")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case msg := <-sub.C:
		assert.Equal(t, TypePing, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no keep-alive")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(4, 0)
	sub := h.Subscribe("ev")
	require.NoError(t, h.Close())

	_, ok := <-sub.C
	assert.False(t, ok)

	late := h.Subscribe("ev")
	_, ok = <-late.C
	assert.False(t, ok)
}

func TestMessageCodec(t *testing.T) {
	data, err := encode(Deleted("ev-1"))
	require.NoError(t, err)
	msg, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeEventDeleted, msg.Type)
	assert.Equal(t, "ev-1", msg.EventID)
}
