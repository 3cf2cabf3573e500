package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversWithinCapacity(t *testing.T) {
	b := New(2)
	b.Publish(Event{Timestamp: time.Now(), Kind: SessionStarted, Payload: SessionStartedPayload{Source: "cli"}})

	select {
	case e := <-b.Events():
		assert.Equal(t, SessionStarted, e.Kind)
	default:
		t.Fatal("expected an event to be queued")
	}
	assert.Equal(t, int64(0), b.Dropped())
}

func TestPublish_DropsWhenFullInsteadOfBlocking(t *testing.T) {
	b := New(1)
	b.Publish(Event{Kind: CommandSucceeded})
	b.Publish(Event{Kind: CommandSucceeded}) // channel now full, must not block

	assert.Equal(t, int64(1), b.Dropped())

	select {
	case <-b.Events():
	default:
		t.Fatal("expected the first event to still be queued")
	}
}

func TestPublish_NeverBlocksCaller(t *testing.T) {
	b := New(0)
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: SessionEnded})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a zero-capacity bus")
	}
	require.Equal(t, int64(1), b.Dropped())
}
