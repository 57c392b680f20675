package changebus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(&Delta{Table: "target", Op: OpUpsert})
	}

	for i := 0; i < 5; i++ {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delta %d", i)
		}
	}
}

// TestSlowSubscriberIsDisconnected reflects §4.9: a subscriber that
// never drains its buffer must eventually be dropped rather than
// buffered without bound.
func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	// Fill the subscriber's buffer, then publish enough further deltas
	// that every send finds it full and the drop counter crosses the
	// eviction threshold.
	for i := 0; i < subscriberBuffer+maxConsecutiveDrops+5; i++ {
		b.Publish(&Delta{Table: "target", Op: OpUpsert})
	}

	assert.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, stillOpen := <-sub
	for stillOpen {
		_, stillOpen = <-sub
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}
