package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/telemetry"
)

func TestPublisherFanOut(t *testing.T) {
	pub := NewPublisher(&telemetry.Telemetry{})
	defer pub.Close()

	first, cancelFirst := pub.Subscribe()
	defer cancelFirst()

	second, cancelSecond := pub.Subscribe()
	defer cancelSecond()

	pub.Publish(Event{Type: EventProgress, Record: download.Record{ID: "one"}})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, EventProgress, event.Type)
			assert.Equal(t, "one", event.Record.ID)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublisherSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	pub := NewPublisher(&telemetry.Telemetry{})
	defer pub.Close()

	events, cancel := pub.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must return regardless.
	for i := 0; i < subscriberBuffer+5; i++ {
		pub.Publish(Event{Type: EventProgress, Record: download.Record{ID: "flood"}})
	}

	received := 0

	for {
		select {
		case <-events:
			received++

			continue
		default:
		}

		break
	}

	assert.Equal(t, subscriberBuffer, received)
}

func TestPublisherUnsubscribeClosesChannel(t *testing.T) {
	pub := NewPublisher(&telemetry.Telemetry{})
	defer pub.Close()

	events, cancel := pub.Subscribe()

	cancel()
	cancel() // idempotent

	_, open := <-events
	require.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	pub.Publish(Event{Type: EventComplete, Record: download.Record{ID: "late"}})
}
