package coordinator

import (
	"sync"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/telemetry"
)

// EventType distinguishes the two published event kinds.
type EventType string

const (
	// EventProgress carries a full record snapshot, once per sampled
	// record per tick.
	EventProgress EventType = "progress"
	// EventComplete fires once when a record's payload is fully on disk.
	EventComplete EventType = "complete"
)

// Event is what subscribers receive.
type Event struct {
	Type     EventType       `json:"type"`
	Record   download.Record `json:"record"`
	Filename string          `json:"filename,omitempty"`
}

// Publisher fans events out to any number of subscribers. Delivery is
// at-most-once: a subscriber that is not draining loses the event, it is
// never retried and never blocks the sampler.
type Publisher struct {
	tel *telemetry.Telemetry

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

const subscriberBuffer = 16

func NewPublisher(tel *telemetry.Telemetry) *Publisher {
	return &Publisher{
		tel:  tel,
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++

	ch := make(chan Event, subscriberBuffer)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if ch, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// Publish delivers an event to every current subscriber without blocking.
func (p *Publisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
			p.tel.RecordDroppedEvent()
		}
	}
}

// Close drops all subscribers.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
