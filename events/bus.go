package events

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Kind names one lifecycle event of a bridge transfer.
type Kind string

const (
	KindInitiated     Kind = "initiated"
	KindQuorumReached Kind = "quorumReached"
	KindCompleted     Kind = "completed"
	KindFailed        Kind = "failed"
	KindQuorumLost    Kind = "quorumLost"
	KindStatsUpdate   Kind = "statsUpdate"
)

// Event is one entry of the typed event stream appended alongside state
// changes. Delivery is best-effort and carries no correctness weight.
type Event struct {
	Kind       Kind
	TransferID string
	Direction  string
	Amount     string
	Status     string
	Reason     string
	At         time.Time
}

// Bus fans events out to subscriber channels. A slow subscriber loses
// events instead of blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a receive channel with the given buffer size.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.WithField("kind", ev.Kind).Debug("event dropped, subscriber buffer full")
		}
	}
}
