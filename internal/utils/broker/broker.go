package broker

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 16

type Broker struct {
	subscribers map[string][]chan any
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan any),
	}
}

func (b *Broker) Subscribe(topic string) <-chan any {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan any, subscriberBuffer)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch <-chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if chans, ok := b.subscribers[topic]; ok {
		for i, c := range chans {
			if c == ch {
				b.subscribers[topic] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(b.subscribers[topic]) == 0 {
			delete(b.subscribers, topic)
		}
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (b *Broker) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("topic", topic).Msg("Dropping event for slow subscriber")
		}
	}
}

func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
