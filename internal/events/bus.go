// Package events fans state updates out to SSE and websocket clients.
package events

import (
	"sync"

	"github.com/micro-nova/checkin-go/internal/models"
)

const subBufferSize = 8

// Bus is a non-blocking publish-subscribe bus for models.State.
//
// Publishers never block. When a subscriber's buffer is full its oldest
// pending update is discarded, so a slow reader skips intermediate states but
// always ends up with the latest one.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan models.State
	last *models.State
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.State),
	}
}

// Subscribe creates a subscription with the given ID. If a state has been
// published already it is queued on the channel straight away.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan models.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan models.State, subBufferSize)
	if b.last != nil {
		ch <- b.last.DeepCopy()
	}
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends state to every subscriber.
func (b *Bus) Publish(state models.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	last := state.DeepCopy()
	b.last = &last
	for _, ch := range b.subs {
		cp := state.DeepCopy()
		select {
		case ch <- cp:
			continue
		default:
		}
		// full: drop the oldest pending update
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cp:
		default:
		}
	}
}

// Last returns the most recently published state.
func (b *Bus) Last() (models.State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return models.State{}, false
	}
	return b.last.DeepCopy(), true
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
