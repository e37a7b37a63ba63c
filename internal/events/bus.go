/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventPlaybackInfo     EventType = "playback.info"
	EventFailoverSwitched EventType = "failover.switched"
	EventSleepArmed       EventType = "sleep.armed"
	EventSleepCancelled   EventType = "sleep.cancelled"
	EventSleepExpired     EventType = "sleep.expired"
	EventBridgeEOS        EventType = "bridge.eos"
)

// AllEventTypes lists every event type, in the order bridges subscribe to them.
var AllEventTypes = []EventType{
	EventPlaybackInfo,
	EventFailoverSwitched,
	EventSleepArmed,
	EventSleepCancelled,
	EventSleepExpired,
	EventBridgeEOS,
}

// OriginKey marks payloads that arrived from another node. Relays do not
// forward them again.
const OriginKey = "_origin"

// Payload generic event payload.
type Payload map[string]any

// Remote reports whether p was relayed in from another node.
func (p Payload) Remote() bool {
	_, ok := p[OriginKey]
	return ok
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
