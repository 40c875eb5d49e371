/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"errors"
	"sync"
)

// EventType enumerates event categories.
type EventType string

const (
	EventQueueUpdate      EventType = "queue_update"
	EventNowPlayingUpdate EventType = "now_playing_update"
	EventPlaybackStarted  EventType = "playback_started"
	EventSongEnded        EventType = "song_ended"
	EventSkipRequested    EventType = "skip_requested"
	EventNotification     EventType = "notification"
)

// Notification severities used in EventNotification payloads.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// Payload generic event payload.
type Payload map[string]any

// Handler is invoked synchronously when its event fires.
type Handler func(Payload) error

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub with two delivery modes:
// synchronous handlers for in-process wiring and buffered channel
// subscribers for push surfaces such as websockets.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	subs     map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		subs:     make(map[EventType][]Subscriber),
	}
}

// On registers a synchronous handler for event type.
func (b *Bus) On(eventType EventType, handler Handler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Emit fans the payload out to all registered handlers in registration
// order, then to channel subscribers. Handler errors are joined and
// returned to the caller; a failing handler does not stop fan-out.
func (b *Bus) Emit(eventType EventType, payload Payload) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(payload); err != nil {
			errs = append(errs, err)
		}
	}

	b.Publish(eventType, payload)
	return errors.Join(errs...)
}

// Subscribe registers a channel subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to channel subscribers without blocking. A
// subscriber with a full buffer misses the payload. The sends happen
// under the read lock; Unsubscribe closes channels under the write
// lock, so a send can never hit a closed channel.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
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
