/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays the in-process event bus to other nodes over
// Redis pub/sub or NATS. Local publishers keep using events.Bus; a relay
// forwards local events out and delivers peer events back in.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wdudokvanheel/care-chords/internal/events"
)

// Relay is implemented by the Redis and NATS backends.
type Relay interface {
	Run(ctx context.Context) error
	Close() error
}

// channelPrefix namespaces remote channels and subjects.
const channelPrefix = "carechords.events."

// message is the wire envelope shared by both backends.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("event message without type")
	}
	return &msg, nil
}

// deliverLocal republishes a peer message on the local bus, tagged with
// its origin so it is not forwarded again.
func deliverLocal(local *events.Bus, msg *message) {
	payload := make(events.Payload, len(msg.Payload)+1)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	payload[events.OriginKey] = msg.NodeID
	local.Publish(msg.EventType, payload)
}

// forwardLocal subscribes to every event type on local and calls send for
// each locally originated payload until ctx is done.
func forwardLocal(ctx context.Context, local *events.Bus, send func(events.EventType, events.Payload)) {
	var wg sync.WaitGroup
	for _, et := range events.AllEventTypes {
		sub := local.Subscribe(et)
		wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer local.Unsubscribe(et, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					if payload.Remote() {
						continue
					}
					send(et, payload)
				}
			}
		}(et, sub)
	}
	wg.Wait()
}

// NewNodeID returns an identifier for this process, used for echo suppression.
func NewNodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	return "carechords-" + uuid.NewString()
}
