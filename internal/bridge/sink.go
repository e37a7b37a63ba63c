/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bridge

import (
	"errors"
	"sync"
)

// ErrSinkClosed is returned by ChannelSink once the bridge side is gone.
var ErrSinkClosed = errors.New("audio sink closed")

// ChannelSink adapts the engine's synchronous sink onto a bounded channel.
// Its methods block while the channel is full, which is how a stalled
// bridge pushes back on the engine's sink thread.
//
// Start, Stop, Write and Close must be called from a single goroutine.
type ChannelSink struct {
	ch       chan Event
	released chan struct{}
	once     sync.Once
	closed   bool
}

// NewChannelSink returns a sink buffering up to capacity events.
func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{
		ch:       make(chan Event, capacity),
		released: make(chan struct{}),
	}
}

// Events is the receive side handed to Bridge.Run.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Start reports that audio output is starting.
func (s *ChannelSink) Start() error {
	return s.send(Event{Kind: EventStart})
}

// Stop reports that audio output has stopped.
func (s *ChannelSink) Stop() error {
	return s.send(Event{Kind: EventStop})
}

// Write hands off a copy of samples; the caller may reuse its buffer.
func (s *ChannelSink) Write(samples []float64) error {
	payload := make([]float64, len(samples))
	copy(payload, samples)
	return s.send(Event{Kind: EventSamples, Samples: payload})
}

// Close ends the event stream. The bridge sees source exhaustion.
func (s *ChannelSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Release unblocks and rejects all further sends. It is called from the
// bridge side once Bridge.Run has returned.
func (s *ChannelSink) Release() {
	s.once.Do(func() { close(s.released) })
}

func (s *ChannelSink) send(ev Event) error {
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case <-s.released:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.released:
		return ErrSinkClosed
	}
}
