/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bridge turns the decoding engine's sink lifecycle into
// time-stamped frames for the mixing graph.
package bridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/events"
	"github.com/wdudokvanheel/care-chords/internal/mixer"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

// EventKind enumerates sink lifecycle events.
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventSamples
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventSamples:
		return "samples"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one sink lifecycle event. Samples holds interleaved stereo
// audio for EventSamples.
type Event struct {
	Kind    EventKind
	Samples []float64
}

// Graph is the part of the mixing graph the bridge feeds.
type Graph interface {
	PushFrame(mixer.Frame) error
	EndOfStream()
}

// Clock is the engine clock used to measure pauses.
type Clock interface {
	NowNanos() uint64
}

// Config sets the stream format of the bridged samples.
type Config struct {
	SampleRate uint64
	Channels   uint64
}

// Bridge converts sink events into frames. One Run call is one session.
type Bridge struct {
	graph  Graph
	clock  Clock
	cfg    Config
	bus    *events.Bus
	logger zerolog.Logger
}

// timestamps is the per-session presentation clock.
type timestamps struct {
	cumulative uint64
	lastStop   uint64
	stopped    bool
}

// New creates a bridge feeding graph. bus may be nil.
func New(graph Graph, clock Clock, cfg Config, bus *events.Bus, logger zerolog.Logger) *Bridge {
	if cfg.Channels == 0 {
		cfg.Channels = mixer.Channels
	}
	return &Bridge{
		graph:  graph,
		clock:  clock,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With().Str("component", "bridge").Logger(),
	}
}

// Run consumes events until the source is exhausted, a frame is rejected,
// or ctx is cancelled. End-of-stream is signalled on every exit path.
func (b *Bridge) Run(ctx context.Context, in <-chan Event) error {
	session := uuid.NewString()
	logger := b.logger.With().Str("session", session).Logger()
	logger.Info().Uint64("sample_rate", b.cfg.SampleRate).Msg("audio bridge session started")

	var ts timestamps
	for {
		select {
		case <-ctx.Done():
			b.endOfStream(logger, session, "shutdown")
			return ctx.Err()

		case ev, ok := <-in:
			if !ok {
				b.endOfStream(logger, session, "source_exhausted")
				return nil
			}
			if err := b.handle(&ts, ev); err != nil {
				logger.Warn().Err(err).Uint64("pts", ts.cumulative).Msg("frame rejected by mixing graph")
				b.endOfStream(logger, session, "push_failed")
				return err
			}
		}
	}
}

func (b *Bridge) handle(ts *timestamps, ev Event) error {
	switch ev.Kind {
	case EventStart:
		if ts.stopped {
			now := b.clock.NowNanos()
			if now > ts.lastStop {
				ts.cumulative += now - ts.lastStop
			}
			ts.stopped = false
		}
	case EventStop:
		ts.lastStop = b.clock.NowNanos()
		ts.stopped = true
	case EventSamples:
		frames := uint64(len(ev.Samples)) / b.cfg.Channels
		if frames == 0 {
			return nil
		}
		duration := frames * 1_000_000_000 / b.cfg.SampleRate
		// A trailing partial frame would shift channel order downstream.
		frame := mixer.Frame{
			PTS:      ts.cumulative,
			Duration: duration,
			Samples:  ev.Samples[:frames*b.cfg.Channels],
		}
		if err := b.graph.PushFrame(frame); err != nil {
			return fmt.Errorf("push frame: %w", err)
		}
		telemetry.BridgeFramesTotal.Inc()
		ts.cumulative += duration
	}
	return nil
}

func (b *Bridge) endOfStream(logger zerolog.Logger, session, reason string) {
	b.graph.EndOfStream()
	telemetry.BridgeEndOfStreamTotal.WithLabelValues(reason).Inc()
	logger.Info().Str("reason", reason).Msg("audio bridge signalled end of stream")

	if b.bus != nil {
		b.bus.Publish(events.EventBridgeEOS, events.Payload{
			"session": session,
			"reason":  reason,
		})
	}
}
