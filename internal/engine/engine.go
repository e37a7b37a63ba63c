/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine decodes local audio files and feeds them to a sink from a
// dedicated OS thread, reporting playback lifecycle events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/player"
)

// ErrNoTrack is returned by Play before any track was loaded.
var ErrNoTrack = errors.New("no track loaded")

// Sink receives decoded interleaved stereo samples. All calls come from the
// engine's sink thread and may block.
type Sink interface {
	Start() error
	Stop() error
	Write(samples []float64) error
	Close() error
}

// Config configures the engine.
type Config struct {
	MediaRoot   string
	SampleRate  beep.SampleRate
	ChunkFrames int
	EventBuffer int
}

// DefaultChunkFrames is the number of stereo frames per sink write.
const DefaultChunkFrames = 1024

type track struct {
	id        player.TrackID
	stream    beep.StreamSeekCloser
	out       beep.Streamer
	metadata  player.Metadata
	autostart bool
	frames    uint64
}

// Engine plays one track at a time. LoadTrack, Play, Pause and Stop only
// record the requested state; the sink thread applies it between chunks.
type Engine struct {
	cfg    Config
	sink   Sink
	logger zerolog.Logger
	events chan player.Event
	wake   chan struct{}

	mu      sync.Mutex
	pending *track
	loaded  bool
	playing bool
	stop    bool
}

// New creates an engine writing to sink.
func New(cfg Config, sink Sink, logger zerolog.Logger) *Engine {
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	return &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "engine").Logger(),
		events: make(chan player.Event, cfg.EventBuffer),
		wake:   make(chan struct{}, 1),
	}
}

// Events returns the lifecycle event stream. It is closed when Run returns.
func (e *Engine) Events() <-chan player.Event {
	return e.events
}

// LoadTrack opens and decodes id, replacing whatever is playing.
func (e *Engine) LoadTrack(ctx context.Context, id player.TrackID, autostart bool, startPositionMs uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stream, format, err := Open(resolvePath(e.cfg.MediaRoot, string(id)))
	if err != nil {
		return err
	}
	if startPositionMs > 0 {
		pos := format.SampleRate.N(time.Duration(startPositionMs) * time.Millisecond)
		if pos >= stream.Len() {
			pos = stream.Len()
		}
		if err := stream.Seek(pos); err != nil {
			stream.Close()
			return fmt.Errorf("seek %s: %w", id, err)
		}
	}

	var out beep.Streamer = stream
	if format.SampleRate != e.cfg.SampleRate {
		out = beep.Resample(4, format.SampleRate, e.cfg.SampleRate, stream)
	}

	t := &track{
		id:        id,
		stream:    stream,
		out:       out,
		metadata:  trackMetadata(e.cfg.MediaRoot, id),
		autostart: autostart,
		frames:    uint64(e.cfg.SampleRate.N(time.Duration(startPositionMs) * time.Millisecond)),
	}

	e.mu.Lock()
	if e.pending != nil {
		e.pending.stream.Close()
	}
	e.pending = t
	e.loaded = true
	e.playing = autostart
	e.stop = false
	e.mu.Unlock()

	e.logger.Debug().Str("track", string(id)).Bool("autostart", autostart).Msg("track loaded")
	e.signal()
	return nil
}

// Play resumes output of the loaded track from its current position.
func (e *Engine) Play() error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNoTrack
	}
	e.playing = true
	e.mu.Unlock()
	e.signal()
	return nil
}

// Pause halts output, keeping the position.
func (e *Engine) Pause() error {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.signal()
	return nil
}

// Stop halts output and unloads the current track.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.pending != nil {
		e.pending.stream.Close()
		e.pending = nil
	}
	e.loaded = false
	e.playing = false
	e.stop = true
	e.mu.Unlock()
	e.signal()
	return nil
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the sink thread. It owns the current decoder and the sink and
// returns when ctx is cancelled, closing both the sink and Events.
func (e *Engine) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		current *track
		started bool
		buf     = make([][2]float64, e.cfg.ChunkFrames)
		samples = make([]float64, 0, 2*e.cfg.ChunkFrames)
	)

	defer func() {
		if current != nil {
			current.stream.Close()
		}
		e.mu.Lock()
		if e.pending != nil {
			e.pending.stream.Close()
			e.pending = nil
		}
		e.mu.Unlock()
		if err := e.sink.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("sink close failed")
		}
		close(e.events)
		e.logger.Debug().Msg("engine sink thread stopped")
	}()

	stopOutput := func() {
		if !started {
			return
		}
		started = false
		if err := e.sink.Stop(); err != nil {
			e.logger.Warn().Err(err).Msg("sink stop failed")
		}
	}

	e.logger.Info().Int("sample_rate", int(e.cfg.SampleRate)).Str("media_root", e.cfg.MediaRoot).Msg("engine started")

	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		next := e.pending
		e.pending = nil
		playing := e.playing
		stop := e.stop
		e.stop = false
		e.mu.Unlock()

		if stop {
			if current != nil {
				current.stream.Close()
				current = nil
			}
			stopOutput()
			e.emit(ctx, player.Event{Kind: player.EventStopped})
		}

		if next != nil {
			if current != nil {
				current.stream.Close()
			}
			current = next
			e.emit(ctx, player.Event{Kind: player.EventTrackChanged, Track: current.id, Metadata: current.metadata})
		}

		if current == nil || !playing {
			if current != nil && started {
				stopOutput()
				e.emit(ctx, player.Event{Kind: player.EventPaused, Track: current.id, PositionMs: e.positionMs(current)})
			}
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			}
			continue
		}

		if !started {
			if err := e.sink.Start(); err != nil {
				e.logger.Error().Err(err).Msg("sink start failed")
				e.halt(ctx, &current)
				continue
			}
			started = true
			e.emit(ctx, player.Event{Kind: player.EventStarted, Track: current.id, PositionMs: e.positionMs(current)})
		}

		n, ok := current.out.Stream(buf)
		if n > 0 {
			samples = samples[:0]
			for _, frame := range buf[:n] {
				samples = append(samples, frame[0], frame[1])
			}
			if err := e.sink.Write(samples); err != nil {
				e.logger.Error().Err(err).Str("track", string(current.id)).Msg("sink write failed")
				started = false
				e.halt(ctx, &current)
				continue
			}
			current.frames += uint64(n)
		}

		if !ok || n == 0 {
			if err := current.stream.Err(); err != nil {
				e.logger.Warn().Err(err).Str("track", string(current.id)).Msg("decode error, ending track")
			}
			ended := current.id
			current.stream.Close()
			current = nil
			stopOutput()
			e.mu.Lock()
			if e.pending == nil {
				e.loaded = false
			}
			e.mu.Unlock()
			e.emit(ctx, player.Event{Kind: player.EventTrackEnded, Track: ended})
		}
	}
}

// halt drops the current track after a sink failure.
func (e *Engine) halt(ctx context.Context, current **track) {
	if *current != nil {
		(*current).stream.Close()
		*current = nil
	}
	e.mu.Lock()
	if e.pending == nil {
		e.loaded = false
		e.playing = false
	}
	e.mu.Unlock()
	e.emit(ctx, player.Event{Kind: player.EventStopped})
}

func (e *Engine) positionMs(t *track) uint32 {
	return uint32(t.frames * 1000 / uint64(e.cfg.SampleRate))
}

func (e *Engine) emit(ctx context.Context, ev player.Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}
