/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player implements the playback controller: a single goroutine
// that owns playback state, the track queue and the sleep timer, driven by
// control commands and decoding engine events.
package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wdudokvanheel/care-chords/internal/events"
	"github.com/wdudokvanheel/care-chords/internal/sleep"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

var (
	// ErrControllerClosed is returned by Commands.Send once the controller
	// is no longer running.
	ErrControllerClosed = errors.New("playback controller closed")
	// ErrCommandsClosed ends Run when every command sender is gone.
	ErrCommandsClosed = errors.New("command channel closed")
	// ErrEventsClosed ends Run when the engine closes its event stream.
	ErrEventsClosed = errors.New("engine event channel closed")
)

const tracerName = "player"

// Config holds controller parameters.
type Config struct {
	CommandBuffer int
	Fade          sleep.FadeConfig
}

// Commands is the sending side of the controller's command channel. It is
// safe for concurrent use.
type Commands struct {
	ch     chan Command
	done   chan struct{} // closed when Run returns
	closed chan struct{} // closed by Close
	once   sync.Once
}

// Send queues cmd, waiting while the channel is full.
func (c *Commands) Send(ctx context.Context, cmd Command) error {
	select {
	case <-c.done:
		return ErrControllerClosed
	case <-c.closed:
		return ErrControllerClosed
	default:
	}
	select {
	case c.ch <- cmd:
		return nil
	case <-c.done:
		return ErrControllerClosed
	case <-c.closed:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close withdraws all senders. The controller treats it as fatal.
func (c *Commands) Close() {
	c.once.Do(func() { close(c.closed) })
}

// Controller is the playback actor. All fields below the channels are
// owned by the Run goroutine.
type Controller struct {
	engine   Engine
	resolver Resolver
	timer    *sleep.Timer
	fade     sleep.FadeConfig
	bus      *events.Bus
	logger   zerolog.Logger

	commands *Commands
	info     *infoCell

	state    State
	queue    TrackQueue
	current  TrackID
	metadata *Metadata
	shuffle  bool
	pausedAt uint32
}

// New creates a controller. bus may be nil.
func New(engine Engine, resolver Resolver, timer *sleep.Timer, cfg Config, bus *events.Bus, logger zerolog.Logger) *Controller {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 3
	}
	c := &Controller{
		engine:   engine,
		resolver: resolver,
		timer:    timer,
		fade:     cfg.Fade,
		bus:      bus,
		logger:   logger.With().Str("component", "player").Logger(),
		commands: &Commands{
			ch:     make(chan Command, cfg.CommandBuffer),
			done:   make(chan struct{}),
			closed: make(chan struct{}),
		},
		info:  newInfoCell(Info{State: StateStopped}),
		state: StateStopped,
	}
	timer.OnExpire(c.sleepExpired)
	return c
}

// Commands returns the command sender handle.
func (c *Controller) Commands() *Commands {
	return c.commands
}

// Subscribe returns a reader positioned at the current snapshot.
func (c *Controller) Subscribe() *InfoReader {
	r := &InfoReader{cell: c.info}
	r.Load()
	return r
}

// Info returns the current snapshot.
func (c *Controller) Info() Info {
	info, _, _ := c.info.load()
	return info
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.commands.done
}

// Run processes commands and engine events until ctx is cancelled or one
// of its input channels closes. It returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.commands.done)
	defer c.timer.Cancel()

	engineEvents := c.engine.Events()
	c.logger.Info().Msg("playback controller started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("playback controller stopped")
			return nil

		case <-c.commands.closed:
			c.logger.Error().Err(ErrCommandsClosed).Msg("playback controller terminated")
			return ErrCommandsClosed

		case cmd := <-c.commands.ch:
			c.handleCommand(ctx, cmd)

		case ev, ok := <-engineEvents:
			if !ok {
				c.logger.Error().Err(ErrEventsClosed).Msg("playback controller terminated")
				return ErrEventsClosed
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "command."+cmd.Kind.String(),
		attribute.String("player.state", c.state.String()))
	defer span.End()

	telemetry.PlayerCommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()
	c.logger.Debug().Str("command", cmd.Kind.String()).Str("state", c.state.String()).Msg("command received")

	switch cmd.Kind {
	case CommandLoadPlaylist:
		c.loadPlaylist(ctx, cmd.PlaylistID)
	case CommandPlay:
		if c.state != StatePaused {
			return
		}
		// Resume from the engine's own position; pausedAt is informational.
		if err := c.engine.Play(); err != nil {
			c.engineError(err, "play")
			telemetry.RecordError(span, err)
		}
	case CommandPause:
		if c.state != StatePlaying {
			return
		}
		if err := c.engine.Pause(); err != nil {
			c.engineError(err, "pause")
			telemetry.RecordError(span, err)
		}
	case CommandNext:
		c.advance(ctx)
	case CommandSetSleepTimer:
		c.setSleepTimer(cmd.Seconds)
	case CommandSetShuffle:
		c.setShuffle(cmd.Shuffle)
	case commandSleepExpired:
		c.logger.Info().Str("state", c.state.String()).Msg("sleep timer expired")
		c.emit(events.EventSleepExpired, events.Payload{"state": c.state.String()})
		c.publish()
	default:
		c.logger.Warn().Int("kind", int(cmd.Kind)).Msg("unknown command")
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev Event) {
	telemetry.PlayerEventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case EventStarted:
		c.setState(StatePlaying)
	case EventPaused:
		c.pausedAt = ev.PositionMs
		c.logger.Debug().Str("track", string(ev.Track)).Uint32("position_ms", ev.PositionMs).Msg("engine paused")
		c.setState(StatePaused)
	case EventStopped:
		c.setState(StateStopped)
	case EventTrackEnded:
		c.advance(ctx)
	case EventTrackChanged:
		md := ev.Metadata
		c.metadata = &md
		c.logger.Info().Str("artist", md.Artist).Str("title", md.Title).Msg("track changed")
		c.publish()
	default:
		c.logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown engine event")
	}
}

func (c *Controller) loadPlaylist(ctx context.Context, id string) {
	tracks, err := c.resolver.Resolve(ctx, id)
	if err != nil {
		c.queue.Clear()
		telemetry.PlayerQueueLength.Set(0)
		c.logger.Warn().Err(err).Str("playlist", id).Msg("failed to resolve playlist")
		return
	}

	c.queue.Replace(tracks)
	if c.shuffle {
		c.queue.Shuffle()
	}
	c.logger.Info().Str("playlist", id).Int("tracks", len(tracks)).Msg("playlist loaded")

	if c.queue.Len() == 0 {
		telemetry.PlayerQueueLength.Set(0)
		c.logger.Warn().Str("playlist", id).Msg("playlist is empty")
		return
	}
	c.advance(ctx)
}

// advance loads the next queued track, or stops when the queue is empty.
func (c *Controller) advance(ctx context.Context) {
	next, ok := c.queue.Pop()
	telemetry.PlayerQueueLength.Set(float64(c.queue.Len()))
	if !ok {
		c.logger.Info().Msg("queue exhausted")
		if s, ok := c.engine.(Stopper); ok && c.state != StateStopped {
			if err := s.Stop(); err != nil {
				c.engineError(err, "stop")
			}
		}
		c.setState(StateStopped)
		return
	}

	if err := c.engine.LoadTrack(ctx, next, true, 0); err != nil {
		c.engineError(err, "load_track")
		return
	}
	c.current = next
	c.logger.Debug().Str("track", string(next)).Int("remaining", c.queue.Len()).Msg("track loading")
}

// maxSleepSeconds is the longest delay a time.Duration can hold.
const maxSleepSeconds = uint64(math.MaxInt64 / int64(time.Second))

func (c *Controller) setSleepTimer(seconds uint64) {
	if seconds == 0 {
		if !c.timer.Active() {
			return
		}
		c.timer.Cancel()
		c.logger.Info().Msg("sleep timer cancelled")
		c.emit(events.EventSleepCancelled, events.Payload{})
		c.publish()
		return
	}

	if seconds > maxSleepSeconds {
		c.logger.Debug().Uint64("seconds", seconds).Msg("clamping sleep timer")
		seconds = maxSleepSeconds
	}
	delay := time.Duration(seconds) * time.Second
	c.timer.Set(delay, sleep.Fade(c.fade, c.pauseFromTimer, c.logger))
	c.emit(events.EventSleepArmed, events.Payload{"seconds": seconds})
	c.publish()
}

// sleepExpired asks the controller to republish once the sleep deadline
// has passed, whatever the playback state.
func (c *Controller) sleepExpired(ctx context.Context) {
	if err := c.commands.Send(ctx, Command{Kind: commandSleepExpired}); err != nil && ctx.Err() == nil {
		c.logger.Debug().Err(err).Msg("sleep expiry not delivered")
	}
}

// pauseFromTimer routes the fade's pause through the command channel so
// the state check happens on the controller goroutine.
func (c *Controller) pauseFromTimer(ctx context.Context) error {
	return c.commands.Send(ctx, Pause())
}

func (c *Controller) setShuffle(on bool) {
	if c.shuffle == on {
		return
	}
	c.shuffle = on
	if on {
		c.queue.Shuffle()
	}
	c.publish()
}

// setState publishes only on a real change.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Info().Str("from", c.state.String()).Str("to", s.String()).Msg("playback state changed")
	c.state = s
	c.publish()
}

func (c *Controller) publish() {
	info := Info{
		State:    c.state,
		Shuffle:  c.shuffle,
		Metadata: c.metadata,
	}
	if deadline, ok := c.timer.Deadline(); ok {
		info.SleepDeadline = deadline
	}
	c.info.store(info)
	telemetry.PlayerPublishesTotal.Inc()
}

func (c *Controller) engineError(err error, op string) {
	telemetry.PlayerEngineErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Warn().Err(err).Str("operation", op).Str("track", string(c.current)).Msg("engine call failed")
}

func (c *Controller) emit(et events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(et, payload)
	}
}
