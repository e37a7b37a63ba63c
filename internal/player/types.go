/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
)

// TrackID identifies a track to the decoding engine.
type TrackID string

// State is the playback state as reported by the engine.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Metadata describes the current track.
type Metadata struct {
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	ArtworkURL string `json:"artwork_url"`
}

// CommandKind enumerates controller commands.
type CommandKind int

const (
	CommandLoadPlaylist CommandKind = iota
	CommandPlay
	CommandPause
	CommandNext
	CommandSetSleepTimer
	CommandSetShuffle

	// commandSleepExpired is sent by the sleep timer when its deadline passes.
	commandSleepExpired
)

func (k CommandKind) String() string {
	switch k {
	case CommandLoadPlaylist:
		return "load_playlist"
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandNext:
		return "next"
	case CommandSetSleepTimer:
		return "set_sleep_timer"
	case CommandSetShuffle:
		return "set_shuffle"
	case commandSleepExpired:
		return "sleep_expired"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a request to the controller. Only the fields of its kind are set.
type Command struct {
	Kind       CommandKind
	PlaylistID string
	Seconds    uint64
	Shuffle    bool
}

func LoadPlaylist(id string) Command   { return Command{Kind: CommandLoadPlaylist, PlaylistID: id} }
func Play() Command                    { return Command{Kind: CommandPlay} }
func Pause() Command                   { return Command{Kind: CommandPause} }
func Next() Command                    { return Command{Kind: CommandNext} }
func SetSleepTimer(sec uint64) Command { return Command{Kind: CommandSetSleepTimer, Seconds: sec} }
func SetShuffle(on bool) Command       { return Command{Kind: CommandSetShuffle, Shuffle: on} }

// EventKind enumerates engine events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventPaused
	EventStopped
	EventTrackEnded
	EventTrackChanged
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventStopped:
		return "stopped"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackChanged:
		return "track_changed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a lifecycle notification from the decoding engine.
type Event struct {
	Kind       EventKind
	Track      TrackID
	PositionMs uint32
	Metadata   Metadata
}

// Engine is the decoding engine as seen by the controller.
type Engine interface {
	LoadTrack(ctx context.Context, id TrackID, autostart bool, startPositionMs uint32) error
	Play() error
	Pause() error
	Events() <-chan Event
}

// Stopper is implemented by engines that can halt output when the queue
// runs dry.
type Stopper interface {
	Stop() error
}

// Resolver turns a playlist id into its ordered tracks.
type Resolver interface {
	Resolve(ctx context.Context, playlistID string) ([]TrackID, error)
}
