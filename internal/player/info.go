/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"
)

// Info is an immutable snapshot of what the player is doing.
type Info struct {
	State         State
	Shuffle       bool
	Metadata      *Metadata
	SleepDeadline time.Time // zero when no sleep timer is pending
}

// SleepRemaining returns the time left on the sleep timer at now.
func (i Info) SleepRemaining(now time.Time) (time.Duration, bool) {
	if i.SleepDeadline.IsZero() {
		return 0, false
	}
	left := i.SleepDeadline.Sub(now)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

type infoJSON struct {
	Status     string    `json:"status"`
	Shuffle    bool      `json:"shuffle"`
	Metadata   *Metadata `json:"metadata,omitempty"`
	SleepTimer *uint64   `json:"sleep_timer,omitempty"`
}

// MarshalJSON renders the wire form. sleep_timer is whole seconds
// remaining, rounded up, computed at marshal time.
func (i Info) MarshalJSON() ([]byte, error) {
	out := infoJSON{
		Status:   i.State.String(),
		Shuffle:  i.Shuffle,
		Metadata: i.Metadata,
	}
	if left, ok := i.SleepRemaining(time.Now()); ok {
		secs := uint64(math.Ceil(left.Seconds()))
		out.SleepTimer = &secs
	}
	return json.Marshal(out)
}

// infoCell is a single-writer latest-value cell. Store never waits on
// readers; readers that fall behind only see the newest value.
type infoCell struct {
	mu      sync.Mutex
	info    Info
	version uint64
	changed chan struct{}
}

func newInfoCell(initial Info) *infoCell {
	return &infoCell{info: initial, changed: make(chan struct{})}
}

func (c *infoCell) store(info Info) {
	c.mu.Lock()
	c.info = info
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func (c *infoCell) load() (Info, uint64, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.version, c.changed
}

// InfoReader reads published snapshots. Each reader tracks what it has
// seen; it is not safe for concurrent use.
type InfoReader struct {
	cell *infoCell
	seen uint64
}

// Load returns the current snapshot and marks it seen.
func (r *InfoReader) Load() Info {
	info, version, _ := r.cell.load()
	r.seen = version
	return info
}

// Next waits for a snapshot newer than the last one seen.
func (r *InfoReader) Next(ctx context.Context) (Info, error) {
	for {
		info, version, changed := r.cell.load()
		if version != r.seen {
			r.seen = version
			return info, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Info{}, ctx.Err()
		}
	}
}
