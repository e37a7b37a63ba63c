/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package failover switches the music branch to silence when the bridged
// audio buffer runs low, and back once it has refilled.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/events"
	"github.com/wdudokvanheel/care-chords/internal/mixer"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

const (
	// DefaultInterval is the occupancy poll period.
	DefaultInterval = 500 * time.Millisecond

	// lowWaterPercent: below this the live branch is starved.
	lowWaterPercent = 10
)

// ErrNoCapacity is reported when the graph claims a zero-size buffer.
var ErrNoCapacity = errors.New("buffer has no capacity")

// Buffer reports occupancy of the live branch.
type Buffer interface {
	CurrentBufferOccupancyBytes() (uint64, error)
	MaxBufferBytes() (uint64, error)
}

// Switcher selects the active music branch.
type Switcher interface {
	SetActiveBranch(mixer.Branch) error
}

// Monitor polls a Buffer and flips a Switcher at the hysteresis bounds.
type Monitor struct {
	buffer   Buffer
	switcher Switcher
	interval time.Duration
	bus      *events.Bus
	logger   zerolog.Logger

	mu     sync.Mutex
	active mixer.Branch

	// Only touched by the poll loop.
	failing bool
}

// NewMonitor creates a monitor starting on initial. bus may be nil.
func NewMonitor(buffer Buffer, switcher Switcher, initial mixer.Branch, interval time.Duration, bus *events.Bus, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		buffer:   buffer,
		switcher: switcher,
		interval: interval,
		bus:      bus,
		active:   initial,
		logger:   logger.With().Str("component", "failover").Logger(),
	}
}

// Run applies the initial branch and polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if err := m.switcher.SetActiveBranch(m.Active()); err != nil {
		m.logger.Warn().Err(err).Msg("failed to apply initial branch")
	}
	m.logger.Info().Dur("interval", m.interval).Str("branch", m.Active().String()).Msg("failover monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("failover monitor stopped")
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check samples occupancy once and switches branch if a bound is crossed.
func (m *Monitor) Check() {
	current, max, err := m.sample()
	if err != nil {
		if !m.failing {
			m.logger.Warn().Err(err).Msg("buffer introspection failed, skipping")
			m.failing = true
		}
		return
	}
	if m.failing {
		m.logger.Info().Msg("buffer introspection recovered")
		m.failing = false
	}

	var target mixer.Branch
	switch {
	case current < max*lowWaterPercent/100:
		target = mixer.BranchSilence
	case current >= max:
		target = mixer.BranchLive
	default:
		return
	}

	m.swap(target, current, max)
}

func (m *Monitor) sample() (uint64, uint64, error) {
	current, err := m.buffer.CurrentBufferOccupancyBytes()
	if err != nil {
		return 0, 0, fmt.Errorf("current level: %w", err)
	}
	max, err := m.buffer.MaxBufferBytes()
	if err != nil {
		return 0, 0, fmt.Errorf("max level: %w", err)
	}
	if max == 0 {
		return 0, 0, ErrNoCapacity
	}
	return current, max, nil
}

// swap moves to target if the monitor is on the other branch.
func (m *Monitor) swap(target mixer.Branch, current, max uint64) {
	m.mu.Lock()
	if m.active == target {
		m.mu.Unlock()
		return
	}
	if err := m.switcher.SetActiveBranch(target); err != nil {
		m.mu.Unlock()
		m.logger.Warn().Err(err).Str("to", target.String()).Msg("branch switch failed")
		return
	}
	from := m.active
	m.active = target
	m.mu.Unlock()

	telemetry.FailoverSwitchesTotal.WithLabelValues(target.String()).Inc()
	m.logger.Info().
		Str("from", from.String()).
		Str("to", target.String()).
		Uint64("current_bytes", current).
		Uint64("max_bytes", max).
		Msg("switched music branch")

	if m.bus != nil {
		m.bus.Publish(events.EventFailoverSwitched, events.Payload{
			"from":          from.String(),
			"to":            target.String(),
			"current_bytes": current,
			"max_bytes":     max,
		})
	}
}

// Active returns the branch the monitor believes is selected.
func (m *Monitor) Active() mixer.Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
