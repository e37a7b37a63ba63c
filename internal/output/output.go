/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package output plays the mixed graph in real time, either on the local
// sound card or, where no device is available, through a paced drain.
package output

import (
	"context"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
)

// Output consumes a streamer at its sample rate until ctx is cancelled.
type Output interface {
	Run(ctx context.Context) error
}

// Config selects and sizes the output.
type Config struct {
	SampleRate beep.SampleRate
	// Device plays on the sound card when the build supports one.
	Device bool
	// Latency is the device buffer, and the drain's tick.
	Latency time.Duration
}

// DefaultLatency matches a 100ms device buffer.
const DefaultLatency = 100 * time.Millisecond

// New picks the speaker when requested and available, otherwise a drain.
func New(cfg Config, src beep.Streamer, logger zerolog.Logger) Output {
	if cfg.Latency <= 0 {
		cfg.Latency = DefaultLatency
	}
	logger = logger.With().Str("component", "output").Logger()

	if cfg.Device && DeviceAvailable {
		return newSpeaker(cfg, src, logger)
	}
	if cfg.Device {
		logger.Warn().Msg("audio device not supported in this build, using paced drain")
	}
	return NewDrain(cfg, src, logger)
}

// Drain pulls the streamer at real-time pace and discards the audio. It
// keeps the graph's branches flowing when nothing is listening locally.
type Drain struct {
	cfg    Config
	src    beep.Streamer
	logger zerolog.Logger
	pulled uint64
	now    func() time.Time
}

// NewDrain creates a paced drain over src.
func NewDrain(cfg Config, src beep.Streamer, logger zerolog.Logger) *Drain {
	if cfg.Latency <= 0 {
		cfg.Latency = DefaultLatency
	}
	return &Drain{cfg: cfg, src: src, logger: logger, now: time.Now}
}

// Run pulls as many frames as wall time allows on every tick.
func (d *Drain) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Latency)
	defer ticker.Stop()

	buf := make([][2]float64, d.cfg.SampleRate.N(d.cfg.Latency))
	start := d.now()
	d.logger.Info().Dur("tick", d.cfg.Latency).Msg("paced drain started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug().Uint64("frames", d.pulled).Msg("paced drain stopped")
			return nil
		case <-ticker.C:
			d.pull(buf, uint64(d.cfg.SampleRate.N(d.now().Sub(start))))
		}
	}
}

// pull streams until target frames have been consumed in total.
func (d *Drain) pull(buf [][2]float64, target uint64) {
	for d.pulled < target {
		want := min(uint64(len(buf)), target-d.pulled)
		n, ok := d.src.Stream(buf[:want])
		d.pulled += uint64(n)
		if !ok || n == 0 {
			return
		}
	}
}
