/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer implements the real-time mixing graph: a selectable music
// branch (bridged audio or silence) attenuated by a shared volume, mixed
// with an optional ambient feed.
package mixer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

// Channels is the number of interleaved channels carried by frames.
const Channels = 2

// bytesPerSample matches the F64LE caps of the bridged stream.
const bytesPerSample = 8

// ErrGraphClosed is returned when pushing into a graph that has ended.
var ErrGraphClosed = errors.New("mixing graph closed")

// Branch selects the input of the music branch.
type Branch int

const (
	BranchLive Branch = iota
	BranchSilence
)

func (b Branch) String() string {
	switch b {
	case BranchLive:
		return "live"
	case BranchSilence:
		return "silence"
	default:
		return fmt.Sprintf("branch(%d)", int(b))
	}
}

// Frame is a chunk of interleaved stereo samples with its presentation
// timestamp and duration in nanoseconds.
type Frame struct {
	PTS      uint64
	Duration uint64
	Samples  []float64
}

// Config holds graph parameters.
type Config struct {
	SampleRate     beep.SampleRate
	BufferMaxBytes int
	Initial        Branch
}

// Graph is the mixing graph. The live queue is bounded in bytes: PushFrame
// blocks while it is full, and it is only drained while the live branch is
// selected.
type Graph struct {
	mu       sync.Mutex
	space    *sync.Cond
	live     []float64
	maxBytes int
	active   Branch
	eos      bool
	closed   bool
	lastPTS  uint64

	rate   beep.SampleRate
	volume *Volume
	start  time.Time
	mixer  *beep.Mixer
	logger zerolog.Logger
}

// New creates a graph whose music branch is attenuated by volume.
func New(cfg Config, volume *Volume, logger zerolog.Logger) *Graph {
	g := &Graph{
		maxBytes: cfg.BufferMaxBytes,
		active:   cfg.Initial,
		rate:     cfg.SampleRate,
		volume:   volume,
		start:    time.Now(),
		mixer:    &beep.Mixer{},
		logger:   logger.With().Str("component", "mixer").Logger(),
	}
	g.space = sync.NewCond(&g.mu)
	g.mixer.Add(&musicBranch{g: g})
	return g
}

// SampleRate returns the output rate of the graph.
func (g *Graph) SampleRate() beep.SampleRate {
	return g.rate
}

// Streamer returns the mixed output. It never ends while the graph is open.
func (g *Graph) Streamer() beep.Streamer {
	return g.mixer
}

// AddAmbient mixes s into the output, resampling from format if needed.
// It must be called before the output starts pulling from Streamer.
func (g *Graph) AddAmbient(s beep.Streamer, format beep.Format) {
	if format.SampleRate != g.rate {
		s = beep.Resample(4, format.SampleRate, g.rate, s)
	}
	g.mixer.Add(s)
	g.logger.Info().Int("source_rate", int(format.SampleRate)).Msg("ambient branch attached")
}

// NowNanos reports the graph clock: nanoseconds since the graph was created.
func (g *Graph) NowNanos() uint64 {
	return uint64(time.Since(g.start))
}

// PushFrame queues f on the live branch, blocking while the queue is at or
// above capacity.
func (g *Graph) PushFrame(f Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for !g.eos && !g.closed && len(g.live)*bytesPerSample >= g.maxBytes {
		g.space.Wait()
	}
	if g.eos || g.closed {
		return ErrGraphClosed
	}

	g.live = append(g.live, f.Samples...)
	g.lastPTS = f.PTS
	g.observeLocked()
	return nil
}

// EndOfStream marks the live input finished. Queued samples still play out.
func (g *Graph) EndOfStream() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.eos {
		return
	}
	g.eos = true
	g.space.Broadcast()
	g.logger.Info().Uint64("last_pts", g.lastPTS).Msg("live branch reached end of stream")
}

// Close releases any blocked pushers. The output keeps producing silence.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.live = nil
	g.space.Broadcast()
}

// CurrentBufferOccupancyBytes returns the bytes queued on the live branch.
func (g *Graph) CurrentBufferOccupancyBytes() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, ErrGraphClosed
	}
	return uint64(len(g.live) * bytesPerSample), nil
}

// MaxBufferBytes returns the live branch capacity.
func (g *Graph) MaxBufferBytes() (uint64, error) {
	if g.maxBytes <= 0 {
		return 0, fmt.Errorf("invalid buffer capacity %d", g.maxBytes)
	}
	return uint64(g.maxBytes), nil
}

// SetActiveBranch selects the music branch input.
func (g *Graph) SetActiveBranch(b Branch) error {
	if b != BranchLive && b != BranchSilence {
		return fmt.Errorf("unknown branch %d", int(b))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = b
	return nil
}

// ActiveBranch returns the selected music branch input.
func (g *Graph) ActiveBranch() Branch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Graph) observeLocked() {
	if g.maxBytes > 0 {
		telemetry.BufferOccupancyRatio.Set(float64(len(g.live)*bytesPerSample) / float64(g.maxBytes))
	}
}

// fill writes the next len(samples) frames of the music branch.
func (g *Graph) fill(samples [][2]float64) {
	g.mu.Lock()
	n := 0
	if g.active == BranchLive {
		avail := len(g.live) / Channels
		n = min(avail, len(samples))
		for i := 0; i < n; i++ {
			samples[i][0] = g.live[i*Channels]
			samples[i][1] = g.live[i*Channels+1]
		}
		if n > 0 {
			g.live = g.live[n*Channels:]
			g.observeLocked()
			g.space.Broadcast()
		}
	}
	g.mu.Unlock()

	// Underrun and the silence branch both produce zeros.
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	gain := g.volume.Volume()
	if gain == 1 {
		return
	}
	for i := 0; i < n; i++ {
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
}

// musicBranch is the selector plus attenuation stage as a beep.Streamer.
type musicBranch struct {
	g *Graph
}

func (m *musicBranch) Stream(samples [][2]float64) (int, bool) {
	m.g.fill(samples)
	return len(samples), true
}

func (m *musicBranch) Err() error {
	return nil
}
