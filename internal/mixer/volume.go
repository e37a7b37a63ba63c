/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"math"
	"sync/atomic"
)

// Volume is the shared linear gain applied to the music branch. The sleep
// timer writes it; the graph reads it on every buffer.
type Volume struct {
	bits atomic.Uint64
}

// NewVolume returns a cell holding level.
func NewVolume(level float64) *Volume {
	v := &Volume{}
	v.SetVolume(level)
	return v
}

// Volume returns the current level in [0, 1].
func (v *Volume) Volume() float64 {
	return math.Float64frombits(v.bits.Load())
}

// SetVolume stores level clamped to [0, 1].
func (v *Volume) SetVolume(level float64) {
	switch {
	case math.IsNaN(level), level < 0:
		level = 0
	case level > 1:
		level = 1
	}
	v.bits.Store(math.Float64bits(level))
}
