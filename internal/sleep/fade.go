/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sleep

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// FadeConfig shapes the fade-out that runs when the timer expires.
type FadeConfig struct {
	Steps        int           // volume steps from the captured level to silence
	StepInterval time.Duration // time between steps
	PauseDelay   time.Duration // silence before playback is paused
	RestoreDelay time.Duration // grace period before the volume comes back
}

// DefaultFadeConfig fades over 50 seconds in 1% steps.
func DefaultFadeConfig() FadeConfig {
	return FadeConfig{
		Steps:        100,
		StepInterval: 500 * time.Millisecond,
		PauseDelay:   time.Second,
		RestoreDelay: 5 * time.Second,
	}
}

// Fade returns an Action that lowers the volume linearly to zero, pauses
// playback through pause, waits, and restores the captured volume. It
// returns as soon as ctx is cancelled; the Timer restores the volume then.
func Fade(cfg FadeConfig, pause func(context.Context) error, logger zerolog.Logger) Action {
	return func(ctx context.Context, volume VolumeControl, initial float64) {
		logger.Info().Int("steps", cfg.Steps).Msg("sleep fade started")

		for i := 1; i <= cfg.Steps; i++ {
			volume.SetVolume(initial * float64(cfg.Steps-i) / float64(cfg.Steps))
			if !wait(ctx, cfg.StepInterval) {
				return
			}
		}

		if !wait(ctx, cfg.PauseDelay) {
			return
		}
		if err := pause(ctx); err != nil {
			logger.Warn().Err(err).Msg("sleep fade could not pause playback")
		}

		if !wait(ctx, cfg.RestoreDelay) {
			return
		}
		volume.SetVolume(initial)
		logger.Info().Float64("volume", initial).Msg("sleep fade complete")
	}
}

// wait sleeps for d and reports whether ctx is still live.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
