/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build (linux && cgo) || windows || darwin

package output

import (
	"context"
	"fmt"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

// DeviceAvailable indicates whether sound card playback is supported in this build.
const DeviceAvailable = true

type speakerOutput struct {
	cfg    Config
	src    beep.Streamer
	logger zerolog.Logger
}

func newSpeaker(cfg Config, src beep.Streamer, logger zerolog.Logger) Output {
	return &speakerOutput{cfg: cfg, src: src, logger: logger}
}

func (s *speakerOutput) Run(ctx context.Context) error {
	if err := speaker.Init(s.cfg.SampleRate, s.cfg.SampleRate.N(s.cfg.Latency)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speaker.Play(s.src)
	s.logger.Info().Int("sample_rate", int(s.cfg.SampleRate)).Dur("latency", s.cfg.Latency).Msg("speaker output started")

	<-ctx.Done()

	speaker.Clear()
	speaker.Close()
	s.logger.Debug().Msg("speaker output stopped")
	return nil
}
