/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !((linux && cgo) || windows || darwin)

package output

import (
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
)

// DeviceAvailable indicates whether sound card playback is supported in this build.
// The speaker needs cgo on linux.
const DeviceAvailable = false

func newSpeaker(cfg Config, src beep.Streamer, logger zerolog.Logger) Output {
	return NewDrain(cfg, src, logger)
}
