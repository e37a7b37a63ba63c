/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	"github.com/samber/lo"
)

var (
	// ErrTrackNotFound is returned when a track id has no file.
	ErrTrackNotFound = errors.New("track not found")
	// ErrUnsupportedFormat is returned for files beep cannot decode here.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// AudioExtensions lists the file types the engine can decode.
var AudioExtensions = []string{".mp3", ".wav"}

// IsAudioFile reports whether name has a decodable extension.
func IsAudioFile(name string) bool {
	return lo.Contains(AudioExtensions, strings.ToLower(filepath.Ext(name)))
}

// Open decodes the audio file at path.
func Open(path string) (beep.StreamSeekCloser, beep.Format, error) {
	if !IsAudioFile(path) {
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrTrackNotFound, path)
		}
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	case ".wav":
		stream, format, err = wav.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return stream, format, nil
}

// OpenLoop decodes path and repeats it forever. It feeds the ambient branch.
func OpenLoop(path string) (beep.Streamer, beep.Format, error) {
	stream, format, err := Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	return beep.Loop(-1, stream), format, nil
}

// resolvePath maps a track id onto a file below root. Ids cannot escape root.
func resolvePath(root, id string) string {
	return filepath.Join(root, filepath.Clean("/"+id))
}
