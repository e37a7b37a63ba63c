/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/samber/lo"

	"github.com/wdudokvanheel/care-chords/internal/engine"
	"github.com/wdudokvanheel/care-chords/internal/player"
)

// DirectoryResolver treats a sub-directory of the media root as a playlist
// of its audio files, in name order.
type DirectoryResolver struct {
	Root string
}

// Resolve lists the audio files directly inside Root/id.
func (r DirectoryResolver) Resolve(ctx context.Context, id string) ([]player.TrackID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := path.Clean("/" + filepath.ToSlash(id))[1:]
	if rel == "" {
		return nil, fmt.Errorf("%w: %q", ErrPlaylistNotFound, id)
	}

	entries, err := os.ReadDir(filepath.Join(r.Root, filepath.FromSlash(rel)))
	// A plain file is not a playlist.
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read playlist directory %s: %w", id, err)
	}

	audio := lo.Filter(entries, func(e fs.DirEntry, _ int) bool {
		return e.Type().IsRegular() && engine.IsAudioFile(e.Name())
	})
	return lo.Map(audio, func(e fs.DirEntry, _ int) player.TrackID {
		return player.TrackID(path.Join(rel, e.Name()))
	}), nil
}

// Chain tries resolvers in order, moving on when one does not know the id.
type Chain []player.Resolver

// Resolve returns the first successful resolution.
func (c Chain) Resolve(ctx context.Context, id string) ([]player.TrackID, error) {
	for _, r := range c {
		tracks, err := r.Resolve(ctx, id)
		if errors.Is(err, ErrPlaylistNotFound) {
			continue
		}
		return tracks, err
	}
	return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
}
