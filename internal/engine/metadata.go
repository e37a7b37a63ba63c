/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/wdudokvanheel/care-chords/internal/player"
)

// artworkNames are the cover files looked up next to a track.
var artworkNames = []string{"cover.jpg", "cover.png", "folder.jpg", "front.jpg"}

// ArtworkPrefix is where the control surface serves media-root artwork.
const ArtworkPrefix = "/artwork/"

// trackMetadata derives metadata from an "Artist - Title.ext" file name and
// a cover image in the same directory.
func trackMetadata(root string, id player.TrackID) player.Metadata {
	base := filepath.Base(string(id))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	md := player.Metadata{Title: name}
	if artist, title, ok := strings.Cut(name, " - "); ok {
		md.Artist = strings.TrimSpace(artist)
		md.Title = strings.TrimSpace(title)
	}

	dir := filepath.Dir(filepath.Clean("/" + string(id)))
	cover, found := lo.Find(artworkNames, func(n string) bool {
		_, err := os.Stat(filepath.Join(root, dir, n))
		return err == nil
	})
	if found {
		md.ArtworkURL = ArtworkPrefix + strings.TrimPrefix(filepath.ToSlash(filepath.Join(dir, cover)), "/")
	}
	return md
}
