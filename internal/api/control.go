/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/auth"
	"github.com/wdudokvanheel/care-chords/internal/player"
	"github.com/wdudokvanheel/care-chords/internal/playlist"
)

// shuffleSettle bounds how long /shuffle waits for the flag to be published.
const shuffleSettle = 500 * time.Millisecond

type playlistRequest struct {
	URI string `json:"uri"`
}

type sleepRequest struct {
	Timer *uint64 `json:"timer"`
}

type shuffleRequest struct {
	Shuffle *bool `json:"shuffle"`
}

func (a *API) handleLoadPlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	id := playlist.NormalizeID(req.URI)
	if id == "" {
		writeError(w, http.StatusBadRequest, "uri_required")
		return
	}

	if !a.send(w, r, player.LoadPlaylist(id)) {
		return
	}
	a.logRemote(r).Str("playlist", id).Msg("playlist requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !a.send(w, r, player.Play()) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if !a.send(w, r, player.Pause()) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	if !a.send(w, r, player.Next()) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *API) handleSleep(w http.ResponseWriter, r *http.Request) {
	var req sleepRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Timer == nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if !a.send(w, r, player.SetSleepTimer(*req.Timer)) {
		return
	}
	a.logRemote(r).Uint64("seconds", *req.Timer).Msg("sleep timer requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleShuffle replies with the snapshot that carries the new flag, or the
// latest one if the controller has not published it in time.
func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var req shuffleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Shuffle == nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	want := *req.Shuffle

	reader := a.player.Subscribe()
	if !a.send(w, r, player.SetShuffle(want)) {
		return
	}

	info := reader.Load()
	ctx, cancel := context.WithTimeout(r.Context(), shuffleSettle)
	defer cancel()
	for info.Shuffle != want {
		next, err := reader.Next(ctx)
		if err != nil {
			info = a.player.Info()
			break
		}
		info = next
	}

	writeJSON(w, http.StatusOK, info)
}

func (a *API) logRemote(r *http.Request) *zerolog.Event {
	ev := a.logger.Info().Str("remote", r.RemoteAddr)
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		ev = ev.Str("client", claims.ClientID)
	}
	return ev
}
