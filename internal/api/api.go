/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the remote control surface: playback commands, status
// snapshots and status streams over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/auth"
	"github.com/wdudokvanheel/care-chords/internal/engine"
	"github.com/wdudokvanheel/care-chords/internal/player"
	"github.com/wdudokvanheel/care-chords/internal/playlist"
)

// Player is the playback controller as seen by the API.
type Player interface {
	Commands() *player.Commands
	Subscribe() *player.InfoReader
	Info() player.Info
	Done() <-chan struct{}
}

// PlaylistLister lists stored playlists.
type PlaylistLister interface {
	List(ctx context.Context) ([]playlist.Summary, error)
}

// API exposes HTTP handlers.
type API struct {
	player    Player
	playlists PlaylistLister
	mediaRoot string
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper. playlists may be nil.
func New(p Player, playlists PlaylistLister, mediaRoot string, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		player:    p,
		playlists: playlists,
		mediaRoot: mediaRoot,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Get("/status", a.handleStatus)
	r.Get("/status_stream", a.handleStatusStream)
	r.Get("/ws/status", a.handleStatusSocket)
	r.Get("/playlists", a.handlePlaylists)
	r.Get(engine.ArtworkPrefix+"*", a.handleArtwork)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(a.jwtSecret))

		pr.Post("/playlist", a.handleLoadPlaylist)
		pr.Post("/play", a.handlePlay)
		pr.Post("/pause", a.handlePause)
		pr.Post("/next", a.handleNext)
		pr.Post("/sleep", a.handleSleep)
		pr.Post("/shuffle", a.handleShuffle)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.player.Done():
		writeError(w, http.StatusServiceUnavailable, "player_unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// send hands cmd to the controller and reports failures to the client.
func (a *API) send(w http.ResponseWriter, r *http.Request, cmd player.Command) bool {
	err := a.player.Commands().Send(r.Context(), cmd)
	if err == nil {
		return true
	}

	if errors.Is(err, player.ErrControllerClosed) {
		a.logger.Warn().Str("command", cmd.Kind.String()).Msg("command rejected, controller closed")
		writeError(w, http.StatusServiceUnavailable, "player_unavailable")
		return false
	}
	// The client went away while the channel was full.
	a.logger.Debug().Err(err).Str("command", cmd.Kind.String()).Msg("command abandoned")
	writeError(w, http.StatusServiceUnavailable, "request_cancelled")
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
