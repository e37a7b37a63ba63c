/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

// keepAliveInterval spaces SSE comments and websocket pings.
var keepAliveInterval = 15 * time.Second

var artworkTypes = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.Info())
}

// watch yields the current snapshot, then every change whose JSON differs
// from the last one sent. The channel closes when ctx ends or the
// controller stops.
func (a *API) watch(ctx context.Context) <-chan []byte {
	out := make(chan []byte)
	reader := a.player.Subscribe()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-a.player.Done():
		case <-ctx.Done():
		}
		cancel()
	}()

	go func() {
		defer close(out)
		defer cancel()

		var last []byte
		info := reader.Load()
		for {
			data, err := json.Marshal(info)
			if err != nil {
				a.logger.Error().Err(err).Msg("encode status failed")
				return
			}
			if string(data) != string(last) {
				last = data
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			}

			info, err = reader.Next(ctx)
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (a *API) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn().Err(err).Msg("status stream not flushable")
		return
	}

	telemetry.APIStreamSubscribers.WithLabelValues("sse").Inc()
	defer telemetry.APIStreamSubscribers.WithLabelValues("sse").Dec()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	updates := a.watch(r.Context())
	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (a *API) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIStreamSubscribers.WithLabelValues("websocket").Inc()
	defer telemetry.APIStreamSubscribers.WithLabelValues("websocket").Dec()

	// Clients only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	updates := a.watch(ctx)
	for {
		select {
		case data, ok := <-updates:
			if !ok {
				conn.Close(ws.StatusNormalClosure, "status stream ended")
				return
			}
			if err := conn.Write(ctx, ws.MessageText, data); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (a *API) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	if a.playlists == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	list, err := a.playlists.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list playlists failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleArtwork serves cover images from the media root.
func (a *API) handleArtwork(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if !artworkTypes[strings.ToLower(filepath.Ext(rel))] {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	http.ServeFile(w, r, filepath.Join(a.mediaRoot, filepath.Clean("/"+rel)))
}
